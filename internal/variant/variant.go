// Package variant implements the storage-key grammar shared by the viewer
// request rewriter and the origin response materializer:
//
//	[prefix/]<width>x<height>/<format>/<basename>.<ext>
package variant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxDimension bounds width and height when no explicit limit is given.
const DefaultMaxDimension = 4096

var (
	// ErrMalformed reports a key that does not follow the variant grammar.
	ErrMalformed = errors.New("variant: malformed path")
	// ErrDimensions reports an invalid width/height pair.
	ErrDimensions = errors.New("variant: invalid dimensions")
)

// Path is the parsed form of a variant key. HasPrefix distinguishes the
// prefixed shape from the bucket-root shape.
type Path struct {
	Prefix    string
	HasPrefix bool
	Width     int
	Height    int
	Format    string
	Name      string
}

// Original is the location of an unmodified source asset.
type Original struct {
	Prefix    string
	Basename  string
	Extension string
}

// Name returns basename.ext.
func (o Original) Name() string {
	return o.Basename + "." + o.Extension
}

// Key returns the storage key of the original asset, without a leading slash.
func (o Original) Key() string {
	if o.Prefix == "" {
		return o.Name()
	}
	return o.Prefix + "/" + o.Name()
}

// SplitOriginal splits a request URI of the shape <anything>/<basename>.<ext>.
// A leading slash is tolerated and dropped from the prefix.
func SplitOriginal(uri string) (Original, bool) {
	slash := strings.LastIndex(uri, "/")
	if slash < 0 {
		return Original{}, false
	}
	file := uri[slash+1:]
	dot := strings.LastIndex(file, ".")
	if dot <= 0 || dot == len(file)-1 {
		return Original{}, false
	}
	return Original{
		Prefix:    strings.TrimPrefix(uri[:slash], "/"),
		Basename:  file[:dot],
		Extension: file[dot+1:],
	}, true
}

// New builds a Path for the given original asset.
func New(orig Original, width, height int, format string) Path {
	return Path{
		Prefix:    orig.Prefix,
		HasPrefix: orig.Prefix != "",
		Width:     width,
		Height:    height,
		Format:    format,
		Name:      orig.Name(),
	}
}

// Key renders the variant key without a leading slash.
func (p Path) Key() string {
	var sb strings.Builder
	if p.HasPrefix {
		sb.WriteString(p.Prefix)
		sb.WriteByte('/')
	}
	sb.WriteString(p.Dimensions())
	sb.WriteByte('/')
	sb.WriteString(p.Format)
	sb.WriteByte('/')
	sb.WriteString(p.Name)
	return sb.String()
}

// URI renders the variant key as a request URI.
func (p Path) URI() string {
	return "/" + p.Key()
}

// Dimensions renders the <width>x<height> segment.
func (p Path) Dimensions() string {
	return strconv.Itoa(p.Width) + "x" + strconv.Itoa(p.Height)
}

// OriginalKey recovers the key of the source asset.
func (p Path) OriginalKey() string {
	if !p.HasPrefix {
		return p.Name
	}
	return p.Prefix + "/" + p.Name
}

// Extension returns the extension of the original file name.
func (p Path) Extension() string {
	if dot := strings.LastIndex(p.Name, "."); dot >= 0 {
		return p.Name[dot+1:]
	}
	return ""
}

// Parse decodes a variant key. The shape is chosen by segment count: three
// segments are the bucket-root form, more than three carry a prefix.
func Parse(key string) (Path, error) {
	key = strings.TrimPrefix(key, "/")
	segments := strings.Split(key, "/")
	if len(segments) < 3 {
		return Path{}, fmt.Errorf("%w: %q", ErrMalformed, key)
	}
	n := len(segments)
	dims, format, name := segments[n-3], segments[n-2], segments[n-1]
	if format == "" || name == "" {
		return Path{}, fmt.Errorf("%w: %q", ErrMalformed, key)
	}
	width, height, err := ParseDimensions(dims)
	if err != nil {
		return Path{}, fmt.Errorf("%w: %q", err, key)
	}

	p := Path{Width: width, Height: height, Format: format, Name: name}
	if n > 3 {
		p.Prefix = strings.Join(segments[:n-3], "/")
		p.HasPrefix = true
	}
	return p, nil
}

// ParseDimensions decodes a <width>x<height> segment.
func ParseDimensions(segment string) (int, int, error) {
	w, h, ok := strings.Cut(segment, "x")
	if !ok {
		return 0, 0, ErrMalformed
	}
	width, err := parseDigits(w)
	if err != nil {
		return 0, 0, err
	}
	height, err := parseDigits(h)
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// ValidateDimensions checks a requested size against the configured bound.
// Both sides must be positive; variants are always an exact width x height.
func ValidateDimensions(width, height, max int) error {
	if max <= 0 {
		max = DefaultMaxDimension
	}
	switch {
	case width < 1 || height < 1:
		return fmt.Errorf("%w: %dx%d is not a positive size", ErrDimensions, width, height)
	case width > max || height > max:
		return fmt.Errorf("%w: %dx%d exceeds %d", ErrDimensions, width, height, max)
	}
	return nil
}

func parseDigits(s string) (int, error) {
	if s == "" {
		return 0, ErrMalformed
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrMalformed
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDimensions, err)
	}
	return v, nil
}
