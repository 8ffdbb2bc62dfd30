// Package transcode resizes source images and re-encodes them in the format
// a viewer asked for.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat reports a target format no encoder is registered for.
	ErrUnsupportedFormat = errors.New("transcode: unsupported format")
	// ErrDecode reports source bytes that are not a decodable image.
	ErrDecode = errors.New("transcode: decode failed")
)

// Transcoder resizes src to exactly width x height and encodes it as format.
// Both sides must be positive.
type Transcoder interface {
	Transcode(ctx context.Context, src []byte, width, height int, format string) ([]byte, error)
}

// ImagingTranscoder implements Transcoder with disintegration/imaging. WebP
// output goes through a pure-Go encoder.
type ImagingTranscoder struct {
	filter      imaging.ResampleFilter
	jpegQuality int
}

// Option customizes an ImagingTranscoder.
type Option func(*ImagingTranscoder)

// WithFilter overrides the resampling filter (Lanczos by default).
func WithFilter(filter imaging.ResampleFilter) Option {
	return func(t *ImagingTranscoder) { t.filter = filter }
}

// WithJPEGQuality sets the JPEG encoder quality, 1-100.
func WithJPEGQuality(quality int) Option {
	return func(t *ImagingTranscoder) {
		if quality > 0 && quality <= 100 {
			t.jpegQuality = quality
		}
	}
}

// NewImagingTranscoder returns a transcoder with the given options applied.
func NewImagingTranscoder(opts ...Option) *ImagingTranscoder {
	t := &ImagingTranscoder{filter: imaging.Lanczos, jpegQuality: 85}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Supported reports whether format can be produced.
func Supported(format string) bool {
	format = Normalize(format)
	if format == "webp" {
		return true
	}
	_, err := imaging.FormatFromExtension(format)
	return err == nil
}

// Transcode implements Transcoder.
func (t *ImagingTranscoder) Transcode(ctx context.Context, src []byte, width, height int, format string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("transcode: invalid size %dx%d", width, height)
	}
	format = Normalize(format)
	if !Supported(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	resized := imaging.Resize(img, width, height, t.filter)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.encode(resized, format)
}

func (t *ImagingTranscoder) encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	if format == "webp" {
		if err := nativewebp.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("transcode: encode webp: %w", err)
		}
		return buf.Bytes(), nil
	}

	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := imaging.Encode(&buf, img, f, imaging.JPEGQuality(t.jpegQuality)); err != nil {
		return nil, fmt.Errorf("transcode: encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
