// Package rewriter maps viewer requests carrying w/h query parameters onto
// the variant key the CDN should ask its origin for.
package rewriter

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"edgeresize/internal/edge"
	"edgeresize/internal/variant"
)

// WebPToken is matched as a substring of the Accept header.
const WebPToken = "webp"

// DefaultAllowedExtensions lists the source extensions eligible for resizing.
var DefaultAllowedExtensions = []string{"jpg", "jpeg", "png", "gif", "heic", "ico", "webp"}

// Outcome classifies what Rewrite did to a request.
type Outcome string

const (
	OutcomeRewritten   Outcome = "rewritten"
	OutcomePassthrough Outcome = "passthrough"
	OutcomeNotFound    Outcome = "not_found"
)

// Result describes one rewrite. Path is set only for OutcomeRewritten and
// Reason only for OutcomeNotFound.
type Result struct {
	Outcome Outcome
	Path    variant.Path
	Reason  string
}

// Options configures a Rewriter.
type Options struct {
	AllowedExtensions []string
	MaxDimension      int
}

// Rewriter is safe for concurrent use; it holds only immutable settings.
type Rewriter struct {
	allowed      map[string]struct{}
	maxDimension int
}

// New returns a Rewriter. Empty options fall back to the defaults.
func New(opts Options) *Rewriter {
	exts := opts.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	max := opts.MaxDimension
	if max <= 0 {
		max = variant.DefaultMaxDimension
	}
	return &Rewriter{allowed: allowed, maxDimension: max}
}

// Rewrite inspects req and, when a resize was requested, overwrites its URI
// with the variant path. Headers and the query string are never touched. A
// request that cannot be served is annotated with a 404 status and
// otherwise left alone; the annotation does not stop the CDN pipeline.
func (r *Rewriter) Rewrite(req *edge.Request) Result {
	query := req.Query()
	rawW, rawH := query.Get("w"), query.Get("h")

	orig, ok := variant.SplitOriginal(req.URI)
	if !ok {
		return notFound(req, "uri does not name a file")
	}
	if _, ok := r.allowed[strings.ToLower(orig.Extension)]; !ok {
		return notFound(req, fmt.Sprintf("extension %q is not allowed", orig.Extension))
	}
	if rawW == "" && rawH == "" {
		return Result{Outcome: OutcomePassthrough}
	}

	width, err := parseDimension(rawW)
	if err != nil {
		return notFound(req, "invalid width: "+err.Error())
	}
	height, err := parseDimension(rawH)
	if err != nil {
		return notFound(req, "invalid height: "+err.Error())
	}
	if err := variant.ValidateDimensions(width, height, r.maxDimension); err != nil {
		return notFound(req, err.Error())
	}

	path := variant.New(orig, width, height, NegotiateFormat(req.Headers.Get("Accept"), orig.Extension))
	req.URI = path.URI()
	return Result{Outcome: OutcomeRewritten, Path: path}
}

// NegotiateFormat returns webp when the Accept header mentions it and the
// original extension otherwise.
func NegotiateFormat(accept, extension string) string {
	if strings.Contains(accept, WebPToken) {
		return WebPToken
	}
	return extension
}

func parseDimension(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing")
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%q is not a positive integer", raw)
		}
	}
	return strconv.Atoi(raw)
}

func notFound(req *edge.Request, reason string) Result {
	req.Status = strconv.Itoa(http.StatusNotFound)
	req.StatusDescription = http.StatusText(http.StatusNotFound)
	return Result{Outcome: OutcomeNotFound, Reason: reason}
}
