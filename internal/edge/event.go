// Package edge models the request and response descriptors a CDN edge
// runtime hands to viewer-request and origin-response hooks.
package edge

import (
	"net/url"
	"strconv"
	"strings"
)

// Event is the envelope delivered to an edge hook.
type Event struct {
	Records []Record `json:"Records"`
}

// Record carries one CDN invocation.
type Record struct {
	CF CloudFront `json:"cf"`
}

// CloudFront holds the descriptors relevant to the trigger point. Response
// is nil for viewer-request events.
type CloudFront struct {
	Config   Config    `json:"config"`
	Request  *Request  `json:"request"`
	Response *Response `json:"response,omitempty"`
}

// Config identifies the distribution that fired the event.
type Config struct {
	DistributionDomainName string `json:"distributionDomainName,omitempty"`
	DistributionID         string `json:"distributionId,omitempty"`
	EventType              string `json:"eventType,omitempty"`
	RequestID              string `json:"requestId,omitempty"`
}

// Header is one value of a header; Key keeps the original casing.
type Header struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// Headers maps lowercase header names to their values.
type Headers map[string][]Header

// Get returns the first value for name, or "".
func (h Headers) Get(name string) string {
	values := h[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}

// Set replaces all values for name.
func (h Headers) Set(name, value string) {
	h[strings.ToLower(name)] = []Header{{Key: name, Value: value}}
}

// Del removes name.
func (h Headers) Del(name string) {
	delete(h, strings.ToLower(name))
}

// Request is the forwarded request. Status and StatusDescription are only
// annotations on a viewer request; the runtime does not short-circuit on them.
type Request struct {
	ClientIP          string  `json:"clientIp,omitempty"`
	Method            string  `json:"method,omitempty"`
	URI               string  `json:"uri"`
	QueryString       string  `json:"querystring"`
	Headers           Headers `json:"headers"`
	Status            string  `json:"status,omitempty"`
	StatusDescription string  `json:"statusDescription,omitempty"`
}

// Query parses the raw query string. Malformed pairs are dropped; ParseQuery
// still returns the ones it could decode.
func (r *Request) Query() url.Values {
	values, _ := url.ParseQuery(r.QueryString)
	return values
}

// Response is the origin response, possibly rewritten into a generated one.
type Response struct {
	Status            string  `json:"status"`
	StatusDescription string  `json:"statusDescription,omitempty"`
	Headers           Headers `json:"headers"`
	Body              string  `json:"body,omitempty"`
	BodyEncoding      string  `json:"bodyEncoding,omitempty"`
}

// StatusCode returns the numeric status, or 0 when it cannot be parsed.
func (r *Response) StatusCode() int {
	code, err := strconv.Atoi(strings.TrimSpace(r.Status))
	if err != nil {
		return 0
	}
	return code
}

// SetStatus sets the status code and description.
func (r *Response) SetStatus(code int, description string) {
	r.Status = strconv.Itoa(code)
	r.StatusDescription = description
}

// Body encodings understood by the runtime.
const (
	BodyEncodingText   = "text"
	BodyEncodingBase64 = "base64"
)

// First returns the first record's descriptors.
func (e *Event) First() (CloudFront, bool) {
	if e == nil || len(e.Records) == 0 {
		return CloudFront{}, false
	}
	return e.Records[0].CF, true
}
