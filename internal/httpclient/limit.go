package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ResponseTooLargeError is returned when a body is larger than the caller is
// willing to buffer. Size is the declared Content-Length when the server sent
// one, otherwise 0.
type ResponseTooLargeError struct {
	Limit int64
	Size  int64
}

func (e ResponseTooLargeError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("body of %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
	}
	return fmt.Sprintf("body exceeds limit of %d bytes", e.Limit)
}

// IsResponseTooLarge reports whether err came from a size limit.
func IsResponseTooLarge(err error) bool {
	var limitErr ResponseTooLargeError
	return errors.As(err, &limitErr)
}

// ReadBody buffers resp.Body up to limit bytes. A declared Content-Length
// over the limit is rejected before anything is read, so an oversized
// original costs one header round trip instead of a full download.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	if limit > 0 && resp.ContentLength > limit {
		return nil, ResponseTooLargeError{Limit: limit, Size: resp.ContentLength}
	}
	return ReadAllWithLimit(resp.Body, limit)
}

// ReadAllWithLimit reads r up to limit bytes; limit <= 0 means unbounded.
// Chunked bodies without a length are caught here.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
