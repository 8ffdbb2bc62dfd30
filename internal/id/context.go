package id

import "context"

type contextKey string

const (
	requestKey contextKey = "edgeresize_request_id"
	logKey     contextKey = "edgeresize_log_id"
)

// WithRequestID stores the request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestKey, requestID)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestKey)
}

// WithLogID stores the log identifier on the context.
func WithLogID(ctx context.Context, logID string) context.Context {
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, logKey, logID)
}

// LogIDFromContext returns the log identifier, if any.
func LogIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, logKey)
}

// EnsureLogID returns ctx with a log id, generating one when absent.
func EnsureLogID(ctx context.Context) (context.Context, string) {
	if logID := LogIDFromContext(ctx); logID != "" {
		return ctx, logID
	}
	logID := NewLogID()
	return WithLogID(ctx, logID), logID
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
