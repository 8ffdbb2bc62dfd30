// Package handler adapts edge events to the rewriter and the materializer.
package handler

import (
	"context"
	"errors"

	"edgeresize/internal/edge"
	"edgeresize/internal/id"
	"edgeresize/internal/logging"
	"edgeresize/internal/materializer"
	"edgeresize/internal/observability"
	"edgeresize/internal/rewriter"

	"go.opentelemetry.io/otel/attribute"
)

// ErrNoRecord is returned for events that carry no usable record.
var ErrNoRecord = errors.New("handler: event has no cf record")

// ViewerRequest handles viewer-request events.
type ViewerRequest struct {
	rewriter *rewriter.Rewriter
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
}

// NewViewerRequest builds the viewer-request handler.
func NewViewerRequest(rw *rewriter.Rewriter, metrics *observability.MetricsCollector, tracer *observability.TracerProvider) *ViewerRequest {
	return &ViewerRequest{
		rewriter: rw,
		logger:   logging.NewComponentLogger("viewer-request"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Handle returns the request the CDN should forward.
func (h *ViewerRequest) Handle(ctx context.Context, evt edge.Event) (*edge.Request, error) {
	cf, ok := evt.First()
	if !ok || cf.Request == nil {
		return nil, ErrNoRecord
	}
	ctx = withEventIDs(ctx, cf.Config)
	req := cf.Request
	if req.Headers == nil {
		req.Headers = edge.Headers{}
	}

	ctx, span := h.tracer.StartSpan(ctx, observability.SpanRewrite, attribute.String("http.target", req.URI))
	uri := req.URI
	res := h.rewriter.Rewrite(req)
	span.SetAttributes(attribute.String("edgeresize.outcome", string(res.Outcome)))
	observability.EndSpan(span, nil)

	h.metrics.RecordRewrite(ctx, string(res.Outcome), res.Path.Format)
	log := logging.FromContext(ctx, h.logger)
	switch res.Outcome {
	case rewriter.OutcomeRewritten:
		log.Info("rewrote %s?%s -> %s", uri, req.QueryString, req.URI)
	case rewriter.OutcomeNotFound:
		log.Info("not found %s: %s", uri, res.Reason)
	default:
		log.Debug("pass through %s", uri)
	}
	return req, nil
}

// OriginResponse handles origin-response events.
type OriginResponse struct {
	materializer *materializer.Materializer
	logger       logging.Logger
}

// NewOriginResponse builds the origin-response handler.
func NewOriginResponse(m *materializer.Materializer) *OriginResponse {
	return &OriginResponse{
		materializer: m,
		logger:       logging.NewComponentLogger("origin-response"),
	}
}

// Handle returns the response the CDN should send to the viewer. Store
// writes started by the miss may still be running when it returns.
func (h *OriginResponse) Handle(ctx context.Context, evt edge.Event) (*edge.Response, error) {
	cf, ok := evt.First()
	if !ok || cf.Request == nil || cf.Response == nil {
		return nil, ErrNoRecord
	}
	ctx = withEventIDs(ctx, cf.Config)
	return h.materializer.Materialize(ctx, cf.Request, cf.Response), nil
}

// HandleAndDrain is Handle for runtimes that freeze the process once the
// handler returns. The response is computed first; the store writes it
// started are then awaited, bounded by the put timeout and ctx. A write that
// does not finish in time is logged and never changes the response.
func (h *OriginResponse) HandleAndDrain(ctx context.Context, evt edge.Event) (*edge.Response, error) {
	resp, err := h.Handle(ctx, evt)
	if err != nil {
		return nil, err
	}
	if err := h.materializer.Drain(ctx); err != nil {
		logging.FromContext(ctx, h.logger).Warn("store writes still pending at return: %v", err)
	}
	return resp, nil
}

func withEventIDs(ctx context.Context, cfg edge.Config) context.Context {
	requestID := cfg.RequestID
	if requestID == "" {
		requestID = id.NewRequestID()
	}
	ctx = id.WithRequestID(ctx, requestID)
	ctx, _ = id.EnsureLogID(ctx)
	return ctx
}
