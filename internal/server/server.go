// Package server runs both edge hooks behind a plain HTTP listener so the
// whole pipeline can be exercised without a CDN.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"edgeresize/internal/blobstore"
	"edgeresize/internal/di"
	"edgeresize/internal/edge"
	"edgeresize/internal/handler"
	"edgeresize/internal/id"
	"edgeresize/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server emulates a CDN distribution: viewer request, store lookup, origin
// response.
type Server struct {
	container *di.Container
	viewer    *handler.ViewerRequest
	origin    *handler.OriginResponse
	logger    logging.Logger
	engine    *gin.Engine
}

// New builds the emulator for an assembled container.
func New(c *di.Container) *Server {
	gin.SetMode(gin.ReleaseMode)
	obs := c.Observability

	s := &Server{
		container: c,
		viewer:    handler.NewViewerRequest(c.Rewriter, obs.Metrics, obs.Tracer),
		origin:    handler.NewOriginResponse(c.Materializer),
		logger:    logging.NewComponentLogger("server"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	engine.Use(cors.New(corsConfig))
	engine.Use(requestIDMiddleware())
	engine.Use(accessLogMiddleware(obs.Logger, obs.Metrics))
	engine.Use(rateLimitMiddleware(RateLimitConfig{
		RequestsPerSecond: c.Config.Server.RateLimit,
		Burst:             c.Config.Server.RateBurst,
	}))

	engine.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if obs.Metrics.Enabled() {
		path := c.Config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(obs.Metrics.Handler()))
	}
	engine.NoRoute(s.serveEdge)

	s.engine = engine
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("edge emulator listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) serveEdge(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.AbortWithStatus(http.StatusMethodNotAllowed)
		return
	}
	ctx := c.Request.Context()

	req, err := s.viewer.Handle(ctx, eventFor(c.Request, "viewer-request", nil))
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	resp, ok := s.lookup(ctx, req)
	if ok {
		writeResponse(c, resp)
		return
	}

	resp, err = s.origin.Handle(ctx, eventFor(c.Request, "origin-response", &edge.CloudFront{Request: req, Response: resp}))
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	writeResponse(c, resp)
}

// lookup plays the origin: it serves the forwarded URI from the store. A
// missing object yields the 404 miss response the materializer expects.
func (s *Server) lookup(ctx context.Context, req *edge.Request) (*edge.Response, bool) {
	key := strings.TrimPrefix(req.URI, "/")
	rc, info, err := s.container.Store.GetObject(ctx, key)
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn("store lookup %s: %v", key, err)
		}
		return &edge.Response{
			Status:            strconv.Itoa(http.StatusNotFound),
			StatusDescription: http.StatusText(http.StatusNotFound),
			Headers:           edge.Headers{},
		}, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		s.logger.Warn("store read %s: %v", key, err)
		return &edge.Response{Status: strconv.Itoa(http.StatusNotFound), Headers: edge.Headers{}}, false
	}
	resp := &edge.Response{
		Headers:      edge.Headers{},
		Body:         base64.StdEncoding.EncodeToString(data),
		BodyEncoding: edge.BodyEncodingBase64,
	}
	resp.SetStatus(http.StatusOK, http.StatusText(http.StatusOK))
	if info.ContentType != "" {
		resp.Headers.Set("Content-Type", info.ContentType)
	}
	if info.CacheControl != "" {
		resp.Headers.Set("Cache-Control", info.CacheControl)
	}
	if info.ETag != "" {
		resp.Headers.Set("ETag", info.ETag)
	}
	return resp, true
}

func eventFor(r *http.Request, eventType string, cf *edge.CloudFront) edge.Event {
	if cf == nil {
		headers := edge.Headers{}
		for name, values := range r.Header {
			for _, v := range values {
				key := strings.ToLower(name)
				headers[key] = append(headers[key], edge.Header{Key: name, Value: v})
			}
		}
		cf = &edge.CloudFront{Request: &edge.Request{
			ClientIP:    r.RemoteAddr,
			Method:      r.Method,
			URI:         r.URL.Path,
			QueryString: r.URL.RawQuery,
			Headers:     headers,
		}}
	}
	cf.Config = edge.Config{
		DistributionDomainName: r.Host,
		EventType:              eventType,
		RequestID:              id.RequestIDFromContext(r.Context()),
	}
	return edge.Event{Records: []edge.Record{{CF: *cf}}}
}

func writeResponse(c *gin.Context, resp *edge.Response) {
	status := resp.StatusCode()
	if status == 0 {
		status = http.StatusBadGateway
	}
	body := []byte(resp.Body)
	if resp.BodyEncoding == edge.BodyEncodingBase64 {
		decoded, err := base64.StdEncoding.DecodeString(resp.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadGateway)
			return
		}
		body = decoded
	}
	for _, values := range resp.Headers {
		for _, h := range values {
			if h.Key != "" {
				c.Writer.Header().Add(h.Key, h.Value)
			}
		}
	}
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(status, contentType, body)
}
