// Command viewer-request is the Lambda@Edge viewer-request hook.
package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"edgeresize/internal/config"
	"edgeresize/internal/handler"
	"edgeresize/internal/id"
	"edgeresize/internal/logging"
	"edgeresize/internal/observability"
	"edgeresize/internal/rewriter"
)

func main() {
	cfg := config.MustLoadForLambda()
	obs, err := observability.New(cfg.Config, os.Stdout)
	if err != nil {
		panic(err)
	}
	logging.SetDefault(obs.Logger)
	id.SetStrategy(cfg.IDStrategy())
	rw := rewriter.New(rewriter.Options{
		AllowedExtensions: cfg.Resize.AllowedExtensions,
		MaxDimension:      cfg.Resize.MaxDimension,
	})
	lambda.Start(handler.NewViewerRequest(rw, obs.Metrics, obs.Tracer).Handle)
}
