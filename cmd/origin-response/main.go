// Command origin-response is the Lambda@Edge origin-response hook.
package main

import (
	"github.com/aws/aws-lambda-go/lambda"

	"edgeresize/internal/config"
	"edgeresize/internal/di"
	"edgeresize/internal/handler"
)

func main() {
	cfg := config.MustLoadForLambda()
	container, err := di.BuildContainer(cfg, di.Options{})
	if err != nil {
		panic(err)
	}
	lambda.Start(handler.NewOriginResponse(container.Materializer).HandleAndDrain)
}
