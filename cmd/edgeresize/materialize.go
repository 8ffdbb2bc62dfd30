package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"edgeresize/internal/di"
	"edgeresize/internal/edge"
	"edgeresize/internal/handler"
)

func newMaterializeCommand(root *rootOptions) *cobra.Command {
	var (
		query  string
		accept string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "materialize <uri>",
		Short: "Generate one variant as if the CDN had missed, and store it",
		Long: `materialize runs the viewer-request rewrite and then the origin-response
miss path for one URI. The variant is written to the configured store; use
--out to also keep a local copy. Useful for warming the cache.`,
		Example: `  edgeresize materialize /images/photo.jpg -q 'w=400&h=300' -a image/webp -o photo.webp`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(nil)
			if err != nil {
				return err
			}
			container, err := di.BuildContainer(cfg, di.Options{LogOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}

			req := &edge.Request{URI: args[0], QueryString: query, Method: http.MethodGet, Headers: edge.Headers{}}
			if accept != "" {
				req.Headers.Set("Accept", accept)
			}
			ctx := cmd.Context()
			viewer := handler.NewViewerRequest(container.Rewriter, container.Observability.Metrics, container.Observability.Tracer)
			req, err = viewer.Handle(ctx, edge.Event{Records: []edge.Record{{CF: edge.CloudFront{Request: req}}}})
			if err != nil {
				return err
			}

			miss := &edge.Response{Headers: edge.Headers{}}
			miss.SetStatus(http.StatusNotFound, http.StatusText(http.StatusNotFound))
			resp := container.Materializer.Materialize(ctx, req, miss)

			cleanupCtx, cancel := context.WithTimeout(context.Background(), cfg.Storage.PutTimeout+5*time.Second)
			defer cancel()
			cleanupErr := container.Cleanup(cleanupCtx)

			if resp.StatusCode() != http.StatusOK {
				return fmt.Errorf("%s could not be materialized (status %s)", req.URI, resp.Status)
			}
			body, err := base64.StdEncoding.DecodeString(resp.Body)
			if err != nil {
				return fmt.Errorf("decode body: %w", err)
			}
			if out != "" {
				if err := os.WriteFile(out, body, 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s (%d bytes)\n", green("materialized"), req.URI, resp.Headers.Get("Content-Type"), len(body))
			return cleanupErr
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "raw query string, e.g. w=200&h=100")
	cmd.Flags().StringVarP(&accept, "accept", "a", "", "Accept header value")
	cmd.Flags().StringVarP(&out, "out", "o", "", "also write the bytes to this file")
	return cmd
}
