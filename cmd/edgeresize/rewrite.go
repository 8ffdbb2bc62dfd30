package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"edgeresize/internal/edge"
	"edgeresize/internal/jsonx"
	"edgeresize/internal/rewriter"
)

func newRewriteCommand(root *rootOptions) *cobra.Command {
	var (
		query  string
		accept string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "rewrite <uri>",
		Short: "Show how a viewer request would be rewritten",
		Example: `  edgeresize rewrite /images/photo.jpg --query 'w=200&h=100' --accept image/webp
  /images/200x100/webp/photo.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(map[string]any{"storage.backend": "memory", "domain": "localhost"})
			if err != nil {
				return err
			}
			rw := rewriter.New(rewriter.Options{
				AllowedExtensions: cfg.Resize.AllowedExtensions,
				MaxDimension:      cfg.Resize.MaxDimension,
			})

			req := &edge.Request{URI: args[0], QueryString: query, Headers: edge.Headers{}}
			if accept != "" {
				req.Headers.Set("Accept", accept)
			}
			res := rw.Rewrite(req)

			if asJSON {
				enc := jsonx.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(req)
			}
			switch res.Outcome {
			case rewriter.OutcomeRewritten:
				fmt.Fprintln(cmd.OutOrStdout(), req.URI)
			case rewriter.OutcomePassthrough:
				fmt.Fprintln(cmd.OutOrStdout(), req.URI)
				fmt.Fprintln(cmd.ErrOrStderr(), gray("(pass through: no w/h)"))
			default:
				fmt.Fprintln(cmd.OutOrStdout(), req.URI)
				fmt.Fprintln(cmd.ErrOrStderr(), yellow("not found: ")+res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "raw query string, e.g. w=200&h=100")
	cmd.Flags().StringVarP(&accept, "accept", "a", "", "Accept header value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the rewritten request descriptor as JSON")
	return cmd
}
