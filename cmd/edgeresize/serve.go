package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"edgeresize/internal/di"
	"edgeresize/internal/server"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		addr       string
		backend    string
		storageDir string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run both hooks behind a local HTTP listener",
		Example: `  edgeresize serve --storage filesystem --dir ./data/variants
  curl -H 'Accept: image/webp' 'http://localhost:8080/images/photo.jpg?w=200&h=100'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if addr != "" {
				overrides["server.addr"] = addr
			}
			if backend != "" {
				overrides["storage.backend"] = backend
			}
			if storageDir != "" {
				overrides["storage.dir"] = storageDir
			}
			cfg, err := root.load(overrides)
			if err != nil {
				return err
			}

			container, err := di.BuildContainer(cfg, di.Options{})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.Printf("%s %s (origin %s, store %s)\n", green("serving on"), bold(cfg.Server.Addr), cfg.BaseURL(), cfg.Storage.Backend)
			runErr := server.New(container).Run(ctx, cfg.Server.Addr)

			cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := container.Cleanup(cleanupCtx); err != nil {
				cmd.PrintErrln(yellow("cleanup: ") + err.Error())
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&backend, "storage", "", "storage backend: s3, filesystem, memory")
	cmd.Flags().StringVar(&storageDir, "dir", "", "directory for the filesystem backend")
	return cmd
}
