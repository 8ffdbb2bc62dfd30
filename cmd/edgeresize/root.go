package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"edgeresize/internal/config"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "edgeresize",
		Short: "On-demand image resizing for CDN edge hooks",
		Long: `edgeresize rewrites viewer requests carrying w/h parameters to variant
paths and materializes missing variants from the origin.

Configuration is read from --config, then EDGE_RESIZE_* environment
variables (for example EDGE_RESIZE_STORAGE_BACKEND=filesystem).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "override logging.format (json, text)")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newRewriteCommand(opts),
		newMaterializeCommand(opts),
		newConfigCommand(opts),
	)
	return rootCmd
}

// load resolves the configuration, layering command-specific overrides on
// top of the global flags.
func (o *rootOptions) load(overrides map[string]any) (config.Config, error) {
	values := map[string]any{}
	if o.logLevel != "" {
		values["logging.level"] = o.logLevel
	}
	if o.logFormat != "" {
		values["logging.format"] = o.logFormat
	}
	for k, v := range overrides {
		values[k] = v
	}

	var loadOpts []config.Option
	if o.configFile != "" {
		loadOpts = append(loadOpts, config.WithFile(o.configFile))
	}
	loadOpts = append(loadOpts, config.WithOverrides(values))
	return config.Load(loadOpts...)
}
