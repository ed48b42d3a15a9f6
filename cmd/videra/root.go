package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"videra/internal/config"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.LoadConfig(strings.TrimSpace(*c.configFlag))
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	serveCmd := newServeCommand(ctx)
	rootCmd := &cobra.Command{
		Use:           "videra",
		Short:         "Compress uploaded videos to a target file size",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running the bare binary starts the server.
		RunE: serveCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newEncodersCommand(ctx))
	return rootCmd
}
