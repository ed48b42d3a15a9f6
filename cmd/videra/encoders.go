package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"videra/internal/transcoder"
)

func newEncodersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "encoders",
		Short: "Show the H.264 encoders ffmpeg offers and which one would be used",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			runCtx, cancel := context.WithTimeout(cmd.Context(), resolveTimeout)
			defer cancel()

			resolver := transcoder.NewResolver(cfg.FFmpegPath, cfg.EnableHWAccel, nil)
			names, err := resolver.H264Encoders(runCtx)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warn: cannot list ffmpeg encoders: %v\n", err)
			}
			profile := resolver.Resolve(runCtx)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderEncoderTable(names, profile))
			fmt.Fprintf(out, "Selected: %s\n", profile.Label)
			return nil
		},
	}
}
