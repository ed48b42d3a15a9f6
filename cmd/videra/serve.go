package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"videra/internal/client"
	"videra/internal/jobs"
	"videra/internal/logging"
	"videra/internal/metrics"
	"videra/internal/monitor"
	"videra/internal/pipeline"
	"videra/internal/scheduler"
	"videra/internal/server"
	"videra/internal/transcoder"
	"videra/internal/upload"
	"videra/internal/workspace"
)

const resolveTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// 1. Prepare and lock the working directories
	ws, err := workspace.Open(workspace.Layout{
		DataDir:    cfg.Paths.DataDir,
		Uploads:    cfg.Paths.Uploads,
		Compressed: cfg.Paths.Compressed,
		Logs:       cfg.Paths.Logs,
	}, logger)
	if err != nil {
		return err
	}
	defer ws.Close()
	if err := ws.Sweep(); err != nil {
		logger.Warn("boot sweep incomplete", zap.Error(err))
	}

	// 2. Pick the encoder once for the lifetime of the process
	metrics.InitializeMetrics()
	resolveCtx, cancelResolve := context.WithTimeout(signalCtx, resolveTimeout)
	profile := transcoder.NewResolver(cfg.FFmpegPath, cfg.EnableHWAccel, logger).Resolve(resolveCtx)
	cancelResolve()
	metrics.EncoderInfo.WithLabelValues(profile.Codec, profile.HWAccel).Set(1)

	// 3. Wire the pipeline
	maxUpload, _ := cfg.MaxUploadBytes() // validated by LoadConfig
	assembler := upload.NewAssembler(cfg.Paths.Uploads, logger)
	upload.NewReaper(assembler, cfg.Upload.ReapInterval, cfg.Upload.SessionTTL).Start(signalCtx)

	store := jobs.NewStore(func(id string) []string {
		return transcoder.PassLogFiles(pipeline.PassLogPrefix(cfg.Paths.Logs, id))
	}, logger)

	deps := pipeline.Deps{
		Assembler: assembler,
		Prober:    transcoder.NewProber(cfg.FFprobePath, logger),
		Runner:    transcoder.NewRunner(cfg.FFmpegPath, logger),
		Store:     store,
		Expirer:   scheduler.NewExpirer(logger),
		Profile:   profile,
		Planner: transcoder.Planner{
			AudioBitrateKbps: cfg.Encode.AudioBitrateKbps,
			SafetyMargin:     cfg.Encode.SafetyMargin,
		},
		Logger: logger,
	}
	if cfg.Notify.WebhookURL != "" {
		deps.Notifier = client.NewWebhookClient(cfg.Notify.WebhookURL, cfg.Notify.RetryMax)
	}
	svc := pipeline.New(deps, pipeline.Options{
		CompressedDir: cfg.Paths.Compressed,
		LogsDir:       cfg.Paths.Logs,
		OutputTTL:     cfg.Encode.OutputTTL,
	})

	srv := server.New(svc, monitor.NewSystemMonitor(), server.Options{
		Addr:          fmt.Sprintf(":%d", cfg.Port),
		MaxChunkBytes: maxUpload,
		CompressedDir: cfg.Paths.Compressed,
	}, logger)

	logger.Info("videra starting",
		zap.Int("port", cfg.Port),
		zap.String("encoder", profile.Label),
		zap.String("codec", profile.Codec),
		zap.Bool("hardware", profile.Hardware()),
		zap.String("max_upload", humanize.Bytes(maxUpload)),
		zap.String("data_dir", cfg.Paths.DataDir))

	// 4. Serve until a signal arrives or the listener dies
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	var serveErr error
	select {
	case <-signalCtx.Done():
	case serveErr = <-errc:
	}

	logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	svc.Shutdown()

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}
