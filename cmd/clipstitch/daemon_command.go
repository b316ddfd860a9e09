package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clipstitch/internal/daemon"
	"clipstitch/internal/deps"
	"clipstitch/internal/logging"
	"clipstitch/internal/store"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the upload and merge daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("clipstitch-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		OutputPaths:    []string{"stdout", logPath},
		StageOverrides: cfg.Logging.StageOverrides,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if removed := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "clipstitch-*.log"); removed > 0 {
		logger.Info("pruned old logs", logging.Int("removed", removed))
	}

	statuses := deps.CheckBinaries(deps.MediaRequirements(cfg))
	if err := deps.Missing(statuses); err != nil {
		logging.WarnWithContext(logger, "media tools unavailable", "dependency_missing",
			logging.Error(err),
			logging.String(logging.FieldImpact, "uploads are accepted but clips cannot be probed or merged"),
			logging.String(logging.FieldErrorHint, "install ffmpeg and ffprobe and restart the daemon"),
		)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	d, err := daemon.New(signalCtx, cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "clipstitch listening on %s (pid %d)\n", d.Addr(), os.Getpid())

	<-signalCtx.Done()
	logger.Info("clipstitch shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}
