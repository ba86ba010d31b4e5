package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"shmipc/internal/config"
	"shmipc/internal/observability"
	"shmipc/internal/server"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Flags override file and environment settings.
	if opts.Region != "" {
		cfg.Region.Name = opts.Region
	}
	if opts.Threads >= 0 {
		cfg.Server.ThreadsPerPool = opts.Threads
	}
	if opts.ShutdownMode != "" {
		cfg.Server.ShutdownMode = opts.ShutdownMode
	}

	// Reject a bad mode before any shared state exists.
	mode, err := server.ParseMode(cfg.Server.ShutdownMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	srv := server.New(server.Options{
		RegionName:     cfg.Region.Name,
		Slots:          cfg.Region.Slots,
		ThreadsPerPool: cfg.Server.ThreadsPerPool,
		ShutdownMode:   mode,
		SlowOpDelay:    cfg.Server.SlowOpDelay,
		LockFile:       cfg.Server.LockFile,
		RegistryPath:   cfg.RegistryPath(),
		StatusJSON:     cfg.Status.Format == "json",
		Logger:         logger,
	})
	if err := srv.Start(); err != nil {
		if errors.Is(err, server.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		return 1
	}

	// SIGINT/SIGTERM terminate with the configured mode; SIGUSR1 dumps the
	// status report.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGUSR1 {
			if err := srv.ReportStatus(); err != nil {
				zap.L().Warn("status report failed", zap.Error(err))
			}
			continue
		}
		zap.L().Info("termination signal received", zap.String("signal", sig.String()))
		break
	}

	if _, err := srv.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown failed: %v\n", err)
		return 1
	}
	return 0
}
