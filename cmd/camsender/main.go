package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/camstream/camstream/internal/config"
	"github.com/camstream/camstream/internal/logging"
	"github.com/camstream/camstream/internal/sender"
)

func main() {
	configPath := flag.String("config", "/etc/camstream/sender.yaml", "path to sender config file")
	flag.Parse()

	cfg, err := config.LoadSenderConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	interrupted := false
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		interrupted = true
		cancel()
	}()

	stats, err := sender.Run(ctx, cfg, logger)
	if stats != nil {
		if cfg.JSONStats {
			fmt.Fprintln(os.Stdout, stats.JSON())
		} else {
			fmt.Fprintln(os.Stdout, stats.String())
		}
	}

	if err != nil {
		logger.Error("sender error", "error", err)
		if interrupted {
			os.Exit(130)
		}
		os.Exit(1)
	}

	if interrupted {
		os.Exit(130)
	}
	if stats != nil && stats.FilesFailed > 0 {
		os.Exit(1)
	}
}
