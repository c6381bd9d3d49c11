package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dbhub/internal/api"
	"dbhub/internal/config"
	"dbhub/internal/logger"
	"dbhub/internal/pool"
	"dbhub/internal/version"

	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		info := version.GetInfo()
		fmt.Println(info.String())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(&cfg.Log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	// Initialize pool manager
	manager, err := pool.NewManager(cfg, log)
	if err != nil {
		log.Fatal("Failed to create pool manager", zap.Error(err))
	}

	// Bridge pool events into the log
	manager.Subscribe(func(ev pool.Event) {
		switch ev.Type {
		case pool.EventSlowQuery, pool.EventConnectionLeak,
			pool.EventHealthWarning, pool.EventAlertCreated:
			log.Warn("Pool event",
				zap.String("type", string(ev.Type)),
				zap.Any("payload", ev.Payload))
		default:
			log.Debug("Pool event",
				zap.String("type", string(ev.Type)))
		}
	})

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := manager.Initialize(initCtx); err != nil {
		initCancel()
		log.Fatal("Failed to initialize backends", zap.Error(err))
	}
	initCancel()

	// Start status API if enabled
	var server *http.Server
	if cfg.API.Enabled {
		router := api.NewRouter(cfg, manager, log)
		server = &http.Server{
			Addr:    cfg.API.Address,
			Handler: router.Handler(),
		}

		go func() {
			log.Info("Starting status API",
				zap.String("address", cfg.API.Address))
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatal("Status API error", zap.Error(err))
			}
		}()
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-sigChan
	log.Info("Received signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	log.Info("Starting graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Status API shutdown error", zap.Error(err))
		}
	}

	if err := manager.Close(shutdownCtx); err != nil {
		log.Error("Pool manager shutdown error", zap.Error(err))
	}

	log.Info("Shutdown complete")
}
