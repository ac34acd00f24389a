package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"docdelta/internal/api"
	"docdelta/internal/config"
	"docdelta/internal/logging"
	"docdelta/internal/metrics"
	"docdelta/internal/pipeline"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// The root binary is the long-running planning server. The docdelta CLI
// under cmd/ offers the same operations interactively.
func main() {
	flags := pflag.NewFlagSet("docdeltad", pflag.ExitOnError)
	configPath := flags.String("config", "", "config file (json or yaml)")
	flags.String("dir", ".", "repository root")
	flags.String("host", "127.0.0.1", "listen host")
	flags.Int("port", 8089, "listen port")
	flags.String("log-level", "info", "log level")
	flags.String("state-backend", "file", "state backend: file or badger (badger keeps history)")
	_ = flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Initialize pipeline and its state store
	m := metrics.New()
	p, err := pipeline.New(cfg, logger, pipeline.WithMetrics(m))
	if err != nil {
		logger.Fatal("failed to initialize pipeline", zap.Error(err))
	}
	defer p.Close()

	handler := api.Routes(api.NewHandler(p, p.Store, logger), m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	logger.Info("starting server",
		zap.String("address", addr),
		zap.String("root", p.Root),
		zap.String("state_backend", cfg.State.Backend),
	)

	if err := api.NewServer(addr, handler, logger).Serve(ctx); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}
