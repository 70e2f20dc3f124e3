// Command clinicctl is the operator CLI: it inspects availability and slot
// demand, runs the background sweeps once, and mints bearer tokens.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wolfman30/polyclinic-scheduler/cmd/mainconfig"
	"github.com/wolfman30/polyclinic-scheduler/internal/app/bootstrap"
	appconfig "github.com/wolfman30/polyclinic-scheduler/internal/config"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &cli{
		cfg:    cfg,
		out:    os.Stdout,
		logger: logger,
		engine: func(ctx context.Context) (*bootstrap.Engine, error) {
			return bootstrap.Build(ctx, cfg, logger, bootstrap.Options{LoadAWS: mainconfig.Loader(cfg)})
		},
	}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
