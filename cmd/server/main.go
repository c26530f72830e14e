package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"siranga/internal/authz"
	"siranga/internal/config"
	"siranga/internal/directory"
	"siranga/internal/logger"
	"siranga/internal/metrics"
	"siranga/internal/proxy"
	"siranga/internal/registry"
	"siranga/internal/ssh"
)

func main() {
	if err := run(); err != nil {
		logger.Fatalf("%v", err)
	}
	logger.Info("Shutdown complete")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Infof("Starting siranga %s", cfg.ReleaseVersion)

	hostKey, err := ssh.LoadHostKey(cfg.PrivateKeyFile)
	if err != nil {
		return err
	}

	dir, err := directory.NewClient(cfg)
	if err != nil {
		return err
	}

	reg := registry.New()
	auth := authz.New(cfg.AuthzEndpoint)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	sshServer := ssh.NewServer(cfg, reg, dir, hostKey)
	group.Go(func() error {
		logger.Infof("SSH is available on port %d", cfg.SSHPort)
		return sshServer.Start(ctx)
	})

	httpProxy := proxy.NewProxy(cfg, reg, auth)
	group.Go(func() error {
		logger.Infof("HTTP is available on port %d", cfg.HTTPPort)
		return httpProxy.Start(ctx)
	})

	metricsServer := metrics.NewServer(cfg, reg)
	group.Go(func() error {
		logger.Infof("Metrics are available on port %d", cfg.MetricsPort)
		return metricsServer.Start(ctx)
	})

	return group.Wait()
}
