// Package main runs the signal service: the scheduled per-symbol pipeline,
// the position monitor, alert delivery and the HTTP API, all in one
// process sharing one config snapshot holder.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/execution"
	"trade-signal-pipeline/internal/logger"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "signal-server"
	app.Usage = "Run the trading signal pipeline service"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "config.yaml",
			Usage:  "path to the YAML config file",
			EnvVar: "SIGNAL_CONFIG",
		},
	}
	app.Action = serveAction

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveAction(c *cli.Context) error {
	holder, err := config.NewHolder(c.String("config"))
	if err != nil {
		return err
	}
	cfg := holder.Current().Config

	log, logCloser, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", Version).
		Str("environment", cfg.Environment).
		Strs("symbols", cfg.Symbols).
		Str("storage", cfg.Storage.Backend).
		Str("broker", cfg.Execution.Broker.Kind).
		Msg("starting signal server")

	svc, err := build(ctx, holder, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer svc.close()

	return svc.run(ctx)
}

// run starts every loop and blocks until ctx is cancelled or one of them
// fails, then shuts the HTTP server down within the configured timeout.
func (s *service) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher outlives the producers so their last alerts are
	// flushed before the sinks close.
	alertCtx, stopAlerts := context.WithCancel(context.WithoutCancel(ctx))
	alertsDone := make(chan struct{})
	go func() {
		defer close(alertsDone)
		s.alerts.Run(alertCtx)
	}()

	g.Go(func() error {
		if err := s.orchestrator.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return s.monitor.Run(gctx) })
	g.Go(s.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.Current().Config.Server.ShutdownTimeout
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), timeout)
		defer cancel()
		return s.server.Stop(shutdownCtx)
	})
	g.Go(func() error {
		s.reloadOnHangup(gctx)
		return nil
	})
	if s.account != nil {
		g.Go(func() error {
			s.syncAccountLoop(gctx)
			return nil
		})
	}

	err := g.Wait()
	stopAlerts()
	<-alertsDone
	s.log.Info().Int64("alerts_dropped", s.alerts.Dropped()).Msg("signal server stopped")
	return err
}

// reloadOnHangup swaps in a fresh config snapshot on every SIGHUP.
func (s *service) reloadOnHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			snap, err := s.cfg.Reload()
			if err != nil {
				s.log.Error().Err(err).Int64("config_version", snap.Version).Msg("config reload rejected")
				continue
			}
			s.log.Info().Int64("config_version", snap.Version).Msg("config reloaded")
		}
	}
}

// syncAccountLoop refreshes equity, buying power and account status from
// the brokerage on the monitor interval.
func (s *service) syncAccountLoop(ctx context.Context) {
	syncOnce := func() {
		st, err := execution.SyncAccount(ctx, s.account, s.risk)
		if err != nil {
			s.log.Warn().Err(err).Msg("broker account sync failed")
			return
		}
		s.log.Debug().
			Float64("equity", st.Equity).
			Float64("buying_power", st.BuyingPower).
			Str("account_status", string(st.AccountStatus)).
			Msg("broker account synced")
	}

	syncOnce()
	for {
		timer := time.NewTimer(s.cfg.Current().Config.Monitor.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			syncOnce()
		}
	}
}

func componentLogger(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
