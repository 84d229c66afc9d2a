// Package main recomputes integrity hashes of stored signals and reports
// any that diverge. It exits non-zero when a divergence is found.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/logger"
	pgstore "trade-signal-pipeline/internal/storage/postgres"
	"trade-signal-pipeline/internal/verification"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "signal-verify"
	app.Usage = "Verify integrity hashes of stored signals"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.yaml", Usage: "service config (for storage.postgres_dsn)", EnvVar: "SIGNAL_CONFIG"},
		cli.StringFlag{Name: "postgres-dsn", Usage: "override the configured Postgres DSN", EnvVar: "SIGNAL_POSTGRES_DSN"},
		cli.StringFlag{Name: "signal-id", Usage: "verify one signal"},
		cli.StringFlag{Name: "from", Usage: "range start, RFC3339 (default: 24h ago)"},
		cli.StringFlag{Name: "to", Usage: "range end, RFC3339 (default: now)"},
		cli.BoolFlag{Name: "json", Usage: "print the full report as JSON"},
	}
	app.Action = verifyAction

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func verifyAction(c *cli.Context) error {
	log, _, err := logger.New(logger.Config{Level: "info", Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}

	dsn := c.String("postgres-dsn")
	if dsn == "" {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		dsn = cfg.Storage.PostgresDSN
	}
	if dsn == "" {
		return cli.NewExitError("a Postgres DSN is required: signals in the memory backend do not outlive the server", 2)
	}

	ctx := context.Background()
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	verifier := verification.NewHashVerifier(pgstore.NewSignalStore(pool))

	if id := c.String("signal-id"); id != "" {
		res, err := verifier.VerifySignal(ctx, id)
		if err != nil {
			return fmt.Errorf("verify %s: %w", id, err)
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.Match {
			return cli.NewExitError("signal diverges", 1)
		}
		return nil
	}

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if s := c.String("from"); s != "" {
		if start, err = time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	if s := c.String("to"); s != "" {
		if end, err = time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("--to: %w", err)
		}
	}

	report, err := verifier.VerifyRange(ctx, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return err
	}

	log.Info().
		Time("from", start).
		Time("to", end).
		Int("total", report.TotalSignals).
		Int("matched", report.MatchedSignals).
		Int("divergent", report.DivergentSignals).
		Msg("verification finished")

	if c.Bool("json") {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		for _, r := range report.Results {
			if r.Match {
				continue
			}
			for _, d := range r.Divergences {
				fmt.Printf("%s\t%s\tstored=%v\tactual=%v\n", r.SignalID, d.Field, d.Expected, d.Actual)
			}
		}
	}

	if report.DivergentSignals > 0 {
		return cli.NewExitError(fmt.Sprintf("%d of %d signals diverge", report.DivergentSignals, report.TotalSignals), 1)
	}
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
