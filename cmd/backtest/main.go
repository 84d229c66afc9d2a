// Package main runs the split-discipline backtest for one symbol and
// writes the Markdown report plus trade and trial CSVs.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"trade-signal-pipeline/internal/backtest"
	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/consensus"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/logger"
	"trade-signal-pipeline/internal/lookup"
	"trade-signal-pipeline/internal/regime"
	"trade-signal-pipeline/internal/reporting"
	"trade-signal-pipeline/internal/risk"
	"trade-signal-pipeline/internal/simulation"
	"trade-signal-pipeline/internal/source"
	chstore "trade-signal-pipeline/internal/storage/clickhouse"
	"trade-signal-pipeline/internal/strategy"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "signal-backtest"
	app.Usage = "Backtest the signal pipeline on historical bars"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.yaml", Usage: "service config supplying source, regime, consensus and risk parameters", EnvVar: "SIGNAL_CONFIG"},
		cli.StringFlag{Name: "symbol", Usage: "symbol to backtest (required)"},
		cli.StringFlag{Name: "bars-csv", Usage: "read bars from CSV instead of ClickHouse"},
		cli.StringFlag{Name: "from", Usage: "first bar time, RFC3339"},
		cli.StringFlag{Name: "to", Usage: "last bar time, RFC3339"},
		cli.StringFlag{Name: "mode", Value: string(backtest.ModeQuality), Usage: "quality or profitability"},
		cli.StringFlag{Name: "scenario", Value: domain.ScenarioRealistic, Usage: "friction scenario: optimistic, realistic, pessimistic, degraded"},
		cli.StringFlag{Name: "strategy", Value: strategy.TypeBracket, Usage: "exit strategy: BRACKET or TIME_EXIT"},
		cli.DurationFlag{Name: "max-hold", Usage: "max hold per trade, 0 for none (required for TIME_EXIT)"},
		cli.IntFlag{Name: "delay-bars", Usage: "override the scenario's bars between signal and fills"},
		cli.BoolFlag{Name: "risk", Usage: "apply the risk layers against a simulated account"},
		cli.StringFlag{Name: "thresholds", Usage: "comma-separated confidence thresholds to search"},
		cli.StringFlag{Name: "stops", Usage: "comma-separated stop-loss percents to search"},
		cli.StringFlag{Name: "targets", Usage: "comma-separated take-profit percents to search"},
		cli.StringFlag{Name: "bands", Usage: "comma-separated neutral bands to search"},
		cli.IntFlag{Name: "max-combinations", Value: 500, Usage: "upper bound on grid size"},
		cli.IntFlag{Name: "window", Usage: "walk-forward window in bars, 0 for a single split"},
		cli.IntFlag{Name: "step", Usage: "walk-forward step in bars (defaults to a fifth of the window)"},
		cli.StringFlag{Name: "out", Value: "backtest-output", Usage: "output directory"},
	}
	app.Action = backtestAction

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func backtestAction(c *cli.Context) error {
	log, _, err := logger.New(logger.Config{Level: "info", Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}

	symbol := c.String("symbol")
	if symbol == "" {
		return cli.NewExitError("--symbol is required", 2)
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	mode, err := backtest.ParseMode(c.String("mode"))
	if err != nil {
		return err
	}
	scenario, ok := domain.ScenarioByID(c.String("scenario"))
	if !ok {
		return fmt.Errorf("unknown scenario %q", c.String("scenario"))
	}
	if c.IsSet("delay-bars") {
		scenario.DelayBars = c.Int("delay-bars")
	}

	exit, err := strategy.FromConfig(strategy.Config{
		Type:    strings.ToUpper(c.String("strategy")),
		MaxHold: c.Duration("max-hold"),
	})
	if err != nil {
		return err
	}

	space := backtest.ParamSpace{}
	for name, dst := range map[string]*[]float64{
		"thresholds": &space.Thresholds,
		"stops":      &space.StopLossPcts,
		"targets":    &space.TakeProfitPcts,
		"bands":      &space.NeutralBands,
	} {
		if *dst, err = parseFloats(c.String(name)); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bars, err := loadBars(ctx, c, cfg, symbol)
	if err != nil {
		return err
	}
	log.Info().Str("symbol", symbol).Int("bars", len(bars)).Msg("bars loaded")

	btCfg := backtest.Config{
		Mode: mode,
		Replay: backtest.ReplayConfig{
			Symbol:    symbol,
			Consensus: consensus.FromConfig(cfg.Consensus),
			Detector:  regime.NewThresholdDetector(regime.ParamsFromConfig(cfg.Regime)),
			Adapters: func(bp source.BarProvider) []source.Adapter {
				return source.TechnicalFromConfig(cfg.Sources, bp)
			},
			Runner: simulation.NewRunner(simulation.RunnerOptions{Strategy: exit, Scenario: scenario}),
			Logger: log,
		},
		Space:           space,
		MaxCombinations: c.Int("max-combinations"),
	}
	if c.Bool("risk") {
		btCfg.Replay.Risk = &backtest.RiskReplay{
			Limits:        risk.LimitsFromConfig(cfg.Risk),
			InitialEquity: cfg.Risk.InitialEquity,
			SizePct:       cfg.Execution.BasePositionPct,
			Group:         cfg.CorrelationGroup,
		}
	}

	var reports []*backtest.Report
	if window := c.Int("window"); window > 0 {
		step := c.Int("step")
		if step <= 0 {
			step = max(window/5, 1)
		}
		reports, err = backtest.WalkForward(ctx, bars, btCfg, window, step)
	} else {
		var rep *backtest.Report
		rep, err = backtest.Run(ctx, bars, btCfg)
		reports = []*backtest.Report{rep}
	}
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	return writeReports(c.String("out"), reports, log)
}

func writeReports(dir string, reports []*backtest.Report, log zerolog.Logger) error {
	rep, err := reporting.NewGenerator().Generate(reports)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	files := map[string]string{
		"BACKTEST_REPORT.md": reporting.RenderMarkdown(rep),
		"trades.csv":         reporting.RenderTradesCSV(rep.Trades),
		"trials.csv":         reporting.RenderTrialsCSV(rep.Trials),
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("wrote report file")
	}
	return nil
}

// loadBars reads the CSV when given, otherwise the ClickHouse bar store
// named in the config. Either source is cut to --from/--to.
func loadBars(ctx context.Context, c *cli.Context, cfg *config.Config, symbol string) ([]*domain.Bar, error) {
	r := domain.TimeRange{Start: 0, End: math.MaxInt64}
	for flag, dst := range map[string]*int64{"from": &r.Start, "to": &r.End} {
		if s := c.String(flag); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("--%s: %w", flag, err)
			}
			*dst = t.UnixMilli()
		}
	}

	if path := c.String("bars-csv"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		bars, err := readBarsCSV(f, symbol)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return lookup.Window(r, bars), nil
	}

	if cfg.Storage.ClickhouseDSN == "" {
		return nil, cli.NewExitError("either --bars-csv or storage.clickhouse_dsn is required", 2)
	}
	conn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	defer conn.Close()
	return chstore.NewBarStore(conn).GetByTimeRange(ctx, symbol, r.Start, r.End)
}

func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
