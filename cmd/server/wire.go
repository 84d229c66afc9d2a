package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trade-signal-pipeline/internal/alert"
	"trade-signal-pipeline/internal/api"
	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/execution"
	"trade-signal-pipeline/internal/monitor"
	"trade-signal-pipeline/internal/observability"
	"trade-signal-pipeline/internal/orchestrator"
	"trade-signal-pipeline/internal/pipeline"
	"trade-signal-pipeline/internal/risk"
	"trade-signal-pipeline/internal/secrets"
	"trade-signal-pipeline/internal/source"
	"trade-signal-pipeline/internal/storage"
	chstore "trade-signal-pipeline/internal/storage/clickhouse"
	"trade-signal-pipeline/internal/storage/memory"
	"trade-signal-pipeline/internal/storage/migrations"
	pgstore "trade-signal-pipeline/internal/storage/postgres"
)

// service holds every long-lived component of the server.
type service struct {
	cfg *config.Holder
	log zerolog.Logger

	stores *allStores
	risk   risk.StateStore

	// account is set when the broker exposes account state.
	account execution.AccountReader

	alerts       *alert.Dispatcher
	orchestrator *orchestrator.Orchestrator
	monitor      *monitor.Monitor
	server       *api.Server

	closers []func() error
}

// allStores holds all storage implementations.
type allStores struct {
	signals   storage.SignalStore
	decisions storage.RiskDecisionStore
	positions storage.PositionStore
	events    storage.ExecutionEventStore
	bars      storage.BarStore
}

// build constructs the service from the current config snapshot. On
// error, everything opened so far is closed.
func build(ctx context.Context, holder *config.Holder, log zerolog.Logger) (_ *service, err error) {
	cfg := holder.Current().Config
	svc := &service{cfg: holder, log: log}
	defer func() {
		if err != nil {
			svc.close()
		}
	}()

	if svc.stores, err = svc.openStores(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	if svc.risk, err = svc.openRiskStore(ctx, cfg); err != nil {
		return nil, err
	}
	open, err := risk.SyncOpenPositions(ctx, svc.risk, svc.stores.positions)
	if err != nil {
		return nil, err
	}
	log.Info().Int("open_positions", len(open)).Msg("risk state synced with open positions")

	metrics := observability.NewMetrics("", prometheus.NewRegistry())

	sinks := []alert.Sink{alert.NewLogSink(componentLogger(log, "alerts"))}
	if len(cfg.Alerts.Kafka.Brokers) > 0 {
		kafkaSink, err := alert.NewKafkaSink(alert.KafkaOptions{
			Brokers:      cfg.Alerts.Kafka.Brokers,
			Topic:        cfg.Alerts.Kafka.Topic,
			WriteTimeout: cfg.Alerts.Kafka.WriteTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka alert sink: %w", err)
		}
		sinks = append(sinks, kafkaSink)
	}
	svc.alerts = alert.NewDispatcher(alert.DispatcherOptions{
		BufferSize:  cfg.Alerts.BufferSize,
		SendTimeout: cfg.Alerts.Kafka.WriteTimeout,
		Sinks:       sinks,
		Logger:      componentLogger(log, "alerts"),
		OnDrop:      metrics.AlertDropped,
	})

	secretProvider := newSecretProvider(cfg.Secrets)

	adapters := source.TechnicalFromConfig(cfg.Sources, source.StoreBarProvider{Store: svc.stores.bars})
	adapters = append(adapters, source.RemoteFromConfig(cfg.Sources, secretProvider)...)
	collector := source.NewCollector(adapters, source.CollectorOptions{
		Timeout:  cfg.Sources.Timeout,
		Logger:   componentLogger(log, "sources"),
		Observer: metrics.ObserveFetch,
	})

	prices, err := svc.openPriceFeed(ctx, cfg)
	if err != nil {
		return nil, err
	}

	broker, err := svc.newBroker(cfg.Execution.Broker, prices, secretProvider)
	if err != nil {
		return nil, err
	}

	retry := execution.RetryPolicyFromConfig(cfg.Execution.Retry)
	engine := execution.NewEngine(execution.EngineOptions{
		Broker:         broker,
		Events:         svc.stores.events,
		Positions:      svc.stores.positions,
		Risk:           svc.risk,
		Sizer:          execution.NewSizer(cfg.Execution, cfg.Risk),
		Retry:          retry,
		OrderType:      domain.OrderType(cfg.Execution.OrderType),
		LimitOffsetPct: cfg.Execution.LimitOffsetPct,
		FillTimeout:    cfg.Execution.FillTimeout,
		PollInterval:   cfg.Execution.PollInterval,
		Alerts:         svc.alerts,
		Logger:         componentLogger(log, "execution"),
		OnSubmit:       metrics.OrderSubmitted,
	})

	svc.monitor = monitor.New(monitor.Options{
		Positions:   svc.stores.positions,
		Risk:        svc.risk,
		Broker:      broker,
		Prices:      prices,
		Retry:       retry,
		Interval:    cfg.Monitor.Interval,
		Concurrency: cfg.Monitor.Concurrency,
		MaxHold:     cfg.Monitor.MaxHold,
		Alerts:      svc.alerts,
		Logger:      componentLogger(log, "monitor"),
		OnClose:     metrics.PositionClosed,
	})

	pipe := pipeline.New(pipeline.Options{
		Config:    holder,
		Bars:      svc.stores.bars,
		Collector: collector,
		Signals:   svc.stores.signals,
		Decisions: svc.stores.decisions,
		Risk:      svc.risk,
		Executor:  engine,
		Alerts:    svc.alerts,
		Recorder:  metrics,
		Logger:    componentLogger(log, "pipeline"),
	})

	svc.orchestrator = orchestrator.New(orchestrator.Options{
		Cycler: pipe,
		Config: holder,
		Logger: componentLogger(log, "orchestrator"),
	})

	handler := api.NewHandler(api.Deps{
		Trigger:   svc.orchestrator,
		Signals:   svc.stores.signals,
		Decisions: svc.stores.decisions,
		Events:    svc.stores.events,
		Positions: svc.stores.positions,
		Closer:    svc.monitor,
		Status:    pipe,
		Adapters:  collector.Health,
		Config:    holder,
		Metrics:   metrics.Handler(),
		Logger:    componentLogger(log, "api"),
	})
	svc.server = api.NewServer(handler, cfg.Server, componentLogger(log, "http"))

	return svc, nil
}

// close releases connections in reverse order of opening.
func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn().Err(err).Msg("close resource")
		}
	}
	s.closers = nil
}

func (s *service) openStores(ctx context.Context, c config.StorageConfig) (*allStores, error) {
	stores := &allStores{}

	switch c.Backend {
	case "postgres":
		pool, err := pgstore.NewPool(ctx, c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.signals = pgstore.NewSignalStore(pool)
		stores.decisions = pgstore.NewRiskDecisionStore(pool)
		stores.positions = pgstore.NewPositionStore(pool)
		stores.events = pgstore.NewExecutionEventStore(pool)
	default:
		stores.signals = memory.NewSignalStore()
		stores.decisions = memory.NewRiskDecisionStore()
		stores.positions = memory.NewPositionStore()
		stores.events = memory.NewExecutionEventStore()
	}

	if c.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, c.ClickhouseDSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		s.closers = append(s.closers, conn.Close)
		stores.bars = chstore.NewBarStore(conn)
	} else {
		stores.bars = memory.NewBarStore()
	}

	s.log.Info().
		Str("backend", c.Backend).
		Bool("clickhouse_bars", c.ClickhouseDSN != "").
		Msg("storage opened")
	return stores, nil
}

func (s *service) openRiskStore(ctx context.Context, c *config.Config) (risk.StateStore, error) {
	initial := risk.State{
		Equity:        c.Risk.InitialEquity,
		PeakEquity:    c.Risk.InitialEquity,
		BuyingPower:   c.Risk.InitialEquity,
		AccountStatus: risk.AccountActive,
	}
	if c.Risk.StateBackend != "redis" {
		return risk.NewMemoryStateStore(initial), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	s.closers = append(s.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", c.Redis.Addr, err)
	}
	st, err := risk.NewRedisStateStore(ctx, client, c.Redis.KeyPrefix, initial)
	if err != nil {
		return nil, fmt.Errorf("redis risk state: %w", err)
	}
	return st, nil
}

func newSecretProvider(c config.SecretsConfig) secrets.Provider {
	if c.Provider == "vault" {
		return secrets.NewVaultProvider(secrets.VaultOptions{
			BaseURL: c.VaultURL,
			Token:   c.VaultToken,
		})
	}
	return secrets.NewEnvProvider(c.EnvPrefix)
}

// openPriceFeed returns the live price source shared by the monitor and
// the paper broker.
func (s *service) openPriceFeed(ctx context.Context, c *config.Config) (monitor.PriceFeed, error) {
	pf := c.Monitor.PriceFeed
	if pf.Kind != "ws" {
		return &monitor.BarPriceFeed{Bars: s.stores.bars, MaxStaleness: pf.MaxStaleness}, nil
	}

	wsCfg := monitor.DefaultWSFeedConfig()
	wsCfg.URL = pf.URL
	if pf.ReconnectDelay > 0 {
		wsCfg.ReconnectDelay = pf.ReconnectDelay
	}
	if pf.PingInterval > 0 {
		wsCfg.PingInterval = pf.PingInterval
	}
	wsCfg.MaxStaleness = pf.MaxStaleness

	feed, err := monitor.NewWSPriceFeed(ctx, wsCfg, componentLogger(s.log, "price_feed"))
	if err != nil {
		return nil, fmt.Errorf("price feed: %w", err)
	}
	s.closers = append(s.closers, feed.Close)
	if err := feed.Subscribe(c.Symbols...); err != nil {
		return nil, fmt.Errorf("price feed subscribe: %w", err)
	}
	return feed, nil
}

func (s *service) newBroker(c config.BrokerConfig, prices monitor.PriceFeed, sp secrets.Provider) (execution.Broker, error) {
	if c.Kind == "http" {
		b := execution.NewHTTPBroker(execution.HTTPBrokerOptions{
			BaseURL:       c.BaseURL,
			SecretName:    c.SecretName,
			Secrets:       sp,
			RatePerSecond: c.RatePerSecond,
		})
		s.account = b
		return b, nil
	}

	scenario, ok := domain.ScenarioByID(c.PaperScenario)
	if !ok {
		return nil, fmt.Errorf("unknown paper scenario %q", c.PaperScenario)
	}
	s.log.Warn().Str("scenario", scenario.ScenarioID).Msg("paper broker in use, orders are simulated")
	return execution.NewPaperBroker(prices, scenario), nil
}
