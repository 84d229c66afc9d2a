package config

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration as read from YAML.
type Config struct {
	Environment string   `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Symbols     []string `yaml:"symbols" validate:"required,min=1,dive,required"`

	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sources   SourcesConfig   `yaml:"sources"`
	Regime    RegimeConfig    `yaml:"regime"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Secrets   SecretsConfig   `yaml:"secrets"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" default:":8080" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type SchedulerConfig struct {
	Interval             time.Duration `yaml:"interval" default:"1m" validate:"gt=0"`
	MaxConcurrentSymbols int           `yaml:"max_concurrent_symbols" default:"4" validate:"min=1"`
}

// SourcesConfig configures the adapters. Technical adapters run unless
// disabled; remote adapters run only when enabled. Adapter ids, which are
// also the consensus weight keys, are momentum, rsi, trend, volume,
// sentiment and analysis.
type SourcesConfig struct {
	Timeout     time.Duration  `yaml:"timeout" default:"3s" validate:"gt=0"`
	BarLookback int            `yaml:"bar_lookback" default:"100" validate:"min=2"`
	Momentum    MomentumConfig `yaml:"momentum"`
	RSI         RSIConfig      `yaml:"rsi"`
	Trend       TrendConfig    `yaml:"trend"`
	Volume      VolumeConfig   `yaml:"volume"`
	Sentiment   RemoteConfig   `yaml:"sentiment"`
	Analysis    RemoteConfig   `yaml:"analysis"`
}

type MomentumConfig struct {
	Disabled     bool    `yaml:"disabled"`
	Period       int     `yaml:"period" default:"10" validate:"min=1"`
	FullScalePct float64 `yaml:"full_scale_pct" default:"5" validate:"gt=0"`
}

type RSIConfig struct {
	Disabled bool `yaml:"disabled"`
	Period   int  `yaml:"period" default:"14" validate:"min=2"`
}

type TrendConfig struct {
	Disabled   bool `yaml:"disabled"`
	FastPeriod int  `yaml:"fast_period" default:"10" validate:"min=1"`
	SlowPeriod int  `yaml:"slow_period" default:"30" validate:"gtfield=FastPeriod"`
}

type VolumeConfig struct {
	Disabled   bool    `yaml:"disabled"`
	Period     int     `yaml:"period" default:"20" validate:"min=2"`
	SurgeRatio float64 `yaml:"surge_ratio" default:"2" validate:"gt=1"`
}

type RemoteConfig struct {
	Enabled       bool    `yaml:"enabled"`
	BaseURL       string  `yaml:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	SecretName    string  `yaml:"secret_name"`
	RatePerSecond float64 `yaml:"rate_per_second" default:"5" validate:"gt=0"`
	Burst         int     `yaml:"burst" default:"1" validate:"min=1"`
}

type RegimeConfig struct {
	Window           int     `yaml:"window" default:"50" validate:"min=2"`
	MinBars          int     `yaml:"min_bars" default:"20" validate:"min=2,ltefield=Window"`
	TrendThreshold   float64 `yaml:"trend_threshold" default:"0.02" validate:"gt=0"`
	CrisisVolatility float64 `yaml:"crisis_volatility" default:"0.04" validate:"gt=0"`
	CrisisDrawdown   float64 `yaml:"crisis_drawdown" default:"0.15" validate:"gt=0,lt=1"`
}

type ConsensusConfig struct {
	Weights       map[string]float64             `yaml:"weights" validate:"required,min=1,dive,keys,required,endkeys,gte=0"`
	BaseThreshold float64                        `yaml:"base_threshold" default:"60" validate:"gte=0,lte=100"`
	NeutralBand   float64                        `yaml:"neutral_band" default:"0.1" validate:"gte=0,lt=1"`
	StopLossPct   float64                        `yaml:"stop_loss_pct" default:"2" validate:"gt=0,lt=100"`
	TakeProfitPct float64                        `yaml:"take_profit_pct" default:"4" validate:"gt=0"`
	Regimes       map[string]RegimeProfileConfig `yaml:"regimes" validate:"dive,keys,oneof=BULL BEAR CHOP CRISIS,endkeys"`
}

type RegimeProfileConfig struct {
	ThresholdOffset      float64 `yaml:"threshold_offset" validate:"gte=0"`
	ConfidenceMultiplier float64 `yaml:"confidence_multiplier" validate:"gt=0"`
	StopWidening         float64 `yaml:"stop_widening" validate:"gte=1"`
}

type RiskConfig struct {
	StateBackend         string              `yaml:"state_backend" default:"memory" validate:"oneof=memory redis"`
	InitialEquity        float64             `yaml:"initial_equity" default:"100000" validate:"gt=0"`
	MaxPositionPct       float64             `yaml:"max_position_pct" default:"10" validate:"gt=0,lte=100"`
	MaxCorrelated        int                 `yaml:"max_correlated" default:"5" validate:"min=1"`
	CorrelationGroups    map[string][]string `yaml:"correlation_groups"`
	DailyLossLimitPct    float64             `yaml:"daily_loss_limit_pct" default:"5" validate:"gt=0"`
	MaxDrawdownPct       float64             `yaml:"max_drawdown_pct" default:"20" validate:"gt=0,lt=100"`
	BuyingPowerBufferPct float64             `yaml:"buying_power_buffer_pct" default:"10" validate:"gte=0"`
}

type ExecutionConfig struct {
	BasePositionPct  float64       `yaml:"base_position_pct" default:"5" validate:"gt=0,lte=100"`
	TargetVolatility float64       `yaml:"target_volatility" default:"0.02" validate:"gt=0"`
	OrderType        string        `yaml:"order_type" default:"MARKET" validate:"oneof=MARKET LIMIT"`
	LimitOffsetPct   float64       `yaml:"limit_offset_pct" default:"0.1" validate:"gte=0"`
	FillTimeout      time.Duration `yaml:"fill_timeout" default:"30s" validate:"gt=0"`
	PollInterval     time.Duration `yaml:"poll_interval" default:"1s" validate:"gt=0"`
	Retry            RetryConfig   `yaml:"retry"`
	Broker           BrokerConfig  `yaml:"broker"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay" default:"1s" validate:"gt=0"`
	Multiplier  float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
	MaxAttempts int           `yaml:"max_attempts" default:"4" validate:"min=1"`
}

type BrokerConfig struct {
	Kind          string  `yaml:"kind" default:"paper" validate:"oneof=paper http"`
	BaseURL       string  `yaml:"base_url" validate:"required_if=Kind http,omitempty,url"`
	SecretName    string  `yaml:"secret_name" default:"broker_token"`
	RatePerSecond float64 `yaml:"rate_per_second" default:"10" validate:"gt=0"`
	PaperScenario string  `yaml:"paper_scenario" default:"realistic" validate:"oneof=optimistic realistic pessimistic degraded"`
}

type MonitorConfig struct {
	Interval    time.Duration   `yaml:"interval" default:"30s" validate:"gt=0"`
	Concurrency int             `yaml:"concurrency" default:"8" validate:"min=1"`
	MaxHold     time.Duration   `yaml:"max_hold"`
	PriceFeed   PriceFeedConfig `yaml:"price_feed"`
}

type PriceFeedConfig struct {
	Kind           string        `yaml:"kind" default:"bars" validate:"oneof=bars ws"`
	URL            string        `yaml:"url" validate:"required_if=Kind ws,omitempty,url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	MaxStaleness   time.Duration `yaml:"max_staleness" default:"1m"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend" default:"memory" validate:"oneof=memory postgres"`
	PostgresDSN   string `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" default:"localhost:6379"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix" default:"signal:risk"`
}

type AlertsConfig struct {
	BufferSize int         `yaml:"buffer_size" default:"256" validate:"min=1"`
	Kafka      KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"signal-alerts"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
}

type SecretsConfig struct {
	Provider  string `yaml:"provider" default:"env" validate:"oneof=env vault"`
	EnvPrefix string `yaml:"env_prefix" default:"SIGNAL_SECRET"`
	VaultURL  string `yaml:"vault_url" validate:"required_if=Provider vault,omitempty,url"`

	// VaultToken comes from SIGNAL_VAULT_TOKEN only.
	VaultToken string `yaml:"-"`
}

// weightTolerance bounds how far configured weights may sum from 1.0.
const weightTolerance = 0.05

var validate = validator.New()

// Load reads path, applies defaults, env overrides and validation.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := ApplyEnv(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate runs tag validation followed by cross-field checks.
func (c *Config) Validate() error {
	if err := validate.StructCtx(context.Background(), c); err != nil {
		return err
	}

	sum := 0.0
	for _, w := range c.Consensus.Weights {
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("consensus weights sum to %.4f, want 1.0 ± %.2f", sum, weightTolerance)
	}

	seen := make(map[string]string)
	for group, symbols := range c.Risk.CorrelationGroups {
		for _, s := range symbols {
			if other, dup := seen[s]; dup && other != group {
				return fmt.Errorf("symbol %s is in correlation groups %s and %s", s, other, group)
			}
			seen[s] = group
		}
	}
	return nil
}

// CorrelationGroup returns the group containing symbol. A symbol outside
// every configured group forms its own group.
func (c *Config) CorrelationGroup(symbol string) string {
	for group, symbols := range c.Risk.CorrelationGroups {
		for _, s := range symbols {
			if s == symbol {
				return group
			}
		}
	}
	return symbol
}
