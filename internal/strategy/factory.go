package strategy

import (
	"errors"
	"time"
)

// Strategy types accepted by FromConfig.
const (
	TypeBracket  = "BRACKET"
	TypeTimeExit = "TIME_EXIT"
)

// Factory errors
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrMissingHoldDuration = errors.New("TIME_EXIT requires a hold duration")
)

// Config selects an exit strategy.
type Config struct {
	Type    string
	MaxHold time.Duration
}

// FromConfig creates a Strategy from cfg. An empty type means BRACKET.
func FromConfig(cfg Config) (Strategy, error) {
	switch cfg.Type {
	case TypeBracket, "":
		return NewBracketStrategy(cfg.MaxHold.Milliseconds()), nil
	case TypeTimeExit:
		if cfg.MaxHold <= 0 {
			return nil, ErrMissingHoldDuration
		}
		return NewTimeExitStrategy(cfg.MaxHold.Milliseconds()), nil
	default:
		return nil, ErrUnknownStrategyType
	}
}
