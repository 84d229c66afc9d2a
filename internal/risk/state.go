package risk

import (
	"context"
	"time"
)

// AccountStatus is the broker account standing checked by layer 1.
type AccountStatus string

const (
	AccountActive     AccountStatus = "ACTIVE"
	AccountRestricted AccountStatus = "RESTRICTED"
	AccountSuspended  AccountStatus = "SUSPENDED"
)

// State is a point-in-time view of the account-level risk counters.
type State struct {
	Equity           float64       `json:"equity"`
	PeakEquity       float64       `json:"peak_equity"`
	DayKey           string        `json:"day_key"`
	DailyRealizedPnL float64       `json:"daily_realized_pnl"`
	UnrealizedPnL    float64       `json:"unrealized_pnl"`
	BuyingPower      float64       `json:"buying_power"`
	OpenPositions    []string      `json:"open_positions"` // one symbol per open position
	AccountStatus    AccountStatus `json:"account_status"`
}

// DrawdownPct is the decline of equity from its peak, in percent.
func (s State) DrawdownPct() float64 {
	if s.PeakEquity <= 0 || s.Equity >= s.PeakEquity {
		return 0
	}
	return (s.PeakEquity - s.Equity) / s.PeakEquity * 100
}

// DailyLossPct is today's realized plus unrealized loss as a percent of
// equity. Gains count as zero; a stale day key means no realized loss yet.
func (s State) DailyLossPct(day string) float64 {
	pnl := s.UnrealizedPnL
	if s.DayKey == day {
		pnl += s.DailyRealizedPnL
	}
	if pnl >= 0 || s.Equity <= 0 {
		return 0
	}
	return -pnl / s.Equity * 100
}

// DayKey returns the UTC calendar day used to bucket daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// StateStore holds the shared risk counters. Every mutating call is an
// atomic read-modify-write and returns the state it produced.
type StateStore interface {
	Snapshot(ctx context.Context) (State, error)

	// UpdateEquity sets equity and raises the peak if equity exceeds it.
	// The peak never decreases.
	UpdateEquity(ctx context.Context, equity float64) (State, error)

	// AddRealizedPnL adds delta to the day's realized pnl and to equity,
	// resetting the daily counter first when day differs from the stored key.
	AddRealizedPnL(ctx context.Context, day string, delta float64) (State, error)

	SetUnrealizedPnL(ctx context.Context, pnl float64) error
	AdjustBuyingPower(ctx context.Context, delta float64) (State, error)
	SetAccountStatus(ctx context.Context, status AccountStatus) error
	SetOpenPositions(ctx context.Context, symbols []string) error
}
