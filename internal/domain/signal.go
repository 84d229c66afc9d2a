package domain

// Action is the trade direction of a signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// SourceWeight is a contributing source and the effective weight it had.
type SourceWeight struct {
	SourceID string
	Weight   float64
}

// Signal is a single trade recommendation.
// Corresponds to the signals table. Write-once: a correction is a new
// Signal whose SupersedesID points at the original.
type Signal struct {
	ID                  string         // deterministic base58 id
	Symbol              string         // instrument symbol
	Action              Action         // BUY | SELL
	Regime              Regime         // regime in force at creation
	EntryPrice          float64        // reference entry price
	StopPrice           float64        // stop-loss level
	TargetPrice         float64        // take-profit level
	Confidence          float64        // 0..100, regime-adjusted
	ContributingSources []SourceWeight // ordered by source id
	SupersedesID        string         // empty unless this corrects an earlier signal
	IntegrityHash       string         // hex SHA256 over canonical fields
	CreatedAt           int64          // creation time (ms)
}

// Clone returns a deep copy.
func (s *Signal) Clone() *Signal {
	c := *s
	if s.ContributingSources != nil {
		c.ContributingSources = make([]SourceWeight, len(s.ContributingSources))
		copy(c.ContributingSources, s.ContributingSources)
	}
	return &c
}
