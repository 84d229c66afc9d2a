package domain

// RiskOutcome is the verdict of the risk gate.
type RiskOutcome string

const (
	RiskApproved RiskOutcome = "APPROVED"
	RiskRejected RiskOutcome = "REJECTED"
	RiskAdjusted RiskOutcome = "ADJUSTED"
)

// Risk layers in evaluation order.
const (
	LayerAccountStatus = 1
	LayerConfidence    = 2
	LayerPositionSize  = 3
	LayerCorrelation   = 4
	LayerDailyLoss     = 5
	LayerDrawdown      = 6
	LayerBuyingPower   = 7
)

// LayerName returns a stable name for a risk layer number.
func LayerName(layer int) string {
	switch layer {
	case LayerAccountStatus:
		return "account_status"
	case LayerConfidence:
		return "confidence"
	case LayerPositionSize:
		return "position_size"
	case LayerCorrelation:
		return "correlation"
	case LayerDailyLoss:
		return "daily_loss"
	case LayerDrawdown:
		return "drawdown"
	case LayerBuyingPower:
		return "buying_power"
	}
	return "unknown"
}

// RiskDecision is the persisted result of evaluating one signal.
// Corresponds to the risk_decisions table; immutable once written.
type RiskDecision struct {
	SignalID                string
	Outcome                 RiskOutcome
	RequestedSizePct        float64  // size proposed before layer 3
	AdjustedPositionSizePct *float64 // set when layer 3 capped the size
	RejectionLayer          *int     // set when Outcome is REJECTED
	Reason                  string   // human readable, empty on plain approval
	EvaluatedAt             int64    // ms
}

// Allowed reports whether execution may proceed.
func (d *RiskDecision) Allowed() bool {
	return d.Outcome == RiskApproved || d.Outcome == RiskAdjusted
}
