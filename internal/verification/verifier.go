// Package verification recomputes signal integrity hashes and reports
// stored signals that no longer match their canonical form.
package verification

import (
	"context"
	"errors"
	"fmt"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/idhash"
	"trade-signal-pipeline/internal/storage"
)

// FieldDivergence represents a mismatch between stored and recomputed values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // stored value
	Actual   interface{} // recomputed or resolved value
}

// VerificationResult contains the result of verifying a single signal.
type VerificationResult struct {
	SignalID     string            `json:"signal_id"`
	Match        bool              `json:"match"`
	StoredHash   string            `json:"stored_hash"`
	ComputedHash string            `json:"computed_hash"`
	Divergences  []FieldDivergence `json:"divergences,omitempty"`
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalSignals     int                  // total signals verified
	MatchedSignals   int                  // signals whose hash matched
	DivergentSignals int                  // signals with divergences
	Results          []VerificationResult // individual results, in created_at order
}

// Verifier checks stored signals.
type Verifier interface {
	// VerifySignal verifies a single signal by ID.
	VerifySignal(ctx context.Context, id string) (*VerificationResult, error)

	// VerifyRange verifies all signals created within [start, end].
	VerifyRange(ctx context.Context, start, end int64) (*VerificationReport, error)
}

// Check recomputes the hash of s and validates its enumerations.
func Check(s *domain.Signal) VerificationResult {
	res := VerificationResult{
		SignalID:     s.ID,
		StoredHash:   s.IntegrityHash,
		ComputedHash: idhash.ComputeSignalHash(s),
	}
	if res.StoredHash != res.ComputedHash {
		res.Divergences = append(res.Divergences, FieldDivergence{
			Field:    "IntegrityHash",
			Expected: res.StoredHash,
			Actual:   res.ComputedHash,
		})
	}
	if s.Action != domain.ActionBuy && s.Action != domain.ActionSell {
		res.Divergences = append(res.Divergences, FieldDivergence{
			Field:    "Action",
			Expected: "BUY|SELL",
			Actual:   s.Action,
		})
	}
	if !s.Regime.IsValid() {
		res.Divergences = append(res.Divergences, FieldDivergence{
			Field:    "Regime",
			Expected: "BULL|BEAR|CHOP|CRISIS",
			Actual:   s.Regime,
		})
	}
	res.Match = len(res.Divergences) == 0
	return res
}

// HashVerifier verifies signals held in a SignalStore.
type HashVerifier struct {
	signals storage.SignalStore
}

var _ Verifier = (*HashVerifier)(nil)

// NewHashVerifier creates a verifier over signals.
func NewHashVerifier(signals storage.SignalStore) *HashVerifier {
	return &HashVerifier{signals: signals}
}

// VerifySignal loads one signal and checks it. A correction whose
// superseded signal is missing is reported as a divergence.
func (v *HashVerifier) VerifySignal(ctx context.Context, id string) (*VerificationResult, error) {
	s, err := v.signals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := v.verify(ctx, s)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyRange checks every signal created within [start, end].
func (v *HashVerifier) VerifyRange(ctx context.Context, start, end int64) (*VerificationReport, error) {
	signals, err := v.signals.GetByTimeRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}

	report := &VerificationReport{Results: make([]VerificationResult, 0, len(signals))}
	for _, s := range signals {
		res, err := v.verify(ctx, s)
		if err != nil {
			return nil, err
		}
		report.TotalSignals++
		if res.Match {
			report.MatchedSignals++
		} else {
			report.DivergentSignals++
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (v *HashVerifier) verify(ctx context.Context, s *domain.Signal) (VerificationResult, error) {
	res := Check(s)
	if s.SupersedesID == "" {
		return res, nil
	}
	_, err := v.signals.GetByID(ctx, s.SupersedesID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		res.Divergences = append(res.Divergences, FieldDivergence{
			Field:    "SupersedesID",
			Expected: s.SupersedesID,
			Actual:   nil,
		})
		res.Match = false
	case err != nil:
		return res, fmt.Errorf("resolve superseded %s: %w", s.SupersedesID, err)
	}
	return res, nil
}
