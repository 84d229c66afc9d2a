package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"trade-signal-pipeline/internal/domain"
)

// floatPrecision is the fixed number of decimals used for every float
// in canonical form.
const floatPrecision = 8

// CanonicalSignal renders the hashed subset of a signal.
// Format: id|symbol|action|regime|entry|stop|target|confidence|src=w,...|created_at|supersedes_id
// Sources keep the signal's own order.
func CanonicalSignal(s *domain.Signal) string {
	var sources strings.Builder
	for i, sw := range s.ContributingSources {
		if i > 0 {
			sources.WriteByte(',')
		}
		sources.WriteString(sw.SourceID)
		sources.WriteByte('=')
		sources.WriteString(formatFloat(sw.Weight))
	}

	parts := []string{
		s.ID,
		s.Symbol,
		string(s.Action),
		string(s.Regime),
		formatFloat(s.EntryPrice),
		formatFloat(s.StopPrice),
		formatFloat(s.TargetPrice),
		formatFloat(s.Confidence),
		sources.String(),
		strconv.FormatInt(s.CreatedAt, 10),
		s.SupersedesID,
	}
	return strings.Join(parts, "|")
}

// ComputeSignalHash computes the integrity hash of a signal.
// Returns hex-encoded SHA256 (64 characters).
func ComputeSignalHash(s *domain.Signal) string {
	hash := sha256.Sum256([]byte(CanonicalSignal(s)))
	return hex.EncodeToString(hash[:])
}

// VerifySignalHash reports whether the stored hash matches the recomputed one.
func VerifySignalHash(s *domain.Signal) bool {
	return s.IntegrityHash != "" && s.IntegrityHash == ComputeSignalHash(s)
}

func formatFloat(v float64) string {
	// -0 and 0 must hash the same
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', floatPrecision, 64)
}
