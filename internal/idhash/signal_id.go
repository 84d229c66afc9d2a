package idhash

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"trade-signal-pipeline/internal/domain"
)

// ComputeSignalID computes a deterministic signal id from the inputs of a cycle.
// Formula: base58(SHA256(symbol|created_at|src:score:confidence,...))
// Inputs must already be ordered by source id.
func ComputeSignalID(symbol string, createdAt int64, inputs []*domain.SourceSignal) string {
	var sb strings.Builder
	for i, in := range inputs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%s:%s:%s", in.SourceID, formatFloat(in.DirectionalScore), formatFloat(in.Confidence)))
	}

	data := fmt.Sprintf("%s|%d|%s", symbol, createdAt, sb.String())
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
