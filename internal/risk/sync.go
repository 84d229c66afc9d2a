package risk

import (
	"context"
	"fmt"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// SyncOpenPositions copies the symbols of all OPEN positions into the
// risk state and returns the positions it read.
func SyncOpenPositions(ctx context.Context, st StateStore, positions storage.PositionStore) ([]*domain.Position, error) {
	open, err := positions.GetOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	symbols := make([]string, len(open))
	for i, p := range open {
		symbols[i] = p.Symbol
	}
	if err := st.SetOpenPositions(ctx, symbols); err != nil {
		return nil, err
	}
	return open, nil
}
