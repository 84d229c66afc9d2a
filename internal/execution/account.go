package execution

import (
	"context"
	"fmt"
	"strings"

	"trade-signal-pipeline/internal/risk"
)

// SyncAccount copies the broker's equity, buying power and account
// status into the risk state. Equity goes through UpdateEquity so the
// drawdown peak keeps rising monotonically.
func SyncAccount(ctx context.Context, reader AccountReader, st risk.StateStore) (risk.State, error) {
	acct, err := reader.Account(ctx)
	if err != nil {
		return risk.State{}, fmt.Errorf("read broker account: %w", err)
	}

	cur, err := st.UpdateEquity(ctx, acct.Equity)
	if err != nil {
		return risk.State{}, err
	}
	if delta := acct.BuyingPower - cur.BuyingPower; delta != 0 {
		if cur, err = st.AdjustBuyingPower(ctx, delta); err != nil {
			return risk.State{}, err
		}
	}

	status := risk.AccountStatus(strings.ToUpper(acct.Status))
	switch status {
	case risk.AccountActive, risk.AccountRestricted, risk.AccountSuspended:
	default:
		// Unknown states block trading until someone looks.
		status = risk.AccountRestricted
	}
	if status != cur.AccountStatus {
		if err := st.SetAccountStatus(ctx, status); err != nil {
			return risk.State{}, err
		}
		cur.AccountStatus = status
	}
	return cur, nil
}
