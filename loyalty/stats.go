/*
stats.go - Program-level aggregate statistics

PURPOSE:
  Computes the per-program summary the salon dashboard shows: member
  count, credit issued vs redeemed, and the redemption rate. Like the
  leaderboard this is a pure read path over the transaction log; it
  never takes balance locks.

SEE ALSO:
  - leaderboard.go: the other log-replay read path
  - ledger.go: the write path that produces the log
*/
package loyalty

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ProgramStats summarizes a program's lifetime activity.
type ProgramStats struct {
	ProgramID ProgramID
	Members   int

	CashbackIssued   decimal.Decimal
	CashbackRedeemed decimal.Decimal
	PointsIssued     decimal.Decimal
	PointsRedeemed   decimal.Decimal

	// RedemptionRate is redeemed cashback over issued cashback, in [0, 1].
	// Zero when nothing has been issued.
	RedemptionRate decimal.Decimal
}

// ProgramStats replays the program's full transaction log and counts
// materialized balances. Issued sums the credit types (accruals, tier
// bonuses, positive adjustments); redeemed sums redemption debits.
// Expirations count as neither.
func (l *Ledger) ProgramStats(ctx context.Context, programID ProgramID) (ProgramStats, error) {
	if _, err := l.Registry.GetProgram(ctx, programID); err != nil {
		return ProgramStats{}, err
	}

	balances, err := l.Store.ListBalancesByProgram(ctx, programID)
	if err != nil {
		return ProgramStats{}, err
	}

	txs, err := l.Store.LoadByProgram(ctx, programID, time.Time{}, l.Now())
	if err != nil {
		return ProgramStats{}, err
	}

	stats := ProgramStats{
		ProgramID:        programID,
		Members:          len(balances),
		CashbackIssued:   decimal.Zero,
		CashbackRedeemed: decimal.Zero,
		PointsIssued:     decimal.Zero,
		PointsRedeemed:   decimal.Zero,
		RedemptionRate:   decimal.Zero,
	}

	for _, tx := range txs {
		switch {
		case tx.Type == TxRedemption:
			redeemed := tx.Amount.Value.Neg()
			if tx.Amount.Unit == UnitPoints {
				stats.PointsRedeemed = stats.PointsRedeemed.Add(redeemed)
			} else {
				stats.CashbackRedeemed = stats.CashbackRedeemed.Add(redeemed)
			}
		case tx.IsCredit():
			if tx.Amount.Unit == UnitPoints {
				stats.PointsIssued = stats.PointsIssued.Add(tx.Amount.Value)
			} else {
				stats.CashbackIssued = stats.CashbackIssued.Add(tx.Amount.Value)
			}
		}
	}

	if stats.CashbackIssued.IsPositive() {
		stats.RedemptionRate = stats.CashbackRedeemed.
			Div(stats.CashbackIssued).
			Round(4)
	}
	return stats, nil
}
