/*
balance.go - Materialization of balances from the transaction log

PURPOSE:
  Computes the ClientBalance for a (client, program) pair by replaying its
  transactions. This is the only place balance math lives; the Ledger calls
  it on every write and the sweep calls it to settle matured pending
  credits. Replay keeps the materialized row provably equal to the
  transaction sum at all times.

SPLIT RULES:
  - Available(unit) = sum of that unit's amounts whose EffectiveAt <= now
  - Pending(unit)   = sum of future-effective credits of that unit
  - Available + Pending == sum of all amounts, per unit

AGGREGATES:
  Spend and visit aggregates come only from accrual transactions with a
  linked sale. Multiple accruals from one sale (cashback + points) count
  the sale once. MonthlySpent covers the trailing 30 days.
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthlyWindow is the trailing window over which MonthlySpent is computed.
const MonthlyWindow = 30 * 24 * time.Hour

// Materialize replays a pair's transactions into a ClientBalance as of now.
// CurrentTierID and Version are carried from prior; the tier evaluator and
// the store own those fields respectively.
func Materialize(clientID ClientID, programID ProgramID, txs []Transaction, prior *ClientBalance, now time.Time) ClientBalance {
	b := ZeroBalance(clientID, programID)
	if prior != nil {
		b.CurrentTierID = prior.CurrentTierID
		b.Version = prior.Version
	}

	// Distinct sales for spend/visit aggregates.
	saleAmounts := make(map[string]decimal.Decimal)
	saleSeen := make(map[string]time.Time)

	for _, tx := range txs {
		pending := tx.IsPending(now)

		switch tx.Amount.Unit {
		case UnitPoints:
			if pending {
				b.PointsPending = b.PointsPending.Add(tx.Amount.Value)
			} else {
				b.PointsAvailable = b.PointsAvailable.Add(tx.Amount.Value)
			}
			if tx.IsCredit() {
				b.LifetimeEarnedPoints = b.LifetimeEarnedPoints.Add(tx.Amount.Value)
			} else if tx.Type == TxRedemption {
				b.LifetimeRedeemedPoints = b.LifetimeRedeemedPoints.Sub(tx.Amount.Value)
			}
		default:
			if pending {
				b.CashbackPending = b.CashbackPending.Add(tx.Amount.Value)
			} else {
				b.CashbackAvailable = b.CashbackAvailable.Add(tx.Amount.Value)
			}
			if tx.IsCredit() {
				b.LifetimeEarnedCashback = b.LifetimeEarnedCashback.Add(tx.Amount.Value)
			} else if tx.Type == TxRedemption {
				b.LifetimeRedeemedCashback = b.LifetimeRedeemedCashback.Sub(tx.Amount.Value)
			}
		}

		if tx.Type == TxAccrual && tx.RelatedSaleID != "" {
			if existing, ok := saleAmounts[tx.RelatedSaleID]; !ok || tx.SaleAmount.GreaterThan(existing) {
				saleAmounts[tx.RelatedSaleID] = tx.SaleAmount
			}
			if at, ok := saleSeen[tx.RelatedSaleID]; !ok || tx.CreatedAt.Before(at) {
				saleSeen[tx.RelatedSaleID] = tx.CreatedAt
			}
		}
	}

	monthStart := now.Add(-MonthlyWindow)
	for saleID, amount := range saleAmounts {
		b.TotalSpent = b.TotalSpent.Add(amount)
		b.TotalVisits++
		if !saleSeen[saleID].Before(monthStart) {
			b.MonthlySpent = b.MonthlySpent.Add(amount)
		}
	}

	b.UpdatedAt = now
	return b
}
