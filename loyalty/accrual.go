/*
accrual.go - Accrual Calculator: sale -> ledger credits

PURPOSE:
  Given a completed sale, computes the cashback and/or point transactions
  the program grants, applying the client's current tier multiplier.
  Pure calculation; persistence happens in the Ledger.

RULES:
  cashback = (percentage ? amount * value / 100 : value) * tier multiplier
  points   = floor(amount * pointsPerCurrencyUnit)   -- never fractional

IDEMPOTENCY:
  Keys derive from the sale id ("accrual:<sale>:<unit>") so a retried sale
  event cannot double-credit: the Ledger treats a duplicate key as a no-op
  replay returning the original transaction.
*/
package loyalty

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sale is a completed, currency-denominated sale event.
type Sale struct {
	SaleID     string
	ClientID   ClientID
	ProgramID  ProgramID
	Amount     decimal.Decimal
	OccurredAt time.Time
}

func newTransactionID() TransactionID {
	return TransactionID(uuid.NewString())
}

// SaleIdempotencyKey derives the accrual idempotency key for one unit of a
// sale's credit.
func SaleIdempotencyKey(saleID string, unit Unit) string {
	return fmt.Sprintf("accrual:%s:%s", saleID, unit)
}

// TierBonusIdempotencyKey derives the one-time key for a promotion bonus.
func TierBonusIdempotencyKey(clientID ClientID, tierID TierID) string {
	return fmt.Sprintf("tier-bonus:%s:%s", clientID, tierID)
}

// ComputeAccrual returns the credit transactions a sale earns under the
// program, zero to two entries (cashback and/or points). currentTier may be
// nil; its multiplier then defaults to 1.0. Cashback credits respect the
// program's settlement hold via a future EffectiveAt.
func ComputeAccrual(program Program, currentTier *Tier, sale Sale, now time.Time) ([]Transaction, error) {
	if sale.SaleID == "" {
		return nil, &ValidationError{Field: "saleId", Message: "must not be empty"}
	}
	if !sale.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !program.IsActive {
		return nil, ErrProgramInactive
	}

	occurred := sale.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}

	var txs []Transaction

	if program.CashbackEnabled {
		var cashback decimal.Decimal
		if program.CashbackType == CashbackPercentage {
			cashback = sale.Amount.Mul(program.CashbackValue).Div(decimal.NewFromInt(100))
		} else {
			cashback = program.CashbackValue
		}
		cashback = cashback.Mul(Multiplier(currentTier)).Round(2)

		if cashback.IsPositive() {
			effective := occurred
			if program.CashbackHoldDays > 0 {
				effective = occurred.AddDate(0, 0, program.CashbackHoldDays)
			}
			txs = append(txs, Transaction{
				ID:             newTransactionID(),
				ClientID:       sale.ClientID,
				ProgramID:      sale.ProgramID,
				Type:           TxAccrual,
				Amount:         NewAmountFromDecimal(cashback, UnitCashback),
				SaleAmount:     sale.Amount,
				RelatedSaleID:  sale.SaleID,
				EffectiveAt:    effective,
				Reason:         fmt.Sprintf("cashback for sale %s", sale.SaleID),
				IdempotencyKey: SaleIdempotencyKey(sale.SaleID, UnitCashback),
				CreatedAt:      now,
			})
		}
	}

	if program.PointsEnabled {
		points := sale.Amount.Mul(program.PointsPerCurrencyUnit).Floor()
		if points.IsPositive() {
			txs = append(txs, Transaction{
				ID:             newTransactionID(),
				ClientID:       sale.ClientID,
				ProgramID:      sale.ProgramID,
				Type:           TxAccrual,
				Amount:         NewAmountFromDecimal(points, UnitPoints),
				SaleAmount:     sale.Amount,
				RelatedSaleID:  sale.SaleID,
				EffectiveAt:    occurred,
				Reason:         fmt.Sprintf("points for sale %s", sale.SaleID),
				IdempotencyKey: SaleIdempotencyKey(sale.SaleID, UnitPoints),
				CreatedAt:      now,
			})
		}
	}

	return txs, nil
}
