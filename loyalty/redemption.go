/*
redemption.go - Redemption Processor

PURPOSE:
  Validates and atomically debits a client's balance when a reward is
  redeemed. The balance check and the debit append are one atomic unit:
  the Ledger materializes the post-debit balance inside its optimistic
  retry loop and the store commits it together with the transaction, so
  under concurrent redemptions that jointly overdraw, only the requests
  that fit within the balance succeed.

  Redemption is balance-only: it never touches the spend/visit aggregates
  and never triggers tier re-evaluation.
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RedemptionInput struct {
	ClientID  ClientID
	ProgramID ProgramID
	Amount    decimal.Decimal
	Unit      Unit // defaults to cashback
	RelatedSaleID string
	// Optional caller-supplied retry token. Derived from RelatedSaleID
	// when empty and a sale is linked.
	IdempotencyKey string
}

type RedemptionProcessor struct {
	Ledger *Ledger
}

func NewRedemptionProcessor(ledger *Ledger) *RedemptionProcessor {
	return &RedemptionProcessor{Ledger: ledger}
}

// Redeem debits the client's available balance and returns the
// post-redemption balance. Fails with InsufficientBalanceError when the
// amount exceeds the available balance at the moment of the debit.
func (p *RedemptionProcessor) Redeem(ctx context.Context, in RedemptionInput) (bal ClientBalance, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		RedemptionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	if !in.Amount.IsPositive() {
		return ClientBalance{}, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	unit := in.Unit
	if unit == "" {
		unit = UnitCashback
	}
	if unit == UnitPoints && !in.Amount.Equal(in.Amount.Floor()) {
		return ClientBalance{}, &ValidationError{Field: "amount", Message: "points must be whole"}
	}

	if _, err := p.Ledger.Registry.GetProgram(ctx, in.ProgramID); err != nil {
		return ClientBalance{}, err
	}

	key := in.IdempotencyKey
	if key == "" && in.RelatedSaleID != "" {
		key = fmt.Sprintf("redeem:%s:%s", in.RelatedSaleID, unit)
	}

	debit := Transaction{
		ID:             newTransactionID(),
		ClientID:       in.ClientID,
		ProgramID:      in.ProgramID,
		Type:           TxRedemption,
		Amount:         NewAmountFromDecimal(in.Amount.Neg(), unit),
		RelatedSaleID:  in.RelatedSaleID,
		Reason:         "reward redemption",
		IdempotencyKey: key,
	}

	if _, err := p.Ledger.Append(ctx, debit); err != nil {
		return ClientBalance{}, err
	}

	return p.Ledger.GetBalance(ctx, in.ClientID, in.ProgramID)
}
