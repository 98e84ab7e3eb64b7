package loyalty_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

// newFundedEngine returns an engine whose client-1 holds 100.00 available
// cashback and 1000 available points.
func newFundedEngine(t *testing.T) (*testEngine, *loyalty.RedemptionProcessor) {
	t.Helper()
	e := newTestEngine(t, percentageProgram())
	e.recordSale(t, "sale-fund", "client-1", "1000")
	return e, loyalty.NewRedemptionProcessor(e.Ledger)
}

func TestRedeem_DebitsAvailableBalance(t *testing.T) {
	// GIVEN: 100.00 available cashback
	// WHEN: 40.00 is redeemed
	// THEN: 60.00 remains and the lifetime redeemed total grows

	_, proc := newFundedEngine(t)

	bal, err := proc.Redeem(context.Background(), loyalty.RedemptionInput{
		ClientID:       "client-1",
		ProgramID:      "prog-1",
		Amount:         dec("40"),
		IdempotencyKey: "redeem-1",
	})
	require.NoError(t, err)
	assert.True(t, bal.CashbackAvailable.Equal(dec("60")), "got %s", bal.CashbackAvailable)
	assert.True(t, bal.LifetimeRedeemedCashback.Equal(dec("40")))
	assert.True(t, bal.LifetimeEarnedCashback.Equal(dec("100")), "redemption never shrinks lifetime earned")
}

func TestRedeem_InsufficientBalanceReportsShortfall(t *testing.T) {
	// GIVEN: 100.00 available cashback
	// WHEN: 130.00 is requested
	// THEN: The debit fails with the exact shortfall and nothing is written

	e, proc := newFundedEngine(t)

	_, err := proc.Redeem(context.Background(), loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-1", Amount: dec("130"),
	})
	var insuff *loyalty.InsufficientBalanceError
	require.ErrorAs(t, err, &insuff)
	assert.True(t, insuff.Available.Equal(dec("100")))
	assert.True(t, insuff.Requested.Equal(dec("130")))
	assert.True(t, insuff.Shortfall.Equal(dec("30")))

	bal := e.balance(t, "client-1")
	assert.True(t, bal.CashbackAvailable.Equal(dec("100")), "failed debit leaves no trace")
}

func TestRedeem_PointsMustBeWhole(t *testing.T) {
	_, proc := newFundedEngine(t)

	_, err := proc.Redeem(context.Background(), loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-1",
		Amount: dec("10.5"), Unit: loyalty.UnitPoints,
	})
	assert.ErrorIs(t, err, loyalty.ErrValidation)
}

func TestRedeem_PointsDebitOwnUnit(t *testing.T) {
	// GIVEN: 1000 points and 100.00 cashback
	// WHEN: 300 points are redeemed
	// THEN: Only the points balance moves

	_, proc := newFundedEngine(t)

	bal, err := proc.Redeem(context.Background(), loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-1",
		Amount: dec("300"), Unit: loyalty.UnitPoints,
	})
	require.NoError(t, err)
	assert.True(t, bal.PointsAvailable.Equal(dec("700")))
	assert.True(t, bal.CashbackAvailable.Equal(dec("100")))
	assert.True(t, bal.LifetimeRedeemedPoints.Equal(dec("300")))
}

func TestRedeem_PendingBalanceNotSpendable(t *testing.T) {
	// GIVEN: Cashback still inside its settlement hold
	// WHEN: A redemption against it is attempted
	// THEN: Pending funds do not cover the debit

	program := percentageProgram()
	program.PointsEnabled = false
	program.CashbackHoldDays = 14
	e := newTestEngine(t, program)
	e.recordSale(t, "sale-1", "client-1", "1000") // 100.00, all pending
	proc := loyalty.NewRedemptionProcessor(e.Ledger)

	_, err := proc.Redeem(context.Background(), loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-1", Amount: dec("50"),
	})
	assert.ErrorIs(t, err, loyalty.ErrInsufficientBalance)
}

func TestRedeem_ShortfallReportsMaturedPending(t *testing.T) {
	// GIVEN: 100.00 cashback accrued under a 14 day hold, now matured,
	// while the stored balance row still carries it as pending
	program := percentageProgram()
	program.PointsEnabled = false
	program.CashbackHoldDays = 14
	e := newTestEngine(t, program)
	e.recordSale(t, "sale-1", "client-1", "1000")
	e.advance(15 * 24 * time.Hour)
	proc := loyalty.NewRedemptionProcessor(e.Ledger)

	// WHEN: 130.00 is requested against the 100.00 now spendable
	_, err := proc.Redeem(context.Background(), loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-1", Amount: dec("130"),
	})

	// THEN: The rejection reports the matured 100.00, not the stale
	// stored row's zero
	var insufficient *loyalty.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(dec("100")), "got %s", insufficient.Available)
	assert.True(t, insufficient.Requested.Equal(dec("130")))
	assert.True(t, insufficient.Shortfall.Equal(dec("30")), "got %s", insufficient.Shortfall)
}

func TestRedeem_SameKeyDebitsOnce(t *testing.T) {
	// GIVEN: A redemption linked to sale visit-9
	// WHEN: The request is retried with the same linkage
	// THEN: The balance is debited exactly once

	_, proc := newFundedEngine(t)
	ctx := context.Background()

	in := loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-1",
		Amount: dec("40"), RelatedSaleID: "visit-9",
	}
	_, err := proc.Redeem(ctx, in)
	require.NoError(t, err)
	bal, err := proc.Redeem(ctx, in)
	require.NoError(t, err)

	assert.True(t, bal.CashbackAvailable.Equal(dec("60")), "got %s", bal.CashbackAvailable)
}

func TestRedeem_ConcurrentOverdrawAdmitsOnlyOne(t *testing.T) {
	// GIVEN: 100.00 available and two concurrent 60.00 redemptions
	// WHEN: Both race through the check-and-debit
	// THEN: Exactly one succeeds; the other fails on insufficient balance

	e, proc := newFundedEngine(t)
	e.Ledger.MaxRetries = 50
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = proc.Redeem(ctx, loyalty.RedemptionInput{
				ClientID: "client-1", ProgramID: "prog-1",
				Amount:         dec("60"),
				IdempotencyKey: []string{"race-a", "race-b"}[i],
			})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			require.True(t, errors.Is(err, loyalty.ErrInsufficientBalance), "unexpected error: %v", err)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one redemption must be rejected")

	bal := e.balance(t, "client-1")
	assert.True(t, bal.CashbackAvailable.Equal(dec("40")), "got %s", bal.CashbackAvailable)
}

func TestRedeem_Validation(t *testing.T) {
	_, proc := newFundedEngine(t)
	ctx := context.Background()

	_, err := proc.Redeem(ctx, loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-1", Amount: dec("0"),
	})
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	_, err = proc.Redeem(ctx, loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-missing", Amount: dec("10"),
	})
	assert.ErrorIs(t, err, loyalty.ErrProgramNotFound)
}
