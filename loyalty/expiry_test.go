package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

func expiringProgram() loyalty.Program {
	p := percentageProgram()
	p.PointsEnabled = false
	p.CashbackExpiryDays = 90
	return p
}

// =============================================================================
// SWEEP TESTS
// =============================================================================

func TestSweep_ExpiresUnredeemedRemainder(t *testing.T) {
	// GIVEN: A 100.00 accrual under a 90-day expiry, 30.00 of it redeemed
	// WHEN: The sweep runs past the expiry window
	// THEN: Only the 70.00 remainder expires and the balance zeroes out

	e := newTestEngine(t, expiringProgram())
	sweeper := loyalty.NewSweeper(e.Ledger, zerolog.Nop())
	proc := loyalty.NewRedemptionProcessor(e.Ledger)
	ctx := context.Background()

	e.recordSale(t, "sale-1", "client-1", "1000") // +100.00 cashback
	e.advance(10 * 24 * time.Hour)
	_, err := proc.Redeem(ctx, loyalty.RedemptionInput{
		ClientID: "client-1", ProgramID: "prog-1", Amount: dec("30"), IdempotencyKey: "redeem-1",
	})
	require.NoError(t, err)

	e.advance(85 * 24 * time.Hour) // 95 days past accrual

	result, err := sweeper.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProgramsScanned)
	assert.Equal(t, 1, result.ClientsScanned)
	assert.Equal(t, 1, result.LotsExpired)
	assert.True(t, result.CashbackExpired.Equal(dec("70")), "got %s", result.CashbackExpired)

	bal := e.balance(t, "client-1")
	assert.True(t, bal.CashbackAvailable.IsZero(), "got %s", bal.CashbackAvailable)
}

func TestSweep_RerunIsIdempotent(t *testing.T) {
	// GIVEN: A sweep that already expired a lot
	// WHEN: The sweep runs again
	// THEN: Nothing new expires; the lot stays closed

	e := newTestEngine(t, expiringProgram())
	sweeper := loyalty.NewSweeper(e.Ledger, zerolog.Nop())
	ctx := context.Background()

	e.recordSale(t, "sale-1", "client-1", "500")
	e.advance(91 * 24 * time.Hour)

	first, err := sweeper.SweepAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.LotsExpired)

	second, err := sweeper.SweepAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.LotsExpired)
	assert.True(t, second.CashbackExpired.IsZero())

	bal := e.balance(t, "client-1")
	assert.True(t, bal.CashbackAvailable.IsZero())
}

func TestSweep_PendingCreditCannotExpire(t *testing.T) {
	// GIVEN: An expiry window shorter than the settlement hold
	// WHEN: The sweep runs while the credit is still pending
	// THEN: The lot is skipped; its window starts at settlement

	p := expiringProgram()
	p.CashbackExpiryDays = 10
	p.CashbackHoldDays = 30
	e := newTestEngine(t, p)
	sweeper := loyalty.NewSweeper(e.Ledger, zerolog.Nop())

	e.recordSale(t, "sale-1", "client-1", "100")
	e.advance(20 * 24 * time.Hour) // past expiry days, still inside the hold

	result, err := sweeper.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.LotsExpired)

	bal := e.balance(t, "client-1")
	assert.True(t, bal.CashbackPending.Equal(dec("10")))
}

func TestSweep_SkipsProgramsWithoutExpiry(t *testing.T) {
	e := newTestEngine(t, percentageProgram()) // both expiry windows 0
	sweeper := loyalty.NewSweeper(e.Ledger, zerolog.Nop())

	e.recordSale(t, "sale-1", "client-1", "100")
	e.advance(365 * 24 * time.Hour)

	result, err := sweeper.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.ProgramsScanned)

	bal := e.balance(t, "client-1")
	assert.True(t, bal.CashbackAvailable.Equal(dec("10")), "credits without a window never expire")
}

// =============================================================================
// LOT ACCOUNTING TESTS
// =============================================================================

func TestExpirableLots_DebitsDrainOldestFirst(t *testing.T) {
	// GIVEN: Lots A (100, old) and B (50, recent) and a 120.00 debit
	// WHEN: Lots are replayed FIFO
	// THEN: A drains fully, B keeps 30; nothing is due until B ages out

	t0 := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	program := expiringProgram()

	txs := []loyalty.Transaction{
		{ID: "lot-a", Type: loyalty.TxAccrual, Amount: loyalty.NewAmountFromInt(100, loyalty.UnitCashback), EffectiveAt: t0},
		{ID: "lot-b", Type: loyalty.TxAccrual, Amount: loyalty.NewAmountFromInt(50, loyalty.UnitCashback), EffectiveAt: t0.AddDate(0, 0, 40)},
		{ID: "spend", Type: loyalty.TxRedemption, Amount: loyalty.NewAmountFromInt(-120, loyalty.UnitCashback), EffectiveAt: t0.AddDate(0, 0, 50)},
	}

	// 100 days in: only A is past the window, and A is fully consumed.
	due := loyalty.ExpirableLots(program, txs, t0.AddDate(0, 0, 100))
	assert.Empty(t, due)

	// 140 days in: B is past the window with its 30.00 remainder.
	due = loyalty.ExpirableLots(program, txs, t0.AddDate(0, 0, 140))
	require.Len(t, due, 1)
	assert.Equal(t, loyalty.TransactionID("lot-b"), due[0].AccrualID)
	assert.True(t, due[0].Remainder.Equal(dec("30")), "got %s", due[0].Remainder)
}

func TestExpirableLots_ClosedLotNeverReturned(t *testing.T) {
	// GIVEN: A lot whose expiration entry already exists
	// WHEN: Lots are recomputed
	// THEN: The lot is closed regardless of remainder arithmetic

	t0 := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	program := expiringProgram()

	txs := []loyalty.Transaction{
		{ID: "lot-a", Type: loyalty.TxAccrual, Amount: loyalty.NewAmountFromInt(100, loyalty.UnitCashback), EffectiveAt: t0},
		{
			ID: "exp-a", Type: loyalty.TxExpiration,
			Amount:         loyalty.NewAmountFromInt(-100, loyalty.UnitCashback),
			EffectiveAt:    t0.AddDate(0, 0, 91),
			IdempotencyKey: loyalty.ExpirationIdempotencyKey("lot-a"),
		},
	}

	due := loyalty.ExpirableLots(program, txs, t0.AddDate(0, 0, 200))
	assert.Empty(t, due)
}

func TestExpirableLots_PerUnitWindows(t *testing.T) {
	// GIVEN: Cashback expiring at 90 days, points at 30
	// WHEN: 40 days have passed since both accrued
	// THEN: Only the points lot is due

	t0 := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	program := expiringProgram()
	program.PointsExpiryDays = 30

	txs := []loyalty.Transaction{
		{ID: "cash", Type: loyalty.TxAccrual, Amount: loyalty.NewAmountFromInt(50, loyalty.UnitCashback), EffectiveAt: t0},
		{ID: "pts", Type: loyalty.TxAccrual, Amount: loyalty.NewAmountFromInt(200, loyalty.UnitPoints), EffectiveAt: t0},
	}

	due := loyalty.ExpirableLots(program, txs, t0.AddDate(0, 0, 40))
	require.Len(t, due, 1)
	assert.Equal(t, loyalty.TransactionID("pts"), due[0].AccrualID)
	assert.Equal(t, loyalty.UnitPoints, due[0].Unit)
	assert.True(t, due[0].Remainder.Equal(dec("200")))
}
