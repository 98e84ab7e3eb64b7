package loyalty_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

func dec(s string) decimal.Decimal {
	return loyalty.MustParseDecimal(s)
}

// percentageProgram grants 10% cashback and 1 point per currency unit.
func percentageProgram() loyalty.Program {
	return loyalty.Program{
		ID:                    "prog-1",
		SalonID:               "salon-1",
		Name:                  "Glow Rewards",
		IsActive:              true,
		CashbackEnabled:       true,
		CashbackType:          loyalty.CashbackPercentage,
		CashbackValue:         dec("10"),
		PointsEnabled:         true,
		PointsPerCurrencyUnit: dec("1"),
	}
}

func testSale(saleID string, amount string) loyalty.Sale {
	return loyalty.Sale{
		SaleID:     saleID,
		ClientID:   "client-1",
		ProgramID:  "prog-1",
		Amount:     dec(amount),
		OccurredAt: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// ACCRUAL CALCULATION TESTS
// =============================================================================

func TestComputeAccrual_PercentageCashbackAndPoints(t *testing.T) {
	// GIVEN: 10% cashback program with 1 point per currency unit
	// WHEN: A 250.00 sale completes
	// THEN: 25.00 cashback and 250 points accrue, keyed per unit

	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	txs, err := loyalty.ComputeAccrual(percentageProgram(), nil, testSale("sale-1", "250"), now)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	cashback, points := txs[0], txs[1]
	assert.Equal(t, loyalty.TxAccrual, cashback.Type)
	assert.Equal(t, loyalty.UnitCashback, cashback.Amount.Unit)
	assert.True(t, cashback.Amount.Value.Equal(dec("25")), "got %s", cashback.Amount.Value)
	assert.Equal(t, "accrual:sale-1:cashback", cashback.IdempotencyKey)
	assert.Equal(t, "sale-1", cashback.RelatedSaleID)
	assert.True(t, cashback.SaleAmount.Equal(dec("250")))

	assert.Equal(t, loyalty.UnitPoints, points.Amount.Unit)
	assert.True(t, points.Amount.Value.Equal(dec("250")))
	assert.Equal(t, "accrual:sale-1:points", points.IdempotencyKey)
}

func TestComputeAccrual_FixedCashbackWithTierMultiplier(t *testing.T) {
	// GIVEN: Fixed 5.00 cashback per sale and a tier with 1.5x multiplier
	// WHEN: Any sale completes
	// THEN: Cashback is 7.50 regardless of sale amount

	program := percentageProgram()
	program.CashbackType = loyalty.CashbackFixed
	program.CashbackValue = dec("5")
	program.PointsEnabled = false

	tier := &loyalty.Tier{ID: "gold", Name: "Gold", Order: 3, CashbackMultiplier: dec("1.5")}

	txs, err := loyalty.ComputeAccrual(program, tier, testSale("sale-2", "999"), time.Now())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Value.Equal(dec("7.5")), "got %s", txs[0].Amount.Value)
}

func TestComputeAccrual_CashbackRoundsToCents(t *testing.T) {
	// GIVEN: 10% cashback
	// WHEN: The sale amount yields a sub-cent result (33.33 -> 3.333)
	// THEN: The credit is rounded to 2 decimal places

	program := percentageProgram()
	program.PointsEnabled = false

	txs, err := loyalty.ComputeAccrual(program, nil, testSale("sale-3", "33.33"), time.Now())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Value.Equal(dec("3.33")), "got %s", txs[0].Amount.Value)
}

func TestComputeAccrual_PointsFloorNeverFractional(t *testing.T) {
	// GIVEN: 0.1 points per currency unit
	// WHEN: A 49.99 sale completes (4.999 raw points)
	// THEN: 4 points accrue; fractions never round up

	program := percentageProgram()
	program.CashbackEnabled = false
	program.PointsPerCurrencyUnit = dec("0.1")

	txs, err := loyalty.ComputeAccrual(program, nil, testSale("sale-4", "49.99"), time.Now())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Value.Equal(dec("4")), "got %s", txs[0].Amount.Value)
}

func TestComputeAccrual_HoldWindowMakesCashbackPending(t *testing.T) {
	// GIVEN: A 14-day cashback settlement hold
	// WHEN: A sale accrues
	// THEN: The credit's EffectiveAt is 14 days out and it reports pending

	program := percentageProgram()
	program.PointsEnabled = false
	program.CashbackHoldDays = 14

	sale := testSale("sale-5", "100")
	txs, err := loyalty.ComputeAccrual(program, nil, sale, sale.OccurredAt)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	assert.Equal(t, sale.OccurredAt.AddDate(0, 0, 14), txs[0].EffectiveAt)
	assert.True(t, txs[0].IsPending(sale.OccurredAt))
	assert.False(t, txs[0].IsPending(sale.OccurredAt.AddDate(0, 0, 15)))
}

func TestComputeAccrual_InactiveProgramRejected(t *testing.T) {
	// GIVEN: A deactivated program
	// WHEN: A sale is recorded against it
	// THEN: The accrual is rejected, no partial credits

	program := percentageProgram()
	program.IsActive = false

	txs, err := loyalty.ComputeAccrual(program, nil, testSale("sale-6", "100"), time.Now())
	assert.ErrorIs(t, err, loyalty.ErrProgramInactive)
	assert.Empty(t, txs)
}

func TestComputeAccrual_InvalidSaleRejected(t *testing.T) {
	// GIVEN: A sale with no id, and one with a non-positive amount
	// WHEN: Accrual is computed
	// THEN: Both fail validation

	_, err := loyalty.ComputeAccrual(percentageProgram(), nil, loyalty.Sale{
		ClientID: "client-1", ProgramID: "prog-1", Amount: dec("10"),
	}, time.Now())
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	_, err = loyalty.ComputeAccrual(percentageProgram(), nil, loyalty.Sale{
		SaleID: "sale-7", ClientID: "client-1", ProgramID: "prog-1", Amount: dec("0"),
	}, time.Now())
	assert.ErrorIs(t, err, loyalty.ErrValidation)
}

func TestComputeAccrual_DisabledMechanismsYieldNothing(t *testing.T) {
	// GIVEN: A program with cashback and points both disabled
	// WHEN: A sale completes
	// THEN: No transactions accrue, without error

	program := percentageProgram()
	program.CashbackEnabled = false
	program.PointsEnabled = false

	txs, err := loyalty.ComputeAccrual(program, nil, testSale("sale-8", "100"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, txs)
}
