/*
Package loyalty provides the core loyalty & rewards engine.

PURPOSE:
  This package contains the domain types and algorithms for salon loyalty
  programs: cashback/point accrual, VIP tier evaluation, redemptions against
  an append-only balance ledger, and leaderboard ranking.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A signed quantity with a unit (cashback currency or points)
  - Transaction: An immutable ledger entry recording balance changes
  - ClientBalance: The materialized per-(client, program) state
  - Client/Salon/Program/Tier IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only offset
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Auditability: Balance is always reconstructible as the running sum
     of transactions; the materialized row is a cache, never the truth
  4. Idempotency: Every external write carries an idempotency key

SEE ALSO:
  - program.go: Program configuration and the tier registry
  - ledger.go: Transaction persistence and balance materialization
  - tier.go: VIP tier evaluation
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Signed quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitCashback Unit = "cashback"
	UnitPoints   Unit = "points"
)

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount              { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type SalonID string
type ProgramID string
type TierID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to a client's loyalty balance
// =============================================================================

type TransactionType string

const (
	TxAccrual    TransactionType = "accrual"    // Credit earned from a completed sale
	TxRedemption TransactionType = "redemption" // Debit converting balance into a reward
	TxTierBonus  TransactionType = "tier_bonus" // One-time credit granted on tier promotion
	TxExpiration TransactionType = "expiration" // Debit for an accrual past its expiry window
	TxAdjustment TransactionType = "adjustment" // Manual admin correction (either sign)
)

type Transaction struct {
	ID        TransactionID
	ClientID  ClientID
	ProgramID ProgramID
	Type      TransactionType

	// Signed: positive for credits, negative for debits.
	Amount Amount

	// Currency value of the originating sale. Set on accruals with a
	// linked sale; feeds the spend/visit aggregates.
	SaleAmount decimal.Decimal

	RelatedSaleID string

	// When the credit becomes spendable. A future EffectiveAt is a pending
	// credit (e.g. cashback held for a return window).
	EffectiveAt time.Time

	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// IsCredit reports whether the transaction increases the balance.
func (t Transaction) IsCredit() bool { return t.Amount.IsPositive() }

// IsPending reports whether the credit has not yet settled at the given time.
func (t Transaction) IsPending(now time.Time) bool {
	return t.IsCredit() && t.EffectiveAt.After(now)
}

// =============================================================================
// CLIENT BALANCE - Materialized per (client, program) state
// =============================================================================

// ClientBalance is the cached running state for one (client, program) pair.
// Mutated only by the Ledger; for every unit the invariant
// available + pending == sum of that unit's transaction amounts holds.
type ClientBalance struct {
	ClientID  ClientID
	ProgramID ProgramID

	CashbackAvailable decimal.Decimal
	CashbackPending   decimal.Decimal
	PointsAvailable   decimal.Decimal
	PointsPending     decimal.Decimal

	LifetimeEarnedCashback   decimal.Decimal
	LifetimeRedeemedCashback decimal.Decimal
	LifetimeEarnedPoints     decimal.Decimal
	LifetimeRedeemedPoints   decimal.Decimal

	CurrentTierID *TierID

	// Aggregates for tier thresholds.
	TotalSpent   decimal.Decimal
	TotalVisits  int
	MonthlySpent decimal.Decimal // trailing 30 days

	// Optimistic concurrency token. Incremented on every write.
	Version   int64
	UpdatedAt time.Time
}

// Available returns the spendable amount for a unit.
func (b ClientBalance) Available(unit Unit) decimal.Decimal {
	if unit == UnitPoints {
		return b.PointsAvailable
	}
	return b.CashbackAvailable
}

// Pending returns the not-yet-settled amount for a unit.
func (b ClientBalance) Pending(unit Unit) decimal.Decimal {
	if unit == UnitPoints {
		return b.PointsPending
	}
	return b.CashbackPending
}

// Aggregates returns the threshold inputs for tier evaluation.
func (b ClientBalance) Aggregates() TierAggregates {
	return TierAggregates{
		TotalSpent:   b.TotalSpent,
		TotalVisits:  b.TotalVisits,
		MonthlySpent: b.MonthlySpent,
	}
}

// ZeroBalance returns an empty balance for a pair that has no transactions.
func ZeroBalance(clientID ClientID, programID ProgramID) ClientBalance {
	return ClientBalance{
		ClientID:                 clientID,
		ProgramID:                programID,
		CashbackAvailable:        decimal.Zero,
		CashbackPending:          decimal.Zero,
		PointsAvailable:          decimal.Zero,
		PointsPending:            decimal.Zero,
		LifetimeEarnedCashback:   decimal.Zero,
		LifetimeRedeemedCashback: decimal.Zero,
		LifetimeEarnedPoints:     decimal.Zero,
		LifetimeRedeemedPoints:   decimal.Zero,
		TotalSpent:               decimal.Zero,
		MonthlySpent:             decimal.Zero,
	}
}

// TierAggregates are the client-side inputs to tier threshold checks.
type TierAggregates struct {
	TotalSpent   decimal.Decimal
	TotalVisits  int
	MonthlySpent decimal.Decimal
}
