/*
store.go - Persistence interfaces for the loyalty engine

PURPOSE:
  Defines the interface between domain logic and the database. The Store
  handles persistence while maintaining append-only semantics for the
  transaction log and compare-and-swap semantics for materialized balances.

APPEND-ONLY CONTRACT:
  Transactions have no Update or Delete. Corrections are new ADJUSTMENT
  entries with the opposite sign.

CONCURRENCY CONTRACT:
  Every balance write is conditioned on the version last read. On a version
  mismatch the store returns ErrConcurrentModification and the Ledger
  retries the whole read-modify-write. AppendWithBalance couples the
  transaction insert and the balance write into one atomic unit; this is
  what makes the redemption check-and-debit atomic.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (same patterns apply to PostgreSQL)
  - loyalty/store: in-memory, for tests and dev
*/
package loyalty

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Transaction log + materialized balances
// =============================================================================

type Store interface {
	// AppendWithBalance atomically appends a transaction and writes the new
	// materialized balance, conditioned on expectedVersion (0 = row must not
	// exist yet). Fails with ErrDuplicateIdempotencyKey if the key exists,
	// ErrConcurrentModification if the version check fails.
	AppendWithBalance(ctx context.Context, tx Transaction, balance ClientBalance, expectedVersion int64) error

	// PutBalance rewrites a materialized balance without appending, used for
	// pending-credit settlement and tier reassignment. Same version contract.
	PutBalance(ctx context.Context, balance ClientBalance, expectedVersion int64) error

	// Load returns all transactions for a (client, program) pair,
	// ordered by EffectiveAt then CreatedAt. Read-only.
	Load(ctx context.Context, clientID ClientID, programID ProgramID) ([]Transaction, error)

	// LoadRange returns the pair's transactions with CreatedAt in [from, to].
	LoadRange(ctx context.Context, clientID ClientID, programID ProgramID, from, to time.Time) ([]Transaction, error)

	// LoadByProgram returns all transactions for a program with CreatedAt in
	// [from, to]. Feeds the leaderboard read path; never takes balance locks.
	LoadByProgram(ctx context.Context, programID ProgramID, from, to time.Time) ([]Transaction, error)

	// FindByIdempotencyKey returns the transaction recorded under the key,
	// or nil if none exists.
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// GetBalance returns the materialized balance, or nil if the pair has
	// never had a transaction.
	GetBalance(ctx context.Context, clientID ClientID, programID ProgramID) (*ClientBalance, error)

	// ListBalancesByProgram returns every materialized balance in a program.
	ListBalancesByProgram(ctx context.Context, programID ProgramID) ([]ClientBalance, error)
}

// =============================================================================
// PROGRAM STORE - Configuration records
// =============================================================================

type ProgramStore interface {
	SaveProgram(ctx context.Context, p Program) error
	GetProgram(ctx context.Context, id ProgramID) (*Program, error)

	// ListPrograms returns a salon's programs; an empty salonID returns
	// every program (used by the expiration sweep).
	ListPrograms(ctx context.Context, salonID SalonID) ([]Program, error)

	SaveTier(ctx context.Context, t Tier) error
	GetTier(ctx context.Context, id TierID) (*Tier, error)
	DeleteTier(ctx context.Context, id TierID) error

	// ListTiers returns a program's tiers sorted ascending by Order.
	ListTiers(ctx context.Context, programID ProgramID) ([]Tier, error)
}
