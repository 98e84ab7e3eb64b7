/*
ledger.go - Append-only transaction log and balance materialization

PURPOSE:
  The Ledger is the sole writer of materialized balances and the only way
  transactions enter the system. Every accrual, redemption, tier bonus,
  expiration, and adjustment passes through Append.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. CONSERVATION: per unit, available + pending == sum of transaction
     amounts for the pair, at every point in time.
  3. NON-NEGATIVITY: no append may drive an available balance negative;
     such a write fails with InsufficientBalanceError before it happens.
  4. IDEMPOTENT: a duplicate idempotency key is a no-op replay that
     returns the original transaction, not an error.

CONCURRENCY:
  Mutations to a single (client, program) balance are serialized by
  optimistic concurrency: the materialized row carries a version, each
  write is conditioned on the version read, and a lost race is retried
  up to maxRetries with backoff before surfacing as
  ErrConcurrentModification. Because the balance is recomputed by full
  replay inside the retry loop, two concurrent writers can never
  overwrite each other's delta.

SEE ALSO:
  - balance.go: the replay that produces the materialized row
  - store.go: the atomic append+balance persistence contract
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 10 * time.Millisecond
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store    Store
	Registry *Registry
	Log      zerolog.Logger

	Now          func() time.Time
	MaxRetries   int
	RetryBackoff time.Duration
}

func NewLedger(store Store, registry *Registry, log zerolog.Logger) *Ledger {
	return &Ledger{
		Store:        store,
		Registry:     registry,
		Log:          log,
		Now:          time.Now,
		MaxRetries:   defaultMaxRetries,
		RetryBackoff: defaultRetryBackoff,
	}
}

// Append records a transaction and materializes the new balance in one
// atomic write. A duplicate idempotency key returns the original
// transaction. Appends that would drive the unit's available balance
// negative fail with InsufficientBalanceError.
func (l *Ledger) Append(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.IdempotencyKey != "" {
		existing, err := l.Store.FindByIdempotencyKey(ctx, tx.IdempotencyKey)
		if err != nil {
			return Transaction{}, err
		}
		if existing != nil {
			return *existing, nil
		}
	}

	now := l.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.EffectiveAt.IsZero() {
		tx.EffectiveAt = tx.CreatedAt
	}

	for attempt := 0; attempt <= l.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Transaction{}, err
		}

		prior, err := l.Store.GetBalance(ctx, tx.ClientID, tx.ProgramID)
		if err != nil {
			return Transaction{}, err
		}
		var expected int64
		if prior != nil {
			expected = prior.Version
		}

		txs, err := l.Store.Load(ctx, tx.ClientID, tx.ProgramID)
		if err != nil {
			return Transaction{}, err
		}

		next := Materialize(tx.ClientID, tx.ProgramID, append(txs, tx), prior, now)
		if next.CashbackAvailable.IsNegative() || next.PointsAvailable.IsNegative() {
			return Transaction{}, l.insufficient(next, tx)
		}

		err = l.Store.AppendWithBalance(ctx, tx, next, expected)
		switch {
		case err == nil:
			return tx, nil
		case IsRetryable(err):
			BalanceConflictRetries.Inc()
			l.Log.Debug().
				Str("client_id", string(tx.ClientID)).
				Str("program_id", string(tx.ProgramID)).
				Int("attempt", attempt+1).
				Msg("balance version conflict, retrying")
			time.Sleep(l.backoff(attempt))
		default:
			if tx.IdempotencyKey != "" && CodeOf(err) == CodeIdempotency {
				// Lost a race against a concurrent writer with our key.
				existing, ferr := l.Store.FindByIdempotencyKey(ctx, tx.IdempotencyKey)
				if ferr == nil && existing != nil {
					return *existing, nil
				}
			}
			return Transaction{}, err
		}
	}

	return Transaction{}, fmt.Errorf("append for client %s program %s: %w",
		tx.ClientID, tx.ProgramID, ErrConcurrentModification)
}

// insufficient builds the rejection for a debit the replay could not
// cover. rejected is the materialization that went negative; backing the
// debit out of it reports the balance the caller could actually spend,
// including pending credits that matured since the last stored write.
func (l *Ledger) insufficient(rejected ClientBalance, tx Transaction) error {
	available := rejected.Available(tx.Amount.Unit).Sub(tx.Amount.Value)
	requested := tx.Amount.Value.Neg()
	return &InsufficientBalanceError{
		ClientID:  tx.ClientID,
		ProgramID: tx.ProgramID,
		Unit:      tx.Amount.Unit,
		Available: available,
		Requested: requested,
		Shortfall: requested.Sub(available),
	}
}

func (l *Ledger) backoff(attempt int) time.Duration {
	return l.RetryBackoff * time.Duration(attempt+1)
}

// =============================================================================
// SALE EVENTS - The accrual write path
// =============================================================================

// RecordSale runs the full accrual flow for a completed sale: compute
// credits under the program and the client's current tier, append them,
// then re-evaluate the tier against the updated aggregates. The whole
// flow is idempotent per sale id.
func (l *Ledger) RecordSale(ctx context.Context, sale Sale) (appended []Transaction, change *TierChange, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		AccrualDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	program, err := l.Registry.GetProgram(ctx, sale.ProgramID)
	if err != nil {
		return nil, nil, err
	}

	currentTier, err := l.currentTier(ctx, program, sale.ClientID)
	if err != nil {
		return nil, nil, err
	}

	credits, err := ComputeAccrual(program, currentTier, sale, l.Now())
	if err != nil {
		return nil, nil, err
	}

	for _, credit := range credits {
		tx, err := l.Append(ctx, credit)
		if err != nil {
			return appended, nil, err
		}
		appended = append(appended, tx)
	}

	change, err = l.EvaluateAndApply(ctx, sale.ProgramID, sale.ClientID)
	if err != nil {
		return appended, nil, err
	}
	return appended, change, nil
}

// =============================================================================
// TIER RE-EVALUATION
// =============================================================================

// EvaluateAndApply re-checks the client's tier against current aggregates
// and persists a change. A promotion into a tier with a bonus appends a
// one-time TIER_BONUS credit, keyed so it can never be granted twice.
func (l *Ledger) EvaluateAndApply(ctx context.Context, programID ProgramID, clientID ClientID) (*TierChange, error) {
	program, err := l.Registry.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	if !program.VIPTiersEnabled {
		return nil, nil
	}
	tiers, err := l.Registry.Tiers(ctx, programID)
	if err != nil {
		return nil, err
	}

	var change TierChange
	for attempt := 0; attempt <= l.MaxRetries; attempt++ {
		bal, err := l.Store.GetBalance(ctx, clientID, programID)
		if err != nil {
			return nil, err
		}
		if bal == nil {
			return nil, nil // no activity yet, nothing to evaluate
		}

		current := tierByID(tiers, bal.CurrentTierID)
		change = EvaluateTier(program, tiers, current, bal.Aggregates())
		if !change.Changed() {
			return &change, nil
		}

		next := *bal
		if change.To != nil {
			id := change.To.ID
			next.CurrentTierID = &id
		} else {
			next.CurrentTierID = nil
		}
		next.UpdatedAt = l.Now()

		err = l.Store.PutBalance(ctx, next, bal.Version)
		if err == nil {
			break
		}
		if !IsRetryable(err) {
			return nil, err
		}
		BalanceConflictRetries.Inc()
		time.Sleep(l.backoff(attempt))
		if attempt == l.MaxRetries {
			return nil, ErrConcurrentModification
		}
	}

	if change.Promotion() && change.To.PromotionBonus.IsPositive() {
		TierPromotionsTotal.Inc()
		bonus := Transaction{
			ID:             newTransactionID(),
			ClientID:       clientID,
			ProgramID:      programID,
			Type:           TxTierBonus,
			Amount:         NewAmountFromDecimal(change.To.PromotionBonus, UnitCashback),
			Reason:         fmt.Sprintf("promotion bonus for tier %s", change.To.Name),
			IdempotencyKey: TierBonusIdempotencyKey(clientID, change.To.ID),
		}
		if _, err := l.Append(ctx, bonus); err != nil {
			return &change, err
		}
		l.Log.Info().
			Str("client_id", string(clientID)).
			Str("program_id", string(programID)).
			Str("tier", change.To.Name).
			Msg("tier promotion")
	}

	return &change, nil
}

func (l *Ledger) currentTier(ctx context.Context, program Program, clientID ClientID) (*Tier, error) {
	if !program.VIPTiersEnabled {
		return nil, nil
	}
	tiers, err := l.Registry.Tiers(ctx, program.ID)
	if err != nil {
		return nil, err
	}
	bal, err := l.Store.GetBalance(ctx, clientID, program.ID)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return nil, nil
	}
	return tierByID(tiers, bal.CurrentTierID), nil
}

func tierByID(tiers []Tier, id *TierID) *Tier {
	if id == nil {
		return nil
	}
	for i := range tiers {
		if tiers[i].ID == *id {
			return &tiers[i]
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// GetBalance returns a freshly materialized balance for the pair. The
// program must exist; a pair with no activity yields a zero balance so
// new members render cleanly.
func (l *Ledger) GetBalance(ctx context.Context, clientID ClientID, programID ProgramID) (ClientBalance, error) {
	if _, err := l.Registry.GetProgram(ctx, programID); err != nil {
		return ClientBalance{}, err
	}

	stored, err := l.Store.GetBalance(ctx, clientID, programID)
	if err != nil {
		return ClientBalance{}, err
	}
	if stored == nil {
		return ZeroBalance(clientID, programID), nil
	}

	// Re-derive on read so pending credits that matured since the last
	// write are reported accurately.
	txs, err := l.Store.Load(ctx, clientID, programID)
	if err != nil {
		return ClientBalance{}, err
	}
	return Materialize(clientID, programID, txs, stored, l.Now()), nil
}

// Transactions returns the pair's full ledger history.
func (l *Ledger) Transactions(ctx context.Context, clientID ClientID, programID ProgramID) ([]Transaction, error) {
	return l.Store.Load(ctx, clientID, programID)
}

// TransactionsRange returns the pair's transactions recorded in [from, to].
func (l *Ledger) TransactionsRange(ctx context.Context, clientID ClientID, programID ProgramID, from, to time.Time) ([]Transaction, error) {
	if to.Before(from) {
		return nil, &ValidationError{Field: "to", Message: "range end precedes start"}
	}
	return l.Store.LoadRange(ctx, clientID, programID, from, to)
}

// Rematerialize rewrites the stored balance from replay, settling matured
// pending credits. Used by the sweep; no transaction is appended.
func (l *Ledger) Rematerialize(ctx context.Context, clientID ClientID, programID ProgramID) (ClientBalance, error) {
	for attempt := 0; attempt <= l.MaxRetries; attempt++ {
		stored, err := l.Store.GetBalance(ctx, clientID, programID)
		if err != nil {
			return ClientBalance{}, err
		}
		if stored == nil {
			return ZeroBalance(clientID, programID), nil
		}
		txs, err := l.Store.Load(ctx, clientID, programID)
		if err != nil {
			return ClientBalance{}, err
		}
		next := Materialize(clientID, programID, txs, stored, l.Now())

		err = l.Store.PutBalance(ctx, next, stored.Version)
		if err == nil {
			return next, nil
		}
		if !IsRetryable(err) {
			return ClientBalance{}, err
		}
		BalanceConflictRetries.Inc()
		time.Sleep(l.backoff(attempt))
	}
	return ClientBalance{}, ErrConcurrentModification
}
