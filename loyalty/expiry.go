/*
expiry.go - FIFO-lot credit expiration

PURPOSE:
  Expires the unredeemed remainder of accrued credits once a program's
  expiry window has passed. Each accrual is a lot; debits (redemptions,
  expirations, negative adjustments) consume lots oldest-first. When an
  expired lot still has an unconsumed remainder, the sweep appends an
  EXPIRATION debit for exactly that remainder.

IDEMPOTENCY:
  The expiration for a lot is keyed "expire:<accrualTxID>", so a sweep
  that crashes mid-run and restarts never double-expires a lot.
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SWEEPER
// =============================================================================

type Sweeper struct {
	Ledger *Ledger
	Log    zerolog.Logger
}

func NewSweeper(ledger *Ledger, log zerolog.Logger) *Sweeper {
	return &Sweeper{Ledger: ledger, Log: log}
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	ProgramsScanned int
	ClientsScanned  int
	LotsExpired     int
	CashbackExpired decimal.Decimal
	PointsExpired   decimal.Decimal
}

// ExpirationIdempotencyKey derives the key for the expiration of one lot.
func ExpirationIdempotencyKey(accrualID TransactionID) string {
	return fmt.Sprintf("expire:%s", accrualID)
}

// SweepAll expires overdue credits across every program. Per-client errors
// are logged and skipped so one contended balance cannot stall the run.
func (s *Sweeper) SweepAll(ctx context.Context) (SweepResult, error) {
	result := SweepResult{
		CashbackExpired: decimal.Zero,
		PointsExpired:   decimal.Zero,
	}

	programs, err := s.Ledger.Registry.Programs.ListPrograms(ctx, "")
	if err != nil {
		return result, err
	}

	for _, program := range programs {
		if program.CashbackExpiryDays == 0 && program.PointsExpiryDays == 0 {
			continue
		}
		result.ProgramsScanned++

		pr, err := s.SweepProgram(ctx, program)
		if err != nil {
			return result, err
		}
		result.ClientsScanned += pr.ClientsScanned
		result.LotsExpired += pr.LotsExpired
		result.CashbackExpired = result.CashbackExpired.Add(pr.CashbackExpired)
		result.PointsExpired = result.PointsExpired.Add(pr.PointsExpired)
	}
	return result, nil
}

// SweepProgram expires overdue credits for every client with a balance in
// one program.
func (s *Sweeper) SweepProgram(ctx context.Context, program Program) (SweepResult, error) {
	result := SweepResult{
		CashbackExpired: decimal.Zero,
		PointsExpired:   decimal.Zero,
	}

	balances, err := s.Ledger.Store.ListBalancesByProgram(ctx, program.ID)
	if err != nil {
		return result, err
	}

	for _, bal := range balances {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.ClientsScanned++

		expired, err := s.sweepClient(ctx, program, bal.ClientID)
		if err != nil {
			s.Log.Warn().Err(err).
				Str("client_id", string(bal.ClientID)).
				Str("program_id", string(program.ID)).
				Msg("expiration sweep skipped client")
			continue
		}
		for _, tx := range expired {
			result.LotsExpired++
			amount := tx.Amount.Value.Neg()
			if tx.Amount.Unit == UnitPoints {
				result.PointsExpired = result.PointsExpired.Add(amount)
			} else {
				result.CashbackExpired = result.CashbackExpired.Add(amount)
			}
		}
	}
	return result, nil
}

// sweepClient computes and appends the expirations one client is due.
func (s *Sweeper) sweepClient(ctx context.Context, program Program, clientID ClientID) ([]Transaction, error) {
	txs, err := s.Ledger.Store.Load(ctx, clientID, program.ID)
	if err != nil {
		return nil, err
	}

	now := s.Ledger.Now()
	due := ExpirableLots(program, txs, now)
	if len(due) == 0 {
		return nil, nil
	}

	var appended []Transaction
	for _, lot := range due {
		tx := Transaction{
			ID:             newTransactionID(),
			ClientID:       clientID,
			ProgramID:      program.ID,
			Type:           TxExpiration,
			Amount:         Amount{Value: lot.Remainder.Neg(), Unit: lot.Unit},
			Reason:         fmt.Sprintf("expired accrual from %s", lot.AccruedAt.Format("2006-01-02")),
			IdempotencyKey: ExpirationIdempotencyKey(lot.AccrualID),
		}
		recorded, err := s.Ledger.Append(ctx, tx)
		if err != nil {
			// Concurrent spend may have shrunk the lot since we computed it.
			var insuff *InsufficientBalanceError
			if errors.As(err, &insuff) || errors.Is(err, ErrConcurrentModification) {
				return appended, nil
			}
			return appended, err
		}
		if recorded.ID != tx.ID {
			// Replay of an earlier sweep; nothing new expired.
			continue
		}
		ExpirationsTotal.WithLabelValues(string(lot.Unit)).Inc()
		s.Log.Info().
			Str("client_id", string(clientID)).
			Str("program_id", string(program.ID)).
			Str("unit", string(lot.Unit)).
			Str("amount", lot.Remainder.String()).
			Msg("expired credit lot")
		appended = append(appended, recorded)
	}
	return appended, nil
}

// =============================================================================
// LOT ACCOUNTING
// =============================================================================

// Lot is the unredeemed remainder of one expired accrual.
type Lot struct {
	AccrualID TransactionID
	Unit      Unit
	Remainder decimal.Decimal
	AccruedAt time.Time
}

// ExpirableLots replays a client's log and returns, per unit, the accrual
// lots that are past the program's expiry window and still carry an
// unconsumed remainder. Debits consume lots oldest-first; a lot already
// covered by an "expire:" keyed entry is never returned again.
func ExpirableLots(program Program, txs []Transaction, now time.Time) []Lot {
	var due []Lot
	for _, unit := range []Unit{UnitCashback, UnitPoints} {
		days := program.CashbackExpiryDays
		if unit == UnitPoints {
			days = program.PointsExpiryDays
		}
		if days == 0 {
			continue
		}
		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
		due = append(due, expirableForUnit(unit, txs, cutoff, now)...)
	}
	return due
}

func expirableForUnit(unit Unit, txs []Transaction, cutoff, now time.Time) []Lot {
	type openLot struct {
		id        TransactionID
		remainder decimal.Decimal
		accruedAt time.Time
	}

	// Lots that already have an EXPIRATION entry are closed regardless of
	// remainder arithmetic.
	closed := make(map[TransactionID]bool)
	for _, tx := range txs {
		if tx.Type != TxExpiration {
			continue
		}
		if rest, ok := strings.CutPrefix(tx.IdempotencyKey, "expire:"); ok {
			closed[TransactionID(rest)] = true
		}
	}

	var lots []openLot
	for _, tx := range txs {
		if tx.Amount.Unit != unit {
			continue
		}
		switch {
		case tx.IsCredit():
			// A still-pending credit cannot expire; its window starts at
			// settlement, not at accrual.
			if tx.IsPending(now) {
				continue
			}
			lots = append(lots, openLot{id: tx.ID, remainder: tx.Amount.Value, accruedAt: tx.EffectiveAt})
		case tx.Amount.IsNegative():
			// FIFO: debits drain the oldest open lot first.
			debit := tx.Amount.Value.Neg()
			for i := range lots {
				if debit.IsZero() {
					break
				}
				if lots[i].remainder.IsZero() {
					continue
				}
				take := decimal.Min(lots[i].remainder, debit)
				lots[i].remainder = lots[i].remainder.Sub(take)
				debit = debit.Sub(take)
			}
		}
	}

	var due []Lot
	for _, lot := range lots {
		if closed[lot.id] || lot.remainder.IsZero() || !lot.accruedAt.Before(cutoff) {
			continue
		}
		due = append(due, Lot{
			AccrualID: lot.id,
			Unit:      unit,
			Remainder: lot.remainder,
			AccruedAt: lot.accruedAt,
		})
	}
	return due
}
