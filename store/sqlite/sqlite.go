/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements loyalty.Store and loyalty.ProgramStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - No DELETE statements on the transactions table
  - Corrections via adjustment transactions only

KEY TABLES:
  transactions: Immutable ledger of all balance changes
  balances:     Materialized per-(client, program) state with a version column
  programs:     Loyalty program configuration
  tiers:        VIP tier ladders

CONCURRENCY:
  The balances table carries an optimistic-concurrency version. Every
  write is conditioned on the version the caller last read; a mismatch
  surfaces as loyalty.ErrConcurrentModification and the ledger retries.
  AppendWithBalance couples the transaction insert and the balance write
  in one SQL transaction, which is what makes redemption check-and-debit
  atomic.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loyalty/store.go: Interface definitions
  - loyalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

// Fixed-width UTC timestamps so lexicographic string order matches time
// order in range queries.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements loyalty.Store and loyalty.ProgramStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY under write contention and keeps :memory: databases from
	// splitting across connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		program_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount_value TEXT NOT NULL,
		amount_unit TEXT NOT NULL,
		sale_amount TEXT,
		related_sale_id TEXT,
		effective_at TEXT NOT NULL,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_client_program
		ON transactions(client_id, program_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_program_created
		ON transactions(program_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- Materialized balances (optimistic concurrency via version)
	CREATE TABLE IF NOT EXISTS balances (
		client_id TEXT NOT NULL,
		program_id TEXT NOT NULL,
		cashback_available TEXT NOT NULL,
		cashback_pending TEXT NOT NULL,
		points_available TEXT NOT NULL,
		points_pending TEXT NOT NULL,
		lifetime_earned_cashback TEXT NOT NULL,
		lifetime_redeemed_cashback TEXT NOT NULL,
		lifetime_earned_points TEXT NOT NULL,
		lifetime_redeemed_points TEXT NOT NULL,
		current_tier_id TEXT,
		total_spent TEXT NOT NULL,
		total_visits INTEGER NOT NULL,
		monthly_spent TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (client_id, program_id)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_program
		ON balances(program_id);
	CREATE INDEX IF NOT EXISTS idx_balances_tier
		ON balances(current_tier_id) WHERE current_tier_id IS NOT NULL;

	-- Programs
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		salon_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL,
		cashback_enabled BOOLEAN NOT NULL,
		cashback_type TEXT,
		cashback_value TEXT,
		points_enabled BOOLEAN NOT NULL,
		points_per_currency_unit TEXT,
		vip_tiers_enabled BOOLEAN NOT NULL,
		tier_demotion TEXT NOT NULL,
		cashback_expiry_days INTEGER NOT NULL DEFAULT 0,
		points_expiry_days INTEGER NOT NULL DEFAULT 0,
		cashback_hold_days INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_programs_salon
		ON programs(salon_id);

	-- Tiers
	CREATE TABLE IF NOT EXISTS tiers (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		tier_order INTEGER NOT NULL,
		name TEXT NOT NULL,
		min_total_spent TEXT NOT NULL,
		min_visits INTEGER NOT NULL,
		min_monthly_spent TEXT NOT NULL,
		cashback_multiplier TEXT NOT NULL,
		discount_percentage TEXT NOT NULL,
		capabilities_json TEXT,
		promotion_bonus TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(program_id, tier_order)
	);

	CREATE INDEX IF NOT EXISTS idx_tiers_program
		ON tiers(program_id, tier_order);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (loyalty.Store interface)
// =============================================================================

// AppendWithBalance appends a transaction and writes the materialized
// balance in one SQL transaction.
func (s *Store) AppendWithBalance(ctx context.Context, tx loyalty.Transaction, balance loyalty.ClientBalance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.insertTx(ctx, sqlTx, tx); err != nil {
		return err
	}
	if err := s.writeBalance(ctx, sqlTx, balance, expectedVersion); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// PutBalance rewrites a materialized balance under the version contract.
func (s *Store) PutBalance(ctx context.Context, balance loyalty.ClientBalance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.writeBalance(ctx, sqlTx, balance, expectedVersion); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertTx(ctx context.Context, db execer, tx loyalty.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, client_id, program_id, tx_type, amount_value, amount_unit,
		 sale_amount, related_sale_id, effective_at, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.ClientID,
		tx.ProgramID,
		tx.Type,
		tx.Amount.Value.String(),
		tx.Amount.Unit,
		tx.SaleAmount.String(),
		nullString(tx.RelatedSaleID),
		tx.EffectiveAt.UTC().Format(timeLayout),
		tx.Reason,
		nullString(tx.IdempotencyKey),
		tx.CreatedAt.UTC().Format(timeLayout),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return loyalty.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// writeBalance inserts when expectedVersion is 0 and otherwise updates
// conditioned on the version column; either way the stored version is
// expectedVersion+1.
func (s *Store) writeBalance(ctx context.Context, db execer, b loyalty.ClientBalance, expectedVersion int64) error {
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if expectedVersion == 0 {
		query := `
			INSERT INTO balances
			(client_id, program_id, cashback_available, cashback_pending,
			 points_available, points_pending,
			 lifetime_earned_cashback, lifetime_redeemed_cashback,
			 lifetime_earned_points, lifetime_redeemed_points,
			 current_tier_id, total_spent, total_visits, monthly_spent,
			 version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			b.ClientID, b.ProgramID,
			b.CashbackAvailable.String(), b.CashbackPending.String(),
			b.PointsAvailable.String(), b.PointsPending.String(),
			b.LifetimeEarnedCashback.String(), b.LifetimeRedeemedCashback.String(),
			b.LifetimeEarnedPoints.String(), b.LifetimeRedeemedPoints.String(),
			nullTierID(b.CurrentTierID),
			b.TotalSpent.String(), b.TotalVisits, b.MonthlySpent.String(),
			expectedVersion+1,
			updatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				// Another writer created the row first.
				return loyalty.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert balance: %w", err)
		}
		return nil
	}

	query := `
		UPDATE balances SET
			cashback_available = ?, cashback_pending = ?,
			points_available = ?, points_pending = ?,
			lifetime_earned_cashback = ?, lifetime_redeemed_cashback = ?,
			lifetime_earned_points = ?, lifetime_redeemed_points = ?,
			current_tier_id = ?, total_spent = ?, total_visits = ?, monthly_spent = ?,
			version = ?, updated_at = ?
		WHERE client_id = ? AND program_id = ? AND version = ?
	`
	res, err := db.ExecContext(ctx, query,
		b.CashbackAvailable.String(), b.CashbackPending.String(),
		b.PointsAvailable.String(), b.PointsPending.String(),
		b.LifetimeEarnedCashback.String(), b.LifetimeRedeemedCashback.String(),
		b.LifetimeEarnedPoints.String(), b.LifetimeRedeemedPoints.String(),
		nullTierID(b.CurrentTierID),
		b.TotalSpent.String(), b.TotalVisits, b.MonthlySpent.String(),
		expectedVersion+1,
		updatedAt.UTC().Format(timeLayout),
		b.ClientID, b.ProgramID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return loyalty.ErrConcurrentModification
	}
	return nil
}

const txColumns = `id, client_id, program_id, tx_type, amount_value, amount_unit,
       sale_amount, related_sale_id, effective_at, reason, idempotency_key, created_at`

// Load returns all transactions for a (client, program) pair.
func (s *Store) Load(ctx context.Context, clientID loyalty.ClientID, programID loyalty.ProgramID) ([]loyalty.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE client_id = ? AND program_id = ?
		ORDER BY effective_at ASC, created_at ASC
	`
	return s.queryTransactions(ctx, query, clientID, programID)
}

// LoadRange returns the pair's transactions with created_at in [from, to].
func (s *Store) LoadRange(ctx context.Context, clientID loyalty.ClientID, programID loyalty.ProgramID, from, to time.Time) ([]loyalty.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE client_id = ? AND program_id = ?
		  AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC
	`
	return s.queryTransactions(ctx, query, clientID, programID,
		from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
}

// LoadByProgram returns all transactions for a program with created_at in
// [from, to].
func (s *Store) LoadByProgram(ctx context.Context, programID loyalty.ProgramID, from, to time.Time) ([]loyalty.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE program_id = ?
		  AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC
	`
	return s.queryTransactions(ctx, query, programID,
		from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
}

// FindByIdempotencyKey returns the transaction stored under the key, or nil.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*loyalty.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + txColumns + `
		FROM transactions
		WHERE idempotency_key = ?
	`
	txs, err := s.queryTransactions(ctx, query, key)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]loyalty.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []loyalty.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (loyalty.Transaction, error) {
	var (
		tx             loyalty.Transaction
		amountValue    string
		amountUnit     string
		saleAmount     sql.NullString
		relatedSaleID  sql.NullString
		effectiveAt    string
		reason         sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.ClientID, &tx.ProgramID, &tx.Type,
		&amountValue, &amountUnit, &saleAmount, &relatedSaleID,
		&effectiveAt, &reason, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Amount = loyalty.Amount{
		Value: loyalty.MustParseDecimal(amountValue),
		Unit:  loyalty.Unit(amountUnit),
	}
	if saleAmount.Valid {
		tx.SaleAmount = loyalty.MustParseDecimal(saleAmount.String)
	}
	tx.RelatedSaleID = relatedSaleID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.EffectiveAt, _ = time.Parse(timeLayout, effectiveAt)
	tx.CreatedAt, _ = time.Parse(timeLayout, createdAt)

	return tx, nil
}

// =============================================================================
// BALANCES
// =============================================================================

const balanceColumns = `client_id, program_id, cashback_available, cashback_pending,
       points_available, points_pending,
       lifetime_earned_cashback, lifetime_redeemed_cashback,
       lifetime_earned_points, lifetime_redeemed_points,
       current_tier_id, total_spent, total_visits, monthly_spent, version, updated_at`

// GetBalance returns the materialized balance, or nil when the pair has
// never been written.
func (s *Store) GetBalance(ctx context.Context, clientID loyalty.ClientID, programID loyalty.ProgramID) (*loyalty.ClientBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE client_id = ? AND program_id = ?`,
		clientID, programID,
	)
	b, err := scanBalance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBalancesByProgram returns every balance row in a program.
func (s *Store) ListBalancesByProgram(ctx context.Context, programID loyalty.ProgramID) ([]loyalty.ClientBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE program_id = ? ORDER BY client_id`,
		programID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []loyalty.ClientBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (loyalty.ClientBalance, error) {
	var (
		b          loyalty.ClientBalance
		ca, cp     string
		pa, pp     string
		lec, lrc   string
		lep, lrp   string
		tierID     sql.NullString
		totalSpent string
		monthly    string
		updatedAt  string
	)

	err := row.Scan(
		&b.ClientID, &b.ProgramID, &ca, &cp, &pa, &pp,
		&lec, &lrc, &lep, &lrp,
		&tierID, &totalSpent, &b.TotalVisits, &monthly, &b.Version, &updatedAt,
	)
	if err != nil {
		return b, err
	}

	b.CashbackAvailable = loyalty.MustParseDecimal(ca)
	b.CashbackPending = loyalty.MustParseDecimal(cp)
	b.PointsAvailable = loyalty.MustParseDecimal(pa)
	b.PointsPending = loyalty.MustParseDecimal(pp)
	b.LifetimeEarnedCashback = loyalty.MustParseDecimal(lec)
	b.LifetimeRedeemedCashback = loyalty.MustParseDecimal(lrc)
	b.LifetimeEarnedPoints = loyalty.MustParseDecimal(lep)
	b.LifetimeRedeemedPoints = loyalty.MustParseDecimal(lrp)
	b.TotalSpent = loyalty.MustParseDecimal(totalSpent)
	b.MonthlySpent = loyalty.MustParseDecimal(monthly)
	if tierID.Valid {
		id := loyalty.TierID(tierID.String)
		b.CurrentTierID = &id
	}
	b.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	return b, nil
}

// =============================================================================
// PROGRAM STORE (loyalty.ProgramStore interface)
// =============================================================================

// SaveProgram inserts or replaces a program row.
func (s *Store) SaveProgram(ctx context.Context, p loyalty.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO programs
		(id, salon_id, name, is_active, cashback_enabled, cashback_type, cashback_value,
		 points_enabled, points_per_currency_unit, vip_tiers_enabled, tier_demotion,
		 cashback_expiry_days, points_expiry_days, cashback_hold_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			salon_id = excluded.salon_id,
			name = excluded.name,
			is_active = excluded.is_active,
			cashback_enabled = excluded.cashback_enabled,
			cashback_type = excluded.cashback_type,
			cashback_value = excluded.cashback_value,
			points_enabled = excluded.points_enabled,
			points_per_currency_unit = excluded.points_per_currency_unit,
			vip_tiers_enabled = excluded.vip_tiers_enabled,
			tier_demotion = excluded.tier_demotion,
			cashback_expiry_days = excluded.cashback_expiry_days,
			points_expiry_days = excluded.points_expiry_days,
			cashback_hold_days = excluded.cashback_hold_days,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.SalonID, p.Name, p.IsActive,
		p.CashbackEnabled, string(p.CashbackType), p.CashbackValue.String(),
		p.PointsEnabled, p.PointsPerCurrencyUnit.String(),
		p.VIPTiersEnabled, string(p.TierDemotion),
		p.CashbackExpiryDays, p.PointsExpiryDays, p.CashbackHoldDays,
		p.CreatedAt.UTC().Format(timeLayout), p.UpdatedAt.UTC().Format(timeLayout),
	)
	return err
}

const programColumns = `id, salon_id, name, is_active, cashback_enabled, cashback_type,
       cashback_value, points_enabled, points_per_currency_unit, vip_tiers_enabled,
       tier_demotion, cashback_expiry_days, points_expiry_days, cashback_hold_days,
       created_at, updated_at`

// GetProgram returns a program by id, or nil.
func (s *Store) GetProgram(ctx context.Context, id loyalty.ProgramID) (*loyalty.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+programColumns+` FROM programs WHERE id = ?`, id)
	p, err := scanProgram(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPrograms returns a salon's programs; an empty salonID returns all.
func (s *Store) ListPrograms(ctx context.Context, salonID loyalty.SalonID) ([]loyalty.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + programColumns + ` FROM programs`
	args := []any{}
	if salonID != "" {
		query += ` WHERE salon_id = ?`
		args = append(args, salonID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	var programs []loyalty.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

func scanProgram(row rowScanner) (loyalty.Program, error) {
	var (
		p             loyalty.Program
		cashbackType  sql.NullString
		cashbackValue sql.NullString
		pointsPerUnit sql.NullString
		demotion      string
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&p.ID, &p.SalonID, &p.Name, &p.IsActive,
		&p.CashbackEnabled, &cashbackType, &cashbackValue,
		&p.PointsEnabled, &pointsPerUnit, &p.VIPTiersEnabled, &demotion,
		&p.CashbackExpiryDays, &p.PointsExpiryDays, &p.CashbackHoldDays,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return p, err
	}

	p.CashbackType = loyalty.CashbackType(cashbackType.String)
	p.CashbackValue = loyalty.MustParseDecimal(cashbackValue.String)
	p.PointsPerCurrencyUnit = loyalty.MustParseDecimal(pointsPerUnit.String)
	p.TierDemotion = loyalty.DemotionPolicy(demotion)
	p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	return p, nil
}

// SaveTier inserts or replaces a tier row.
func (s *Store) SaveTier(ctx context.Context, t loyalty.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	capsJSON, _ := json.Marshal(t.Capabilities)

	query := `
		INSERT INTO tiers
		(id, program_id, tier_order, name, min_total_spent, min_visits, min_monthly_spent,
		 cashback_multiplier, discount_percentage, capabilities_json, promotion_bonus,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			program_id = excluded.program_id,
			tier_order = excluded.tier_order,
			name = excluded.name,
			min_total_spent = excluded.min_total_spent,
			min_visits = excluded.min_visits,
			min_monthly_spent = excluded.min_monthly_spent,
			cashback_multiplier = excluded.cashback_multiplier,
			discount_percentage = excluded.discount_percentage,
			capabilities_json = excluded.capabilities_json,
			promotion_bonus = excluded.promotion_bonus,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.ProgramID, t.Order, t.Name,
		t.MinTotalSpent.String(), t.MinVisits, t.MinMonthlySpent.String(),
		t.CashbackMultiplier.String(), t.DiscountPercentage.String(),
		string(capsJSON), t.PromotionBonus.String(),
		t.CreatedAt.UTC().Format(timeLayout), t.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil && isUniqueConstraintError(err) {
		return fmt.Errorf("tier order already in use: %w", loyalty.ErrConflict)
	}
	return err
}

const tierColumns = `id, program_id, tier_order, name, min_total_spent, min_visits,
       min_monthly_spent, cashback_multiplier, discount_percentage, capabilities_json,
       promotion_bonus, created_at, updated_at`

// GetTier returns a tier by id, or nil.
func (s *Store) GetTier(ctx context.Context, id loyalty.TierID) (*loyalty.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+tierColumns+` FROM tiers WHERE id = ?`, id)
	t, err := scanTier(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTier removes a tier row.
func (s *Store) DeleteTier(ctx context.Context, id loyalty.TierID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tiers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return loyalty.ErrTierNotFound
	}
	return nil
}

// ListTiers returns a program's tiers ascending by order.
func (s *Store) ListTiers(ctx context.Context, programID loyalty.ProgramID) ([]loyalty.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tierColumns+` FROM tiers WHERE program_id = ? ORDER BY tier_order ASC`,
		programID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiers: %w", err)
	}
	defer rows.Close()

	var tiers []loyalty.Tier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

func scanTier(row rowScanner) (loyalty.Tier, error) {
	var (
		t              loyalty.Tier
		minTotalSpent  string
		minMonthly     string
		multiplier     string
		discount       string
		capsJSON       sql.NullString
		promotionBonus string
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&t.ID, &t.ProgramID, &t.Order, &t.Name,
		&minTotalSpent, &t.MinVisits, &minMonthly,
		&multiplier, &discount, &capsJSON, &promotionBonus,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return t, err
	}

	t.MinTotalSpent = loyalty.MustParseDecimal(minTotalSpent)
	t.MinMonthlySpent = loyalty.MustParseDecimal(minMonthly)
	t.CashbackMultiplier = loyalty.MustParseDecimal(multiplier)
	t.DiscountPercentage = loyalty.MustParseDecimal(discount)
	t.PromotionBonus = loyalty.MustParseDecimal(promotionBonus)
	if capsJSON.Valid && capsJSON.String != "" {
		json.Unmarshal([]byte(capsJSON.String), &t.Capabilities)
	}
	t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	t.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)

	return t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTierID(id *loyalty.TierID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
