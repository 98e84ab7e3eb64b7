// Package store provides in-memory loyalty.Store implementations for
// testing and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE - Transaction log + materialized balances
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[pairKey][]loyalty.Transaction
	byProgram    map[loyalty.ProgramID][]loyalty.Transaction
	idempotency  map[string]loyalty.Transaction
	balances     map[pairKey]loyalty.ClientBalance
}

type pairKey struct {
	ClientID  loyalty.ClientID
	ProgramID loyalty.ProgramID
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[pairKey][]loyalty.Transaction),
		byProgram:    make(map[loyalty.ProgramID][]loyalty.Transaction),
		idempotency:  make(map[string]loyalty.Transaction),
		balances:     make(map[pairKey]loyalty.ClientBalance),
	}
}

// AppendWithBalance appends the transaction and writes the materialized
// balance under one lock, mirroring the single DB transaction the SQLite
// store uses. The version check happens before any write, so a failed
// call leaves no partial state.
func (m *Memory) AppendWithBalance(_ context.Context, tx loyalty.Transaction, balance loyalty.ClientBalance, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if _, exists := m.idempotency[tx.IdempotencyKey]; exists {
			return loyalty.ErrDuplicateIdempotencyKey
		}
	}
	if err := m.checkVersionLocked(balance, expectedVersion); err != nil {
		return err
	}

	m.appendLocked(tx)
	m.putBalanceLocked(balance, expectedVersion)
	return nil
}

// PutBalance rewrites a materialized balance under the same version
// contract, without appending.
func (m *Memory) PutBalance(_ context.Context, balance loyalty.ClientBalance, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkVersionLocked(balance, expectedVersion); err != nil {
		return err
	}
	m.putBalanceLocked(balance, expectedVersion)
	return nil
}

func (m *Memory) checkVersionLocked(balance loyalty.ClientBalance, expectedVersion int64) error {
	k := pairKey{ClientID: balance.ClientID, ProgramID: balance.ProgramID}
	current, exists := m.balances[k]
	switch {
	case expectedVersion == 0 && exists:
		return loyalty.ErrConcurrentModification
	case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
		return loyalty.ErrConcurrentModification
	}
	return nil
}

func (m *Memory) putBalanceLocked(balance loyalty.ClientBalance, expectedVersion int64) {
	k := pairKey{ClientID: balance.ClientID, ProgramID: balance.ProgramID}
	balance.Version = expectedVersion + 1
	m.balances[k] = balance
}

func (m *Memory) appendLocked(tx loyalty.Transaction) {
	k := pairKey{ClientID: tx.ClientID, ProgramID: tx.ProgramID}
	txs := m.transactions[k]

	// Keep the per-pair log ordered by EffectiveAt for stable replay.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, loyalty.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[k] = txs

	m.byProgram[tx.ProgramID] = append(m.byProgram[tx.ProgramID], tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = tx
	}
}

func (m *Memory) Load(_ context.Context, clientID loyalty.ClientID, programID loyalty.ProgramID) ([]loyalty.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := pairKey{ClientID: clientID, ProgramID: programID}
	result := make([]loyalty.Transaction, len(m.transactions[k]))
	copy(result, m.transactions[k])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, clientID loyalty.ClientID, programID loyalty.ProgramID, from, to time.Time) ([]loyalty.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := pairKey{ClientID: clientID, ProgramID: programID}
	var result []loyalty.Transaction
	for _, tx := range m.transactions[k] {
		if inRange(tx.CreatedAt, from, to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) LoadByProgram(_ context.Context, programID loyalty.ProgramID, from, to time.Time) ([]loyalty.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.Transaction
	for _, tx := range m.byProgram[programID] {
		if inRange(tx.CreatedAt, from, to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (*loyalty.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *Memory) GetBalance(_ context.Context, clientID loyalty.ClientID, programID loyalty.ProgramID) (*loyalty.ClientBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := pairKey{ClientID: clientID, ProgramID: programID}
	b, ok := m.balances[k]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) ListBalancesByProgram(_ context.Context, programID loyalty.ProgramID) ([]loyalty.ClientBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.ClientBalance
	for k, b := range m.balances {
		if k.ProgramID == programID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClientID < result[j].ClientID })
	return result, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// =============================================================================
// MEMORY PROGRAM STORE
// =============================================================================

type MemoryPrograms struct {
	mu       sync.RWMutex
	programs map[loyalty.ProgramID]loyalty.Program
	tiers    map[loyalty.TierID]loyalty.Tier
}

func NewMemoryPrograms() *MemoryPrograms {
	return &MemoryPrograms{
		programs: make(map[loyalty.ProgramID]loyalty.Program),
		tiers:    make(map[loyalty.TierID]loyalty.Tier),
	}
}

func (m *MemoryPrograms) SaveProgram(_ context.Context, p loyalty.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[p.ID] = p
	return nil
}

func (m *MemoryPrograms) GetProgram(_ context.Context, id loyalty.ProgramID) (*loyalty.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryPrograms) ListPrograms(_ context.Context, salonID loyalty.SalonID) ([]loyalty.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.Program
	for _, p := range m.programs {
		if salonID == "" || p.SalonID == salonID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryPrograms) SaveTier(_ context.Context, t loyalty.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[t.ID] = t
	return nil
}

func (m *MemoryPrograms) GetTier(_ context.Context, id loyalty.TierID) (*loyalty.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tiers[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryPrograms) DeleteTier(_ context.Context, id loyalty.TierID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tiers[id]; !ok {
		return loyalty.ErrTierNotFound
	}
	delete(m.tiers, id)
	return nil
}

func (m *MemoryPrograms) ListTiers(_ context.Context, programID loyalty.ProgramID) ([]loyalty.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.Tier
	for _, t := range m.tiers {
		if t.ProgramID == programID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Order < result[j].Order })
	return result, nil
}
