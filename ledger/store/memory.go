// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/hours-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[ledger.BalanceKey][]ledger.Transaction
	idempotency  map[string]bool
	failWith     error
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[ledger.BalanceKey][]ledger.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// FailWith makes every following write return err. nil restores normal
// behaviour. Used to simulate an unavailable store.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(ctx context.Context, tx ledger.Transaction) error {
	return m.AppendBatch(ctx, []ledger.Transaction{tx})
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}

	// Check all idempotency keys first (atomic check)
	batch := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || batch[tx.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		batch[tx.IdempotencyKey] = true
	}

	for _, tx := range txs {
		m.appendLocked(tx)
	}
	return nil
}

func (m *Memory) appendLocked(tx ledger.Transaction) {
	k := tx.Key()
	txs := m.transactions[k]

	// Insert after every entry on the same or an earlier date.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].Date.After(tx.Date)
	})

	txs = append(txs, ledger.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[k] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
}

func (m *Memory) ListForPeriod(_ context.Context, employeeID ledger.EmployeeID, category ledger.Category, year int) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := ledger.BalanceKey{EmployeeID: employeeID, Category: category, Year: year}
	result := make([]ledger.Transaction, len(m.transactions[k]))
	copy(result, m.transactions[k])
	return result, nil
}

func (m *Memory) ListForEmployee(_ context.Context, employeeID ledger.EmployeeID, f ledger.Filter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	for k, txs := range m.transactions {
		if k.EmployeeID != employeeID {
			continue
		}
		for _, tx := range txs {
			if f.Matches(tx) {
				result = append(result, tx)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	return m.idempotency[idempotencyKey], nil
}

// Count returns the total number of stored transactions.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, txs := range m.transactions {
		n += len(txs)
	}
	return n
}

var _ ledger.Store = (*Memory)(nil)
