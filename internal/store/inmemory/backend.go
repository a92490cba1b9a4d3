package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/store"
)

// Backend is an in-memory implementation of store.Backend.
// It is safe for concurrent use. Data is lost on restart; it backs tests and
// dry runs.
type Backend struct {
	mu   sync.RWMutex
	rows map[key]domain.Transaction
}

type key struct {
	account string
	id      string
}

// NewBackend creates an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		rows: make(map[key]domain.Transaction),
	}
}

// LoadTransaction implements store.Backend.
func (b *Backend) LoadTransaction(ctx context.Context, accountName, bankTxnID string) (*domain.Transaction, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	txn, ok := b.rows[key{accountName, bankTxnID}]
	if !ok {
		return nil, store.ErrNotFound
	}

	// Return a copy to avoid external modifications
	return &txn, nil
}

// InsertTransaction implements store.Backend.
func (b *Backend) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	if txn.AccountName == "" || txn.BankTxnID == "" {
		return fmt.Errorf("InsertTransaction: account name and bank txn id are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{txn.AccountName, txn.BankTxnID}
	if _, exists := b.rows[k]; exists {
		return fmt.Errorf("InsertTransaction: %s: %w", txn.Key(), domain.ErrDuplicateKey)
	}
	b.rows[k] = txn

	return nil
}

// UpdateDescription implements store.Backend.
func (b *Backend) UpdateDescription(ctx context.Context, accountName, bankTxnID, description string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{accountName, bankTxnID}
	txn, ok := b.rows[k]
	if !ok {
		return fmt.Errorf("UpdateDescription: %s/%s: %w", accountName, bankTxnID, store.ErrNotFound)
	}
	txn.Description = description
	b.rows[k] = txn

	return nil
}

// All returns a snapshot of every stored transaction ordered by account and id.
func (b *Backend) All() []domain.Transaction {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(b.rows))
	for _, txn := range b.rows {
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountName != out[j].AccountName {
			return out[i].AccountName < out[j].AccountName
		}
		return out[i].BankTxnID < out[j].BankTxnID
	})

	return out
}

// Len returns the number of stored transactions.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

// Ensure Backend implements store.Backend.
var _ store.Backend = (*Backend)(nil)
