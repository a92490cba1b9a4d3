// Package store implements the reconciliation store: keyed transaction
// storage with strict consistency checks between fetched and persisted records.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/logger"
)

// ErrNotFound is returned by Load when no transaction has the requested key.
var ErrNotFound = errors.New("transaction not found")

// Backend is the durable storage behind a Store. Implementations must enforce
// uniqueness of (account_name, bank_txn_id) and report violations from
// InsertTransaction as an error wrapping domain.ErrDuplicateKey.
type Backend interface {
	// LoadTransaction returns the stored transaction or an error wrapping ErrNotFound.
	LoadTransaction(ctx context.Context, accountName, bankTxnID string) (*domain.Transaction, error)

	// InsertTransaction inserts a new row. It never overwrites an existing one.
	InsertTransaction(ctx context.Context, txn domain.Transaction) error

	// UpdateDescription rewrites the description of an existing row.
	UpdateDescription(ctx context.Context, accountName, bankTxnID, description string) error
}

// Store wraps a Backend with the load / save / match protocol used by the engine.
type Store struct {
	backend Backend
}

// New creates a Store over the given backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Load looks up a transaction by its exact key.
func (s *Store) Load(ctx context.Context, accountName, bankTxnID string) (*domain.Transaction, error) {
	txn, err := s.backend.LoadTransaction(ctx, accountName, bankTxnID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("Load: %s/%s: %w", accountName, bankTxnID, err)
	}
	return txn, nil
}

// Save inserts a new transaction. A uniqueness violation is returned as
// *domain.DuplicateKeyOnSave and is never retried or coalesced.
func (s *Store) Save(ctx context.Context, txn domain.Transaction) error {
	if err := s.backend.InsertTransaction(ctx, txn); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return &domain.DuplicateKeyOnSave{Account: txn.AccountName, BankTxnID: txn.BankTxnID, Err: err}
		}
		return fmt.Errorf("Save: %s: %w", txn.Key(), err)
	}
	return nil
}

// Match checks a freshly fetched candidate against the stored record with the
// same key. Amount must always be equal; date, description and category are
// compared only when the candidate carries them. When description is the only
// difference, the stored description is replaced with the fetched one, since
// some sources revise descriptions after posting. Any other difference is a
// *domain.ConsistencyViolation.
//
// The returned transaction is the stored record after any correction.
func (s *Store) Match(ctx context.Context, stored *domain.Transaction, c domain.Candidate) (*domain.Transaction, error) {
	if stored.AccountName != c.AccountName || stored.BankTxnID != c.BankTxnID {
		return nil, fmt.Errorf("Match: key mismatch: stored %s, candidate %s/%s", stored.Key(), c.AccountName, c.BankTxnID)
	}

	if diffs := compare(stored, c); len(diffs) > 0 {
		return nil, &domain.ConsistencyViolation{Account: stored.AccountName, BankTxnID: stored.BankTxnID, Diffs: diffs}
	}

	out := *stored
	if c.Present.Has(domain.FieldDescription) && c.Description != stored.Description {
		log := logger.FromContext(ctx)
		log.Info().
			Str("account", stored.AccountName).
			Str("bank_txn_id", stored.BankTxnID).
			Str("old_description", stored.Description).
			Str("new_description", c.Description).
			Msg("Source changed description")

		if err := s.backend.UpdateDescription(ctx, stored.AccountName, stored.BankTxnID, c.Description); err != nil {
			return nil, fmt.Errorf("Match: updating description of %s: %w", stored.Key(), err)
		}
		out.Description = c.Description
	}

	return &out, nil
}

// compare lists every non-description field that disagrees.
func compare(stored *domain.Transaction, c domain.Candidate) []domain.FieldDiff {
	var diffs []domain.FieldDiff

	if !stored.Amount.Equal(c.Amount) {
		diffs = append(diffs, domain.FieldDiff{Field: "amount", Expected: stored.Amount.String(), Actual: c.Amount.String()})
	}
	if c.Present.Has(domain.FieldDate) && stored.Date != c.Date {
		diffs = append(diffs, domain.FieldDiff{Field: "date", Expected: stored.Date.String(), Actual: c.Date.String()})
	}
	if c.Present.Has(domain.FieldCategory) && !sameCategory(stored, c) {
		diffs = append(diffs, domain.FieldDiff{
			Field:    "category",
			Expected: categoryString(stored.Category.Valid, stored.Category.StringVal),
			Actual:   categoryString(c.Category.Valid, c.Category.StringVal),
		})
	}

	return diffs
}

func sameCategory(stored *domain.Transaction, c domain.Candidate) bool {
	if stored.Category.Valid != c.Category.Valid {
		return false
	}
	return !stored.Category.Valid || stored.Category.StringVal == c.Category.StringVal
}

func categoryString(valid bool, s string) string {
	if !valid {
		return "NULL"
	}
	return s
}
