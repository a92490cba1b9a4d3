package postgres

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// TransactionStore implements store.Backend on the transactions table. Dates
// and amounts are stored as text so the exact decimal and the ISO date
// survive a round trip.
type TransactionStore struct {
	db DB
}

// NewTransactionStore creates a TransactionStore over db.
func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// LoadTransaction implements store.Backend.
func (s *TransactionStore) LoadTransaction(ctx context.Context, accountName, bankTxnID string) (*domain.Transaction, error) {
	query := `
		SELECT account_name, bank_txn_id, date, category, amount, description
		FROM transactions
		WHERE account_name = $1 AND bank_txn_id = $2
	`

	var (
		txn      domain.Transaction
		date     string
		amount   string
		category *string
	)
	err := s.db.QueryRow(ctx, query, accountName, bankTxnID).
		Scan(&txn.AccountName, &txn.BankTxnID, &date, &category, &amount, &txn.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("LoadTransaction: query: %w", err)
	}

	if txn.Date, err = civil.ParseDate(date); err != nil {
		return nil, fmt.Errorf("LoadTransaction: parsing date %q: %w", date, err)
	}
	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("LoadTransaction: parsing amount %q: %w", amount, err)
	}
	if category != nil {
		txn.Category = bigquery.NullString{StringVal: *category, Valid: true}
	}

	return &txn, nil
}

// InsertTransaction implements store.Backend. Rows are never upserted; a
// duplicate key surfaces as domain.ErrDuplicateKey.
func (s *TransactionStore) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	query := `
		INSERT INTO transactions (account_name, bank_txn_id, date, category, amount, description)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var category *string
	if txn.Category.Valid {
		category = &txn.Category.StringVal
	}

	_, err := s.db.Exec(ctx, query,
		txn.AccountName, txn.BankTxnID, txn.Date.String(), category, txn.Amount.String(), txn.Description)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("InsertTransaction: %s: %w", pgErr.ConstraintName, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("InsertTransaction: exec: %w", err)
	}

	return nil
}

// UpdateDescription implements store.Backend.
func (s *TransactionStore) UpdateDescription(ctx context.Context, accountName, bankTxnID, description string) error {
	query := `
		UPDATE transactions SET description = $3
		WHERE account_name = $1 AND bank_txn_id = $2
	`

	tag, err := s.db.Exec(ctx, query, accountName, bankTxnID, description)
	if err != nil {
		return fmt.Errorf("UpdateDescription: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

var _ store.Backend = (*TransactionStore)(nil)
