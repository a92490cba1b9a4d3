package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/store"
	"google.golang.org/api/iterator"
)

const transactionsTable = "transactions"

// TransactionStore implements store.Backend on the transactions table.
type TransactionStore struct {
	client *Client
}

// NewTransactionStore creates a TransactionStore using the shared client.
func NewTransactionStore(client *Client) *TransactionStore {
	return &TransactionStore{client: client}
}

// LoadTransaction implements store.Backend.
func (s *TransactionStore) LoadTransaction(ctx context.Context, accountName, bankTxnID string) (*domain.Transaction, error) {
	q := s.client.bq.Query(fmt.Sprintf(`
		SELECT account_name, bank_txn_id, date, category, amount, description
		FROM %s
		WHERE account_name = @account_name AND bank_txn_id = @bank_txn_id
		LIMIT 1
	`, s.client.table(transactionsTable)))
	q.Parameters = keyParams(accountName, bankTxnID)

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadTransaction: query read: %w", err)
	}

	var row TransactionRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("LoadTransaction: iter next: %w", err)
	}

	txn, err := row.transaction()
	if err != nil {
		return nil, fmt.Errorf("LoadTransaction: %w", err)
	}
	return txn, nil
}

// InsertTransaction implements store.Backend. BigQuery has no unique
// constraints, so the insert is conditional on the key being absent and an
// insert that changed no rows is reported as a duplicate.
func (s *TransactionStore) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	row := toRow(txn)
	table := s.client.table(transactionsTable)

	sql := fmt.Sprintf(`
		INSERT %s (account_name, bank_txn_id, date, category, amount, description)
		SELECT @account_name, @bank_txn_id, @date, @category, @amount, @description
		FROM (SELECT 1)
		WHERE NOT EXISTS (
			SELECT 1 FROM %s
			WHERE account_name = @account_name AND bank_txn_id = @bank_txn_id
		)
	`, table, table)

	params := append(keyParams(row.AccountName, row.BankTxnID),
		bigquery.QueryParameter{Name: "date", Value: row.Date},
		bigquery.QueryParameter{Name: "category", Value: row.Category},
		bigquery.QueryParameter{Name: "amount", Value: row.Amount},
		bigquery.QueryParameter{Name: "description", Value: row.Description},
	)

	n, err := s.client.runDML(ctx, "InsertTransaction", sql, params)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("InsertTransaction: %s: %w", txn.Key(), domain.ErrDuplicateKey)
	}
	return nil
}

// UpdateDescription implements store.Backend.
func (s *TransactionStore) UpdateDescription(ctx context.Context, accountName, bankTxnID, description string) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET description = @description
		WHERE account_name = @account_name AND bank_txn_id = @bank_txn_id
	`, s.client.table(transactionsTable))

	params := append(keyParams(accountName, bankTxnID),
		bigquery.QueryParameter{Name: "description", Value: description})

	n, err := s.client.runDML(ctx, "UpdateDescription", sql, params)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func keyParams(accountName, bankTxnID string) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "account_name", Value: accountName},
		{Name: "bank_txn_id", Value: bankTxnID},
	}
}

var _ store.Backend = (*TransactionStore)(nil)
