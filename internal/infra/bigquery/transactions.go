package bigquery

import (
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionRow is one row of the transactions table.
type TransactionRow struct {
	AccountName string              `bigquery:"account_name"` // REQUIRED
	BankTxnID   string              `bigquery:"bank_txn_id"`  // REQUIRED
	Date        civil.Date          `bigquery:"date"`         // REQUIRED
	Category    bigquery.NullString `bigquery:"category"`     // NULLABLE
	Amount      string              `bigquery:"amount"`       // REQUIRED, exact decimal text
	Description string              `bigquery:"description"`  // REQUIRED
}

func toRow(txn domain.Transaction) TransactionRow {
	return TransactionRow{
		AccountName: txn.AccountName,
		BankTxnID:   txn.BankTxnID,
		Date:        txn.Date,
		Category:    txn.Category,
		Amount:      txn.Amount.String(),
		Description: txn.Description,
	}
}

func (r TransactionRow) transaction() (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q of %s/%s: %w", r.Amount, r.AccountName, r.BankTxnID, err)
	}
	return &domain.Transaction{
		AccountName: r.AccountName,
		BankTxnID:   r.BankTxnID,
		Date:        r.Date,
		Amount:      amount,
		Description: r.Description,
		Category:    r.Category,
	}, nil
}
