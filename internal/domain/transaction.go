package domain

import (
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction represents one financial event as persisted in the transactions table.
// (AccountName, BankTxnID) is the primary key and never changes once assigned.
type Transaction struct {
	AccountName string              // operator-assigned account label
	BankTxnID   string              // source-native id or a synthetic id from the identity package
	Date        civil.Date          // posting date as reported by the source
	Amount      decimal.Decimal     // positive = credit, negative = debit
	Description string              // only field that may be corrected after persistence
	Category    bigquery.NullString // NULL means uncategorized or not available
}

// Key returns the primary key of the transaction as a single string, for logging and maps.
func (t Transaction) Key() string {
	return t.AccountName + "/" + t.BankTxnID
}

// Fields is a set of optional transaction fields.
type Fields uint8

const (
	FieldDate Fields = 1 << iota
	FieldAmount
	FieldDescription
	FieldCategory
)

// Has reports whether every field in f2 is also in f.
func (f Fields) Has(f2 Fields) bool {
	return f&f2 == f2
}

// String lists the fields in f using their column names.
func (f Fields) String() string {
	var names []string
	for _, fld := range []Fields{FieldDate, FieldAmount, FieldDescription, FieldCategory} {
		if f.Has(fld) {
			names = append(names, fld.column())
		}
	}
	return strings.Join(names, ",")
}

func (f Fields) column() string {
	switch f {
	case FieldDate:
		return "date"
	case FieldAmount:
		return "amount"
	case FieldDescription:
		return "description"
	case FieldCategory:
		return "category"
	}
	return "unknown"
}

// Candidate is a transaction freshly parsed from a source page, before it is
// reconciled with the store. Only the fields listed in Present carry a value;
// a present Category with Valid=false means the source reports no category.
type Candidate struct {
	AccountName string
	BankTxnID   string
	Date        civil.Date
	Amount      decimal.Decimal
	Description string
	Category    bigquery.NullString
	Present     Fields
}

// Missing returns the fields a Transaction needs that the candidate does not carry.
func (c Candidate) Missing() Fields {
	all := FieldDate | FieldAmount | FieldDescription | FieldCategory
	return all &^ c.Present
}

// Transaction converts the candidate into a Transaction. Absent fields keep
// their zero value, and an absent category becomes NULL.
func (c Candidate) Transaction() Transaction {
	t := Transaction{
		AccountName: c.AccountName,
		BankTxnID:   c.BankTxnID,
		Date:        c.Date,
		Amount:      c.Amount,
		Description: c.Description,
	}
	if c.Present.Has(FieldCategory) {
		t.Category = c.Category
	}
	return t
}

// IngestionOutcome pairs a transaction with whether this run persisted it for the first time.
type IngestionOutcome struct {
	Transaction Transaction
	IsNew       bool
}

// NullCategory builds a category value; an empty label is NULL.
func NullCategory(label string) bigquery.NullString {
	return bigquery.NullString{StringVal: label, Valid: label != ""}
}
