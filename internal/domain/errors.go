package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateKey is returned by storage backends when an insert hits the
// (account_name, bank_txn_id) uniqueness constraint.
var ErrDuplicateKey = errors.New("duplicate transaction key")

// FieldDiff describes one field that disagrees between the stored record and a fetched one.
type FieldDiff struct {
	Field    string
	Expected string // stored value
	Actual   string // fetched value
}

func (d FieldDiff) String() string {
	return fmt.Sprintf("%s: stored %q, fetched %q", d.Field, d.Expected, d.Actual)
}

// ConsistencyViolation is returned when a fetched record diverges from the
// persisted one on a field that may not change.
type ConsistencyViolation struct {
	Account   string
	BankTxnID string
	Diffs     []FieldDiff
}

func (e *ConsistencyViolation) Error() string {
	parts := make([]string, len(e.Diffs))
	for i, d := range e.Diffs {
		parts[i] = d.String()
	}
	return fmt.Sprintf("consistency violation for %s/%s: %s", e.Account, e.BankTxnID, strings.Join(parts, "; "))
}

// Diff returns the diff for the named field, if any.
func (e *ConsistencyViolation) Diff(field string) (FieldDiff, bool) {
	for _, d := range e.Diffs {
		if d.Field == field {
			return d, true
		}
	}
	return FieldDiff{}, false
}

// MissingField is returned when a source record lacks a field needed to build a Transaction.
type MissingField struct {
	Account string
	Field   string
	Ref     string // whatever identifies the record at the source, may be empty
}

func (e *MissingField) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("record %s in account %s: missing field %s", e.Ref, e.Account, e.Field)
	}
	return fmt.Sprintf("record in account %s: missing field %s", e.Account, e.Field)
}

// TransportFailure wraps any network or authentication failure reported by a source.
type TransportFailure struct {
	Op  string
	Err error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportFailure) Unwrap() error {
	return e.Err
}

// DuplicateKeyOnSave is returned when a save violates the uniqueness constraint
// even though the preceding load found nothing. It points at a race between
// writers or an identity collision.
type DuplicateKeyOnSave struct {
	Account   string
	BankTxnID string
	Err       error
}

func (e *DuplicateKeyOnSave) Error() string {
	return fmt.Sprintf("duplicate key on save for %s/%s: %v", e.Account, e.BankTxnID, e.Err)
}

func (e *DuplicateKeyOnSave) Unwrap() error {
	return e.Err
}

// Kind names the taxonomy class of err, for metrics labels and logs.
func Kind(err error) string {
	var (
		cv *ConsistencyViolation
		mf *MissingField
		tf *TransportFailure
		dk *DuplicateKeyOnSave
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cv):
		return "consistency_violation"
	case errors.As(err, &mf):
		return "missing_field"
	case errors.As(err, &dk):
		return "duplicate_key"
	case errors.As(err, &tf):
		return "transport_failure"
	}
	return "other"
}
