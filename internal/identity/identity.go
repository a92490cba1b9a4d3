// Package identity derives synthetic transaction identifiers for sources that
// do not expose a stable native id.
//
// An identifier is the SHA-256 of the canonical forms of an ordered field
// tuple joined with NUL. Each field type has exactly one canonical form, so
// upstream formatting differences such as "12.50" vs "12.5" do not change the
// identifier. Two distinct transactions that share the whole tuple (same day,
// same amount, same description) get the same identifier and are treated as
// one; adapters should add a disambiguating field, such as the running
// balance, when the source exposes one.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

const separator = "\x00"

// Field is one element of an identity tuple.
type Field struct {
	canonical string
}

// Text is a free-text field such as a description.
func Text(s string) Field {
	return Field{canonical: "s:" + strconv.Quote(s)}
}

// Date is a calendar date field.
func Date(d civil.Date) Field {
	return Field{canonical: "d:" + d.String()}
}

// Amount is an exact decimal field.
func Amount(d decimal.Decimal) Field {
	return Field{canonical: "n:" + d.String()}
}

// Int is an integer field such as a sequence number.
func Int(n int64) Field {
	return Field{canonical: "i:" + strconv.FormatInt(n, 10)}
}

// Raw is an opaque token used verbatim, for source values that are already
// stable strings (timestamps, running balances as printed by the source).
func Raw(s string) Field {
	return Field{canonical: "r:" + s}
}

// String returns the canonical form of the field.
func (f Field) String() string {
	return f.canonical
}

// Derive returns the hex identifier for the ordered tuple.
func Derive(fields ...Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.canonical
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, separator)))
	return hex.EncodeToString(sum[:])
}
