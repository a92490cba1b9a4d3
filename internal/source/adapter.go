// Package source defines the capabilities the ingestion engine needs from a
// transaction source. Adapters implement these interfaces directly; the
// engine discovers the optional ones with type assertions.
package source

import (
	"context"
	"iter"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/identity"
	"github.com/dvloznov/bank-download/internal/window"
	"github.com/shopspring/decimal"
)

// Page is one raw response from a source, opaque to the engine.
type Page struct {
	Data        []byte
	ContentType string
	Seq         int // position of the page within its window, starting at 0
}

// Extension returns a file extension matching the page content type.
func (p Page) Extension() string {
	ct := strings.ToLower(p.ContentType)
	switch {
	case strings.Contains(ct, "json"):
		return ".json"
	case strings.Contains(ct, "xml"):
		return ".xml"
	case strings.Contains(ct, "html"):
		return ".html"
	case strings.HasPrefix(ct, "text/"):
		return ".txt"
	}
	return ".bin"
}

// Record is one transaction as parsed from a page, before normalization.
// Present lists which of the value fields were found on the page.
type Record struct {
	// NativeID is the source's own transaction id. When empty, the engine
	// derives an id from Identity.
	NativeID string
	Identity []identity.Field

	Date        civil.Date
	Amount      decimal.Decimal
	Description string
	Category    bigquery.NullString
	Present     domain.Fields

	// DetailRef is passed back to FetchDetail (a detail link, a token).
	DetailRef string
}

// Detail holds supplemental fields for one record.
type Detail struct {
	Date        civil.Date
	Amount      decimal.Decimal
	Description string
	Category    bigquery.NullString
	Present     domain.Fields
}

// Adapter is the capability set every source provides.
type Adapter interface {
	// Balance returns the current account balance.
	Balance(ctx context.Context) (decimal.Decimal, error)

	// WalkPages yields the raw pages covering w. The sequence ends when the
	// source signals there are no more pages for the window.
	WalkPages(ctx context.Context, w window.Window) iter.Seq2[Page, error]

	// ProcessPage parses a page into records in source order.
	ProcessPage(ctx context.Context, p Page) iter.Seq2[Record, error]
}

// DetailFetcher is implemented by sources whose list pages omit fields that
// must be persisted (category, exact date).
type DetailFetcher interface {
	FetchDetail(ctx context.Context, r Record) (Detail, error)
}

// Unwindowed is implemented by sources that cannot filter by date and page
// through their whole history instead. The engine reads every page once and
// does not apply the window stop rule.
type Unwindowed interface {
	WalkAll(ctx context.Context) iter.Seq2[Page, error]
}
