package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/identity"
	"github.com/dvloznov/bank-download/internal/source"
	"github.com/dvloznov/bank-download/internal/window"
	"github.com/shopspring/decimal"
)

// fakeAdapter serves a fixed list of records, filtered by window date and
// split into pages of pageSize. Windows with no records yield one empty page,
// the way most JSON APIs answer.
type fakeAdapter struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	all      []source.Record
	pageSize int

	BalanceFunc     func(ctx context.Context) (decimal.Decimal, error)
	WalkPagesErr    error
	ProcessPageFunc func(ctx context.Context, p source.Page) iter.Seq2[source.Record, error]

	requested []window.Window
	pages     map[string][]source.Record
	nextPage  int
}

func newFakeAdapter(records ...source.Record) *fakeAdapter {
	return &fakeAdapter{
		balance:  decimal.RequireFromString("1947.50"),
		all:      records,
		pageSize: 2,
		pages:    make(map[string][]source.Record),
	}
}

func (f *fakeAdapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	if f.BalanceFunc != nil {
		return f.BalanceFunc(ctx)
	}
	return f.balance, nil
}

func (f *fakeAdapter) WalkPages(ctx context.Context, w window.Window) iter.Seq2[source.Page, error] {
	return func(yield func(source.Page, error) bool) {
		f.mu.Lock()
		f.requested = append(f.requested, w)
		f.mu.Unlock()

		if f.WalkPagesErr != nil {
			yield(source.Page{}, f.WalkPagesErr)
			return
		}

		var inWindow []source.Record
		for _, r := range f.all {
			if !r.Date.Before(w.From) && !r.Date.After(w.To) {
				inWindow = append(inWindow, r)
			}
		}

		seq := 0
		for {
			n := min(f.pageSize, len(inWindow))
			if !yield(f.page(seq, inWindow[:n]), nil) {
				return
			}
			inWindow = inWindow[n:]
			seq++
			if len(inWindow) == 0 {
				return
			}
		}
	}
}

func (f *fakeAdapter) page(seq int, recs []source.Record) source.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPage++
	key := fmt.Sprintf("page-%d", f.nextPage)
	f.pages[key] = recs
	return source.Page{Data: []byte(key), ContentType: "application/json", Seq: seq}
}

func (f *fakeAdapter) ProcessPage(ctx context.Context, p source.Page) iter.Seq2[source.Record, error] {
	if f.ProcessPageFunc != nil {
		return f.ProcessPageFunc(ctx, p)
	}
	return f.records(p)
}

// records replays the records served on page p.
func (f *fakeAdapter) records(p source.Page) iter.Seq2[source.Record, error] {
	return func(yield func(source.Record, error) bool) {
		f.mu.Lock()
		recs, ok := f.pages[string(p.Data)]
		f.mu.Unlock()
		if !ok {
			yield(source.Record{}, errors.New("unknown page"))
			return
		}
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (f *fakeAdapter) Requested() []window.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]window.Window(nil), f.requested...)
}

// detailAdapter adds a FetchDetail capability to fakeAdapter.
type detailAdapter struct {
	*fakeAdapter
	FetchDetailFunc func(ctx context.Context, r source.Record) (source.Detail, error)
	calls           int
}

func (d *detailAdapter) FetchDetail(ctx context.Context, r source.Record) (source.Detail, error) {
	d.calls++
	return d.FetchDetailFunc(ctx, r)
}

// unwindowedAdapter pages through everything regardless of date.
type unwindowedAdapter struct {
	*fakeAdapter
}

func (u *unwindowedAdapter) WalkAll(ctx context.Context) iter.Seq2[source.Page, error] {
	return func(yield func(source.Page, error) bool) {
		recs := u.all
		for seq := 0; len(recs) > 0; seq++ {
			n := min(u.pageSize, len(recs))
			if !yield(u.page(seq, recs[:n]), nil) {
				return
			}
			recs = recs[n:]
		}
	}
}

func date(y int, m int, d int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: d}
}

// rec builds a fully populated list record with a synthetic id.
func rec(d civil.Date, amount, desc string) source.Record {
	amt := decimal.RequireFromString(amount)
	return source.Record{
		Identity:    []identity.Field{identity.Text(desc), identity.Date(d), identity.Amount(amt)},
		Date:        d,
		Amount:      amt,
		Description: desc,
		Category:    domain.NullCategory(""),
		Present:     domain.FieldDate | domain.FieldAmount | domain.FieldDescription | domain.FieldCategory,
	}
}
