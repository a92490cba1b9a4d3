// Package httpfeed is a source adapter driven entirely by configuration: it
// requests templated URLs through the transport and extracts transactions
// from JSON or XML responses with paths.
package httpfeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"text/template"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/identity"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/dvloznov/bank-download/internal/source"
	"github.com/dvloznov/bank-download/internal/transport"
	"github.com/dvloznov/bank-download/internal/window"
	"github.com/shopspring/decimal"
)

// Doer sends one request. *transport.Client implements it.
type Doer interface {
	Do(ctx context.Context, op string, req transport.Request) (*transport.Response, error)
}

// Feed implements source.Adapter for one account.
type Feed struct {
	account string
	cfg     Config
	doer    Doer

	balanceReq *request
	listReq    *request
	detailReq  *request
}

// templateData is what request templates can reference.
type templateData struct {
	Account string
	From    string
	To      string
	Page    int
	Token   string
	Ref     string
}

type request struct {
	method      string
	contentType string
	url         *template.Template
	body        *template.Template
	headers     map[string]*template.Template
}

// New validates cfg and returns an adapter. The returned value also
// implements source.DetailFetcher when cfg has a detail section, and
// source.Unwindowed when the transaction list is not windowed.
func New(account string, cfg Config, doer Doer) (source.Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}
	if err := cfg.checkPaths(); err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	f := &Feed{account: account, cfg: cfg, doer: doer}

	var err error
	if f.balanceReq, err = compileRequest("balance", cfg.Balance.Request); err != nil {
		return nil, err
	}
	if f.listReq, err = compileRequest("transactions", cfg.Transactions.Request); err != nil {
		return nil, err
	}
	if cfg.Detail != nil {
		if f.detailReq, err = compileRequest("detail", cfg.Detail.Request); err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.Detail != nil && !cfg.windowed():
		return &unwindowedDetailFeed{f}, nil
	case cfg.Detail != nil:
		return &detailFeed{f}, nil
	case !cfg.windowed():
		return &unwindowedFeed{f}, nil
	}
	return f, nil
}

type detailFeed struct{ *Feed }

func (d *detailFeed) FetchDetail(ctx context.Context, r source.Record) (source.Detail, error) {
	return d.fetchDetail(ctx, r)
}

type unwindowedFeed struct{ *Feed }

func (u *unwindowedFeed) WalkAll(ctx context.Context) iter.Seq2[source.Page, error] {
	return u.walk(ctx, templateData{Account: u.account})
}

type unwindowedDetailFeed struct{ *Feed }

func (u *unwindowedDetailFeed) FetchDetail(ctx context.Context, r source.Record) (source.Detail, error) {
	return u.fetchDetail(ctx, r)
}

func (u *unwindowedDetailFeed) WalkAll(ctx context.Context) iter.Seq2[source.Page, error] {
	return u.walk(ctx, templateData{Account: u.account})
}

func (c *Config) checkPaths() error {
	paths := []string{
		c.Balance.Path, c.Transactions.Items,
		c.Transactions.Pagination.LastPagePath, c.Transactions.Pagination.NextTokenPath,
		c.Fields.ID, c.Fields.Date, c.Fields.Amount, c.Fields.Debit, c.Fields.Credit,
		c.Fields.Description, c.Fields.Category, c.Fields.DetailRef,
	}
	for _, id := range c.Identity {
		if !isNamedIdentity(id) {
			paths = append(paths, id)
		}
	}
	if c.Detail != nil {
		paths = append(paths, c.Detail.Date, c.Detail.Amount, c.Detail.Description, c.Detail.Category)
	}
	for _, p := range paths {
		if err := checkPath(c.Format, p); err != nil {
			return err
		}
	}
	return nil
}

func compileRequest(name string, rc RequestConfig) (*request, error) {
	r := &request{
		method:      rc.Method,
		contentType: rc.ContentType,
		headers:     make(map[string]*template.Template),
	}

	var err error
	if r.url, err = template.New(name + ".url").Option("missingkey=error").Parse(rc.URL); err != nil {
		return nil, fmt.Errorf("compileRequest: %s url: %w", name, err)
	}
	if rc.Body != "" {
		if r.body, err = template.New(name + ".body").Parse(rc.Body); err != nil {
			return nil, fmt.Errorf("compileRequest: %s body: %w", name, err)
		}
	}
	for k, v := range rc.Headers {
		if r.headers[k], err = template.New(name + "." + k).Parse(v); err != nil {
			return nil, fmt.Errorf("compileRequest: %s header %s: %w", name, k, err)
		}
	}
	return r, nil
}

func render(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func (r *request) build(data templateData) (transport.Request, error) {
	url, err := render(r.url, data)
	if err != nil {
		return transport.Request{}, err
	}
	req := transport.Request{Method: r.method, URL: url, ContentType: r.contentType}

	if r.body != nil {
		body, err := render(r.body, data)
		if err != nil {
			return transport.Request{}, err
		}
		req.Body = []byte(body)
	}
	if len(r.headers) > 0 {
		req.Headers = make(map[string]string, len(r.headers))
		for k, t := range r.headers {
			if req.Headers[k], err = render(t, data); err != nil {
				return transport.Request{}, err
			}
		}
	}
	return req, nil
}

func (f *Feed) call(ctx context.Context, op string, r *request, data templateData) (*transport.Response, error) {
	req, err := r.build(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return f.doer.Do(ctx, op, req)
}

// Balance implements source.Adapter.
func (f *Feed) Balance(ctx context.Context) (decimal.Decimal, error) {
	resp, err := f.call(ctx, "balance", f.balanceReq, templateData{Account: f.account})
	if err != nil {
		return decimal.Zero, err
	}

	doc, err := parse(f.cfg.Format, resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Balance: %w", err)
	}
	raw, ok, err := doc.value(f.cfg.Balance.Path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Balance: %w", err)
	}
	if !ok {
		return decimal.Zero, &domain.MissingField{Account: f.account, Field: "balance", Ref: f.cfg.Balance.Path}
	}

	balance, err := ParseAmount(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Balance: %w", err)
	}
	return balance, nil
}

// WalkPages implements source.Adapter.
func (f *Feed) WalkPages(ctx context.Context, w window.Window) iter.Seq2[source.Page, error] {
	from, to := w.Format(f.cfg.WindowLayout)
	return f.walk(ctx, templateData{Account: f.account, From: from, To: to})
}

// walk requests pages until the pagination mode says there are no more.
func (f *Feed) walk(ctx context.Context, data templateData) iter.Seq2[source.Page, error] {
	return func(yield func(source.Page, error) bool) {
		p := f.cfg.Transactions.Pagination
		data.Page = p.FirstPage

		for seq := 0; ; seq++ {
			if seq >= p.MaxPages {
				yield(source.Page{}, fmt.Errorf("walk: more than %d pages, check the pagination settings", p.MaxPages))
				return
			}

			resp, err := f.call(ctx, "walk_pages", f.listReq, data)
			if err != nil {
				yield(source.Page{}, err)
				return
			}
			page := source.Page{Data: resp.Body, ContentType: resp.ContentType, Seq: seq}
			if !yield(page, nil) {
				return
			}

			more, next, err := f.nextPage(resp.Body, data)
			if err != nil {
				yield(source.Page{}, err)
				return
			}
			if !more {
				return
			}
			data = next
		}
	}
}

// nextPage decides whether another page follows body and how to request it.
func (f *Feed) nextPage(body []byte, data templateData) (bool, templateData, error) {
	p := f.cfg.Transactions.Pagination
	if p.Mode == PaginateSingle {
		return false, data, nil
	}

	doc, err := parse(f.cfg.Format, body)
	if err != nil {
		return false, data, fmt.Errorf("nextPage: %w", err)
	}

	switch p.Mode {
	case PaginatePageNumber:
		if p.LastPagePath != "" {
			last, ok, err := doc.value(p.LastPagePath)
			if err != nil {
				return false, data, fmt.Errorf("nextPage: %w", err)
			}
			if !ok || strings.EqualFold(last, "true") {
				return false, data, nil
			}
		} else {
			items, err := f.items(doc)
			if err != nil {
				return false, data, fmt.Errorf("nextPage: %w", err)
			}
			if len(items) == 0 {
				return false, data, nil
			}
		}
		data.Page++
		return true, data, nil

	case PaginateToken:
		token, ok, err := doc.value(p.NextTokenPath)
		if err != nil {
			return false, data, fmt.Errorf("nextPage: %w", err)
		}
		if !ok || token == "" || token == data.Token {
			return false, data, nil
		}
		data.Token = token
		return true, data, nil
	}
	return false, data, nil
}

// ProcessPage implements source.Adapter.
func (f *Feed) ProcessPage(ctx context.Context, p source.Page) iter.Seq2[source.Record, error] {
	return func(yield func(source.Record, error) bool) {
		doc, err := parse(f.cfg.Format, p.Data)
		if err != nil {
			yield(source.Record{}, fmt.Errorf("ProcessPage: %w", err))
			return
		}
		items, err := f.items(doc)
		if err != nil {
			yield(source.Record{}, fmt.Errorf("ProcessPage: %w", err))
			return
		}

		log := logger.FromContext(ctx)
		log.Debug().Int("page", p.Seq).Int("items", len(items)).Msg("Parsed page")

		for i, item := range items {
			rec, err := f.record(item)
			if err != nil {
				yield(source.Record{}, fmt.Errorf("ProcessPage: item %d: %w", i, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// items selects the transaction list of a page. A page without the list,
// such as an error envelope served with status 200, is a MissingField; only
// an empty list means no transactions.
func (f *Feed) items(doc node) ([]node, error) {
	path := f.cfg.Transactions.Items
	items, err := doc.items(path)
	if errors.Is(err, errNoItems) {
		return nil, &domain.MissingField{Account: f.account, Field: "items", Ref: path}
	}
	return items, err
}

// record extracts one list item.
func (f *Feed) record(item node) (source.Record, error) {
	fc := f.cfg.Fields
	var rec source.Record

	if fc.ID != "" {
		id, _, err := item.value(fc.ID)
		if err != nil {
			return rec, err
		}
		rec.NativeID = strings.TrimSpace(id)
	}
	if fc.DetailRef != "" {
		ref, _, err := item.value(fc.DetailRef)
		if err != nil {
			return rec, err
		}
		rec.DetailRef = ref
	}

	v, err := f.values(item, fc.Date, fc.Amount, fc.Description, fc.Category, true)
	if err != nil {
		return rec, err
	}
	rec.Date, rec.Amount, rec.Description, rec.Category, rec.Present = v.date, v.amount, v.description, v.category, v.present

	if rec.NativeID == "" && len(f.cfg.Identity) > 0 {
		rec.Identity, err = f.identity(item, v)
		if err != nil {
			return rec, err
		}
	}
	return rec, nil
}

type values struct {
	date        civil.Date
	amount      decimal.Decimal
	description string
	category    bigquery.NullString
	present     domain.Fields
}

// values extracts the transaction fields found at the given paths. Empty
// paths are skipped. The debit/credit split only applies to list items.
func (f *Feed) values(n node, datePath, amountPath, descPath, categoryPath string, list bool) (values, error) {
	var v values

	if datePath != "" {
		raw, ok, err := n.value(datePath)
		if err != nil {
			return v, err
		}
		if ok && raw != "" {
			t, err := time.Parse(f.cfg.Fields.DateLayout, strings.TrimSpace(raw))
			if err != nil {
				return v, fmt.Errorf("parsing date %q: %w", raw, err)
			}
			v.date = civil.DateOf(t)
			v.present |= domain.FieldDate
		}
	}

	amount, ok, err := f.amount(n, amountPath, list)
	if err != nil {
		return v, err
	}
	if ok {
		v.amount = amount
		v.present |= domain.FieldAmount
	}

	if descPath != "" {
		raw, ok, err := n.value(descPath)
		if err != nil {
			return v, err
		}
		if ok {
			v.description = strings.TrimSpace(raw)
			v.present |= domain.FieldDescription
		}
	}

	if categoryPath != "" {
		raw, ok, err := n.value(categoryPath)
		if err != nil {
			return v, err
		}
		if ok {
			if v.category, err = f.category(raw); err != nil {
				return v, err
			}
			v.present |= domain.FieldCategory
		}
	}
	return v, nil
}

func (f *Feed) amount(n node, path string, list bool) (decimal.Decimal, bool, error) {
	fc := f.cfg.Fields

	var (
		amount decimal.Decimal
		found  bool
	)
	if path != "" {
		raw, ok, err := n.value(path)
		if err != nil {
			return amount, false, err
		}
		if ok && raw != "" {
			if amount, err = ParseAmount(raw); err != nil {
				return amount, false, err
			}
			found = true
		}
	} else if list {
		// split columns: credit - debit, either may be blank
		for _, side := range []struct {
			path string
			sign int64
		}{{fc.Credit, 1}, {fc.Debit, -1}} {
			if side.path == "" {
				continue
			}
			raw, ok, err := n.value(side.path)
			if err != nil {
				return amount, false, err
			}
			if !ok || strings.TrimSpace(raw) == "" {
				continue
			}
			d, err := ParseAmount(raw)
			if err != nil {
				return amount, false, err
			}
			amount = amount.Add(d.Abs().Mul(decimal.NewFromInt(side.sign)))
			found = true
		}
	}

	if found && fc.Negate {
		amount = amount.Neg()
	}
	return amount, found, nil
}

// category maps a source code to a label. With no map configured the raw
// value is the label; an empty value is NULL either way.
func (f *Feed) category(raw string) (bigquery.NullString, error) {
	code := strings.TrimSpace(raw)
	if len(f.cfg.Categories) == 0 || code == "" {
		return domain.NullCategory(code), nil
	}

	label, ok := f.cfg.Categories[code]
	if !ok {
		return bigquery.NullString{}, &domain.MissingField{Account: f.account, Field: "category", Ref: "unknown code " + code}
	}
	if label == nil {
		return bigquery.NullString{}, nil
	}
	return domain.NullCategory(*label), nil
}

func isNamedIdentity(s string) bool {
	switch s {
	case "description", "date", "amount":
		return true
	}
	return false
}

// identity builds the synthetic id tuple from the configured fields.
func (f *Feed) identity(item node, v values) ([]identity.Field, error) {
	missing := func(name string) error {
		return &domain.MissingField{Account: f.account, Field: name}
	}

	fields := make([]identity.Field, 0, len(f.cfg.Identity))
	for _, name := range f.cfg.Identity {
		switch name {
		case "description":
			if !v.present.Has(domain.FieldDescription) {
				return nil, missing(name)
			}
			fields = append(fields, identity.Text(v.description))
		case "date":
			if !v.present.Has(domain.FieldDate) {
				return nil, missing(name)
			}
			fields = append(fields, identity.Date(v.date))
		case "amount":
			if !v.present.Has(domain.FieldAmount) {
				return nil, missing(name)
			}
			fields = append(fields, identity.Amount(v.amount))
		default:
			raw, ok, err := item.value(name)
			if err != nil {
				return nil, err
			}
			raw = strings.TrimSpace(raw)
			if !ok || raw == "" {
				return nil, missing(name)
			}
			fields = append(fields, identity.Raw(raw))
		}
	}
	return fields, nil
}

// fetchDetail requests the detail of one record.
func (f *Feed) fetchDetail(ctx context.Context, r source.Record) (source.Detail, error) {
	dc := f.cfg.Detail
	resp, err := f.call(ctx, "fetch_detail", f.detailReq, templateData{Account: f.account, Ref: r.DetailRef})
	if err != nil {
		return source.Detail{}, err
	}

	doc, err := parse(f.cfg.Format, resp.Body)
	if err != nil {
		return source.Detail{}, fmt.Errorf("FetchDetail: %w", err)
	}

	v, err := f.values(doc, dc.Date, dc.Amount, dc.Description, dc.Category, false)
	if err != nil {
		return source.Detail{}, fmt.Errorf("FetchDetail: %w", err)
	}
	return source.Detail{
		Date:        v.date,
		Amount:      v.amount,
		Description: v.description,
		Category:    v.category,
		Present:     v.present,
	}, nil
}

// ParseAmount parses a money string leniently: currency signs, thousands
// separators and spaces are dropped, and "(12.50)" is read as -12.50.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "").Replace(strings.TrimSpace(s))

	neg := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		neg = true
		clean = clean[1 : len(clean)-1]
	}
	clean = strings.TrimPrefix(clean, "+")

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
