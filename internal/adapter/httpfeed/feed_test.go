package httpfeed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/identity"
	"github.com/dvloznov/bank-download/internal/source"
	"github.com/dvloznov/bank-download/internal/transport"
	"github.com/dvloznov/bank-download/internal/window"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

var recordOpts = cmp.Options{
	cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
	cmp.Comparer(func(a, b identity.Field) bool { return a.String() == b.String() }),
}

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

// bank serves canned responses keyed by path and query, and records every
// request URI it receives.
type bank struct {
	ct       string
	pages    map[string]string
	requests []string
}

func newBank(t *testing.T, ct string, pages map[string]string) (*bank, *httptest.Server) {
	b := &bank{ct: ct, pages: pages}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.requests = append(b.requests, r.URL.RequestURI())
		body, ok := b.pages[r.URL.RequestURI()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", b.ct)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func newClient() *transport.Client {
	return transport.New(transport.Options{MinInterval: -1})
}

func collectPages(t *testing.T, seq func(func(source.Page, error) bool)) []source.Page {
	t.Helper()
	var pages []source.Page
	for p, err := range seq {
		if err != nil {
			t.Fatalf("walk error = %v", err)
		}
		pages = append(pages, p)
	}
	return pages
}

func collectRecords(t *testing.T, a source.Adapter, pages []source.Page) []source.Record {
	t.Helper()
	var recs []source.Record
	for _, p := range pages {
		for r, err := range a.ProcessPage(context.Background(), p) {
			if err != nil {
				t.Fatalf("ProcessPage() error = %v", err)
			}
			recs = append(recs, r)
		}
	}
	return recs
}

func jsonConfig(base string) Config {
	return Config{
		Balance: BalanceConfig{
			Request: RequestConfig{URL: base + "/accounts/{{.Account}}"},
			Path:    "$.balance.available",
		},
		Transactions: TransactionsConfig{
			Request: RequestConfig{URL: base + "/accounts/{{.Account}}/txns?from={{.From}}&to={{.To}}"},
			Items:   "$.transactions[*]",
		},
		Fields: FieldsConfig{
			ID:          "$.id",
			Date:        "$.posted",
			Amount:      "$.amount",
			Description: "$.memo",
			Category:    "$.category",
		},
	}
}

func TestJSONFeed(t *testing.T) {
	b, srv := newBank(t, "application/json", map[string]string{
		"/accounts/checking": `{"balance":{"available":"1,947.50"}}`,
		"/accounts/checking/txns?from=2023-12-17&to=2024-02-15": `{"transactions":[
			{"id":"t1","posted":"2024-02-10","amount":-12.50,"memo":" COFFEE SHOP ","category":"Dining"},
			{"id":"t2","posted":"2024-02-01","amount":"2500.00","memo":"PAYROLL"}
		]}`,
	})

	a, err := New("checking", jsonConfig(srv.URL), newClient())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := a.(source.DetailFetcher); ok {
		t.Error("adapter without a detail section implements DetailFetcher")
	}
	if _, ok := a.(source.Unwindowed); ok {
		t.Error("windowed adapter implements Unwindowed")
	}

	balance, err := a.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("1947.50")) {
		t.Errorf("Balance() = %s", balance)
	}

	w := window.Window{From: date(2023, 12, 17), To: date(2024, 2, 15)}
	pages := collectPages(t, a.WalkPages(context.Background(), w))
	if len(pages) != 1 || pages[0].ContentType != "application/json" {
		t.Fatalf("pages = %+v", pages)
	}

	want := []source.Record{
		{
			NativeID:    "t1",
			Date:        date(2024, 2, 10),
			Amount:      decimal.RequireFromString("-12.50"),
			Description: "COFFEE SHOP",
			Category:    bigquery.NullString{StringVal: "Dining", Valid: true},
			Present:     domain.FieldDate | domain.FieldAmount | domain.FieldDescription | domain.FieldCategory,
		},
		{
			NativeID:    "t2",
			Date:        date(2024, 2, 1),
			Amount:      decimal.RequireFromString("2500"),
			Description: "PAYROLL",
			Present:     domain.FieldDate | domain.FieldAmount | domain.FieldDescription,
		},
	}
	if diff := cmp.Diff(want, collectRecords(t, a, pages), recordOpts); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if len(b.requests) != 2 {
		t.Errorf("requests = %v", b.requests)
	}
}

func TestXMLFeed(t *testing.T) {
	_, srv := newBank(t, "application/xml", map[string]string{
		"/balance": `<Account><Balance currency="USD">310.00</Balance></Account>`,
		"/stmt?start=12/17/2023&end=02/15/2024": `<Statement>
			<Txn ref="A1"><Posted>02/10/2024</Posted><Debit>12.50</Debit><Credit/><Memo>COFFEE SHOP</Memo></Txn>
			<Txn ref="A2"><Posted>02/01/2024</Posted><Debit/><Credit>2,500.00</Credit><Memo>PAYROLL</Memo></Txn>
		</Statement>`,
	})

	cfg := Config{
		Format:       FormatXML,
		WindowLayout: "01/02/2006",
		Balance:      BalanceConfig{Request: RequestConfig{URL: srv.URL + "/balance"}, Path: "//Balance"},
		Transactions: TransactionsConfig{
			Request: RequestConfig{URL: srv.URL + "/stmt?start={{.From}}&end={{.To}}"},
			Items:   "//Txn",
		},
		Fields: FieldsConfig{
			ID:          "@ref",
			Date:        "Posted",
			DateLayout:  "01/02/2006",
			Debit:       "Debit",
			Credit:      "Credit",
			Description: "Memo",
		},
	}
	a, err := New("savings", cfg, newClient())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	balance, err := a.Balance(context.Background())
	if err != nil || !balance.Equal(decimal.RequireFromString("310")) {
		t.Fatalf("Balance() = %s, %v", balance, err)
	}

	w := window.Window{From: date(2023, 12, 17), To: date(2024, 2, 15)}
	recs := collectRecords(t, a, collectPages(t, a.WalkPages(context.Background(), w)))

	want := []source.Record{
		{
			NativeID:    "A1",
			Date:        date(2024, 2, 10),
			Amount:      decimal.RequireFromString("-12.50"),
			Description: "COFFEE SHOP",
			Present:     domain.FieldDate | domain.FieldAmount | domain.FieldDescription,
		},
		{
			NativeID:    "A2",
			Date:        date(2024, 2, 1),
			Amount:      decimal.RequireFromString("2500"),
			Description: "PAYROLL",
			Present:     domain.FieldDate | domain.FieldAmount | domain.FieldDescription,
		},
	}
	if diff := cmp.Diff(want, recs, recordOpts); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		name      string
		pageURL   string
		paginate  PaginationConfig
		pages     map[string]string
		wantPages int
	}{
		{
			name:     "page number with last page flag",
			pageURL:  "/txns?page={{.Page}}",
			paginate: PaginationConfig{Mode: PaginatePageNumber, FirstPage: 1, LastPagePath: "$.last"},
			pages: map[string]string{
				"/txns?page=1": `{"last":false,"transactions":[{"id":"1","amount":"1"}]}`,
				"/txns?page=2": `{"last":true,"transactions":[{"id":"2","amount":"2"}]}`,
			},
			wantPages: 2,
		},
		{
			name:     "page number until empty",
			pageURL:  "/txns?page={{.Page}}",
			paginate: PaginationConfig{Mode: PaginatePageNumber},
			pages: map[string]string{
				"/txns?page=0": `{"transactions":[{"id":"1","amount":"1"}]}`,
				"/txns?page=1": `{"transactions":[{"id":"2","amount":"2"}]}`,
				"/txns?page=2": `{"transactions":[]}`,
			},
			wantPages: 3,
		},
		{
			name:     "continuation token",
			pageURL:  "/txns?token={{.Token}}",
			paginate: PaginationConfig{Mode: PaginateToken, NextTokenPath: "$.next"},
			pages: map[string]string{
				"/txns?token=":    `{"next":"abc","transactions":[{"id":"1","amount":"1"}]}`,
				"/txns?token=abc": `{"next":"","transactions":[{"id":"2","amount":"2"}]}`,
			},
			wantPages: 2,
		},
		{
			name:     "repeated token ends the walk",
			pageURL:  "/txns?token={{.Token}}",
			paginate: PaginationConfig{Mode: PaginateToken, NextTokenPath: "$.next"},
			pages: map[string]string{
				"/txns?token=":    `{"next":"abc","transactions":[]}`,
				"/txns?token=abc": `{"next":"abc","transactions":[]}`,
			},
			wantPages: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.pages["/bal"] = `{"balance":{"available":"0"}}`
			_, srv := newBank(t, "application/json", tt.pages)

			cfg := jsonConfig(srv.URL)
			cfg.Balance.Request.URL = srv.URL + "/bal"
			cfg.Transactions.Request.URL = srv.URL + tt.pageURL
			cfg.Transactions.Pagination = tt.paginate

			a, err := New("checking", cfg, newClient())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			pages := collectPages(t, a.WalkPages(context.Background(), window.Window{}))
			if len(pages) != tt.wantPages {
				t.Fatalf("got %d pages, want %d", len(pages), tt.wantPages)
			}
			for i, p := range pages {
				if p.Seq != i {
					t.Errorf("page %d has Seq %d", i, p.Seq)
				}
			}
		})
	}
}

func TestPaginationCap(t *testing.T) {
	_, srv := newBank(t, "application/json", map[string]string{
		"/bal":         `{"balance":{"available":"0"}}`,
		"/txns?page=0": `{"last":false,"transactions":[]}`,
		"/txns?page=1": `{"last":false,"transactions":[]}`,
		"/txns?page=2": `{"last":false,"transactions":[]}`,
	})
	cfg := jsonConfig(srv.URL)
	cfg.Transactions.Request.URL = srv.URL + "/txns?page={{.Page}}"
	cfg.Transactions.Pagination = PaginationConfig{Mode: PaginatePageNumber, LastPagePath: "$.last", MaxPages: 2}

	a, err := New("checking", cfg, newClient())
	if err != nil {
		t.Fatal(err)
	}

	var n int
	var walkErr error
	for _, err := range a.WalkPages(context.Background(), window.Window{}) {
		if err != nil {
			walkErr = err
			break
		}
		n++
	}
	if n != 2 || walkErr == nil {
		t.Errorf("got %d pages and error %v, want 2 pages then an error", n, walkErr)
	}
}

func TestUnwindowedFeedWithDetail(t *testing.T) {
	_, srv := newBank(t, "application/json", map[string]string{
		"/bal":            `{"balance":{"available":"5"}}`,
		"/history":        `{"rows":[{"ref":"X9","amount":"-40.00","text":"AMZN MKTP"}]}`,
		"/detail?ref=X9":  `{"posted":"2024-01-09","category":"SHOP","merchant":"AMAZON.COM"}`,
		"/detail?ref=bad": `{"posted":"2024-01-09","category":"???"}`,
	})

	windowed := false
	shopping := "Shopping"
	cfg := Config{
		Balance: BalanceConfig{Request: RequestConfig{URL: srv.URL + "/bal"}, Path: "$.balance.available"},
		Transactions: TransactionsConfig{
			Request:  RequestConfig{URL: srv.URL + "/history"},
			Items:    "$.rows[*]",
			Windowed: &windowed,
		},
		Fields: FieldsConfig{
			Amount:      "$.amount",
			Description: "$.text",
			DetailRef:   "$.ref",
		},
		Identity:   []string{"description", "amount", "$.ref"},
		Categories: map[string]*string{"SHOP": &shopping, "XFER": nil},
		Detail: &DetailConfig{
			Request:     RequestConfig{URL: srv.URL + "/detail?ref={{.Ref}}"},
			Date:        "$.posted",
			Description: "$.merchant",
			Category:    "$.category",
		},
	}

	a, err := New("card", cfg, newClient())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	all, ok := a.(source.Unwindowed)
	if !ok {
		t.Fatal("adapter does not implement Unwindowed")
	}
	fetcher, ok := a.(source.DetailFetcher)
	if !ok {
		t.Fatal("adapter does not implement DetailFetcher")
	}

	recs := collectRecords(t, a, collectPages(t, all.WalkAll(context.Background())))
	want := []source.Record{{
		Identity:    []identity.Field{identity.Text("AMZN MKTP"), identity.Amount(decimal.RequireFromString("-40")), identity.Raw("X9")},
		Amount:      decimal.RequireFromString("-40"),
		Description: "AMZN MKTP",
		Present:     domain.FieldAmount | domain.FieldDescription,
		DetailRef:   "X9",
	}}
	if diff := cmp.Diff(want, recs, recordOpts); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	detail, err := fetcher.FetchDetail(context.Background(), recs[0])
	if err != nil {
		t.Fatalf("FetchDetail() error = %v", err)
	}
	wantDetail := source.Detail{
		Date:        date(2024, 1, 9),
		Description: "AMAZON.COM",
		Category:    bigquery.NullString{StringVal: "Shopping", Valid: true},
		Present:     domain.FieldDate | domain.FieldDescription | domain.FieldCategory,
	}
	if diff := cmp.Diff(wantDetail, detail, recordOpts); diff != "" {
		t.Errorf("detail mismatch (-want +got):\n%s", diff)
	}

	_, err = fetcher.FetchDetail(context.Background(), source.Record{DetailRef: "bad"})
	var mf *domain.MissingField
	if !errors.As(err, &mf) || mf.Field != "category" {
		t.Errorf("FetchDetail() error = %v, want MissingField(category)", err)
	}
}

func TestBalanceErrors(t *testing.T) {
	_, srv := newBank(t, "application/json", map[string]string{
		"/empty": `{"balance":{}}`,
	})

	tests := []struct {
		name  string
		path  string
		check func(error) bool
	}{
		{"missing value", "/empty", func(err error) bool {
			var mf *domain.MissingField
			return errors.As(err, &mf) && mf.Field == "balance"
		}},
		{"server error", "/gone", func(err error) bool {
			var tf *domain.TransportFailure
			return errors.As(err, &tf) && tf.Op == "balance"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := jsonConfig(srv.URL)
			cfg.Balance.Request.URL = srv.URL + tt.path
			a, err := New("checking", cfg, newClient())
			if err != nil {
				t.Fatal(err)
			}
			if _, err := a.Balance(context.Background()); !tt.check(err) {
				t.Errorf("Balance() error = %v", err)
			}
		})
	}
}

func TestMissingItems(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		items   string
		page    source.Page
		missing bool
	}{
		{"json error envelope", FormatJSON, "$.transactions[*]",
			source.Page{Data: []byte(`{"error":"session expired","code":401}`), ContentType: "application/json"}, true},
		{"json empty list", FormatJSON, "$.transactions[*]",
			source.Page{Data: []byte(`{"transactions":[]}`), ContentType: "application/json"}, false},
		{"json null list", FormatJSON, "$.transactions",
			source.Page{Data: []byte(`{"transactions":null}`), ContentType: "application/json"}, true},
		{"xml error document", FormatXML, "Statement/Txn",
			source.Page{Data: []byte(`<Error>session expired</Error>`), ContentType: "application/xml"}, true},
		{"xml empty statement", FormatXML, "Statement/Txn",
			source.Page{Data: []byte(`<Statement></Statement>`), ContentType: "application/xml"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := jsonConfig("http://bank.invalid")
			cfg.Format = tt.format
			cfg.Transactions.Items = tt.items
			if tt.format == FormatXML {
				cfg.Balance.Path = "//Balance"
				cfg.Fields = FieldsConfig{ID: "@ref", Date: "Posted", Amount: "Amount", Description: "Memo"}
			}
			a, err := New("checking", cfg, newClient())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			var n int
			var gotErr error
			for _, err := range a.ProcessPage(context.Background(), tt.page) {
				if err != nil {
					gotErr = err
					break
				}
				n++
			}
			if n != 0 {
				t.Errorf("ProcessPage() yielded %d records, want 0", n)
			}

			var mf *domain.MissingField
			if !tt.missing {
				if gotErr != nil {
					t.Errorf("ProcessPage() error = %v, want nil", gotErr)
				}
				return
			}
			if !errors.As(gotErr, &mf) || mf.Field != "items" || mf.Ref != tt.items || mf.Account != "checking" {
				t.Errorf("ProcessPage() error = %v, want MissingField(items)", gotErr)
			}
		})
	}
}

func TestPaginationStopsOnMissingItems(t *testing.T) {
	_, srv := newBank(t, "application/json", map[string]string{
		"/txns?page=1": `{"transactions":[{"id":"t1","posted":"2024-02-10","amount":"1"}]}`,
		"/txns?page=2": `{"error":"session expired"}`,
	})

	cfg := jsonConfig(srv.URL)
	cfg.Transactions.Request.URL = srv.URL + "/txns?page={{.Page}}"
	cfg.Transactions.Pagination = PaginationConfig{Mode: PaginatePageNumber, FirstPage: 1}
	a, err := New("checking", cfg, newClient())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var gotErr error
	for _, err := range a.WalkPages(context.Background(), window.Window{From: date(2024, 1, 1), To: date(2024, 2, 15)}) {
		if err != nil {
			gotErr = err
			break
		}
	}
	var mf *domain.MissingField
	if !errors.As(gotErr, &mf) || mf.Field != "items" {
		t.Errorf("WalkPages() error = %v, want MissingField(items)", gotErr)
	}
}

func TestIdentityRequiresComponents(t *testing.T) {
	tests := []struct {
		name     string
		identity []string
		field    string
	}{
		{"missing date", []string{"description", "date", "amount"}, "date"},
		{"missing description", []string{"description", "amount"}, "description"},
		{"missing path value", []string{"amount", "$.ref"}, "$.ref"},
		{"blank path value", []string{"amount", "$.memo2"}, "$.memo2"},
	}

	page := source.Page{
		ContentType: "application/json",
		Data: []byte(`{"transactions":[
			{"amount":"-4.00","category":"Dining","memo2":"  "},
			{"amount":"-4.00","category":"Dining","memo2":"  "}
		]}`),
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := jsonConfig("http://bank.invalid")
			cfg.Fields.ID = ""
			cfg.Identity = tt.identity
			a, err := New("checking", cfg, newClient())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			var gotErr error
			for r, err := range a.ProcessPage(context.Background(), page) {
				if err != nil {
					gotErr = err
					break
				}
				t.Errorf("ProcessPage() yielded %+v", r)
			}
			var mf *domain.MissingField
			if !errors.As(gotErr, &mf) || mf.Field != tt.field {
				t.Errorf("ProcessPage() error = %v, want MissingField(%s)", gotErr, tt.field)
			}
		})
	}
}

func TestRequestTemplates(t *testing.T) {
	var got *http.Request
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		io.WriteString(w, `{"balance":{"available":"1"}}`)
	}))
	defer srv.Close()

	cfg := jsonConfig(srv.URL)
	cfg.Balance.Request = RequestConfig{
		Method:      http.MethodPost,
		URL:         srv.URL + "/api/balance",
		Body:        `{"account":"{{.Account}}"}`,
		ContentType: "application/json",
		Headers:     map[string]string{"X-Account": "{{.Account}}"},
	}
	a, err := New("checking", cfg, newClient())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Balance(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got.Method != http.MethodPost || got.Header.Get("X-Account") != "checking" || body != `{"account":"checking"}` {
		t.Errorf("request = %s %s %q", got.Method, got.Header, body)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no balance path", func(c *Config) { c.Balance.Path = "" }},
		{"no amount", func(c *Config) { c.Fields.Amount = "" }},
		{"no identity", func(c *Config) { c.Fields.ID = "" }},
		{"bad format", func(c *Config) { c.Format = "csv" }},
		{"bad pagination", func(c *Config) { c.Transactions.Pagination.Mode = "cursor" }},
		{"token without path", func(c *Config) { c.Transactions.Pagination.Mode = PaginateToken }},
		{"bad path", func(c *Config) { c.Fields.Date = "$.a[" }},
		{"bad template", func(c *Config) { c.Transactions.Request.URL = "http://x/{{.From" }},
		{"detail without url", func(c *Config) { c.Detail = &DetailConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := jsonConfig("http://bank.test")
			tt.mutate(&cfg)
			if _, err := New("checking", cfg, newClient()); err == nil {
				t.Error("New() succeeded, want an error")
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12.50", "12.5", false},
		{"-12.50", "-12.5", false},
		{"+3", "3", false},
		{"$1,234.56", "1234.56", false},
		{" 7 ", "7", false},
		{"(40.00)", "-40", false},
		{"", "", true},
		{"n/a", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNegate(t *testing.T) {
	_, srv := newBank(t, "application/json", map[string]string{
		"/txns": `{"transactions":[{"id":"1","amount":"25.00"}]}`,
	})
	cfg := jsonConfig(srv.URL)
	cfg.Transactions.Request.URL = srv.URL + "/txns"
	cfg.Fields.Negate = true

	a, err := New("card", cfg, newClient())
	if err != nil {
		t.Fatal(err)
	}
	recs := collectRecords(t, a, collectPages(t, a.WalkPages(context.Background(), window.Window{})))
	if len(recs) != 1 || !recs[0].Amount.Equal(decimal.RequireFromString("-25")) {
		t.Errorf("records = %+v", recs)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	content := strings.Join([]string{
		"format: xml",
		"balance:",
		"  request: {url: 'https://bank.example/balance'}",
		"  path: //Balance",
		"transactions:",
		"  request: {url: 'https://bank.example/stmt?from={{.From}}'}",
		"  items: //Txn",
		"  pagination: {mode: page_number, last_page_path: //Last}",
		"fields: {id: '@ref', amount: Amount}",
		"categories:",
		"  GROC: Groceries",
		"  XFER: null",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Format != FormatXML || cfg.WindowLayout != "2006-01-02" || cfg.Transactions.Pagination.MaxPages != defaultMaxPages {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if label := cfg.Categories["GROC"]; label == nil || *label != "Groceries" {
		t.Errorf("GROC = %v", label)
	}
	if label, ok := cfg.Categories["XFER"]; !ok || label != nil {
		t.Errorf("XFER = %v, %v", label, ok)
	}
	if !cfg.windowed() {
		t.Error("windowed() = false by default")
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
