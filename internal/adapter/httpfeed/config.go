package httpfeed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Formats of source responses.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
)

// Pagination modes.
const (
	PaginateSingle     = "single"
	PaginatePageNumber = "page_number"
	PaginateToken      = "token"
)

const defaultMaxPages = 500

// Config describes one source: where to send requests and where in the
// responses each value lives. JSON paths use JSONPath syntax ($.a.b[*]); XML
// paths use etree paths (//Txn, ./Amount) with an optional trailing /@attr.
type Config struct {
	Format       string `yaml:"format"`
	WindowLayout string `yaml:"window_layout"` // Go layout for {{.From}} and {{.To}}

	Balance      BalanceConfig      `yaml:"balance"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Fields       FieldsConfig       `yaml:"fields"`

	// Identity lists the values hashed into a synthetic id when a record has
	// no native id: "description", "date", "amount", or a path for any other
	// value (a running balance, a timestamp).
	Identity []string `yaml:"identity"`

	// Categories maps source category codes to labels. A null or empty label
	// means uncategorized. When empty, the raw value is the label.
	Categories map[string]*string `yaml:"categories"`

	Detail *DetailConfig `yaml:"detail"`
}

// RequestConfig is a request template. URL, Body and header values are
// text/template strings over .Account .From .To .Page .Token and .Ref.
type RequestConfig struct {
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`
	Body        string            `yaml:"body"`
	ContentType string            `yaml:"content_type"`
	Headers     map[string]string `yaml:"headers"`
}

// BalanceConfig locates the current balance.
type BalanceConfig struct {
	Request RequestConfig `yaml:"request"`
	Path    string        `yaml:"path"`
}

// TransactionsConfig describes the transaction list.
type TransactionsConfig struct {
	Request RequestConfig `yaml:"request"`
	Items   string        `yaml:"items"` // path selecting one node per transaction

	// Windowed is false for sources that page through their whole history
	// regardless of dates.
	Windowed   *bool            `yaml:"windowed"`
	Pagination PaginationConfig `yaml:"pagination"`
}

// PaginationConfig selects how the next page is requested.
type PaginationConfig struct {
	Mode          string `yaml:"mode"`
	FirstPage     int    `yaml:"first_page"`
	LastPagePath  string `yaml:"last_page_path"`  // page_number: true on the last page
	NextTokenPath string `yaml:"next_token_path"` // token: empty on the last page
	MaxPages      int    `yaml:"max_pages"`
}

// FieldsConfig holds the item-relative paths of each value.
type FieldsConfig struct {
	ID          string `yaml:"id"`
	Date        string `yaml:"date"`
	DateLayout  string `yaml:"date_layout"`
	Amount      string `yaml:"amount"`
	Debit       string `yaml:"debit"`
	Credit      string `yaml:"credit"`
	Negate      bool   `yaml:"negate"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	DetailRef   string `yaml:"detail_ref"`
}

// DetailConfig describes the per-transaction detail request, used for new
// records whose list entry lacks a field.
type DetailConfig struct {
	Request     RequestConfig `yaml:"request"`
	Date        string        `yaml:"date"`
	Amount      string        `yaml:"amount"`
	Description string        `yaml:"description"`
	Category    string        `yaml:"category"`
}

// LoadConfig reads a YAML source description.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadConfig: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadConfig: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("LoadConfig: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate fills defaults and checks required settings.
func (c *Config) Validate() error {
	if c.Format == "" {
		c.Format = FormatJSON
	}
	if c.Format != FormatJSON && c.Format != FormatXML {
		return fmt.Errorf("unknown format %q", c.Format)
	}
	if c.WindowLayout == "" {
		c.WindowLayout = "2006-01-02"
	}
	if c.Fields.DateLayout == "" {
		c.Fields.DateLayout = "2006-01-02"
	}

	if c.Balance.Request.URL == "" || c.Balance.Path == "" {
		return fmt.Errorf("balance.request.url and balance.path are required")
	}
	if c.Transactions.Request.URL == "" || c.Transactions.Items == "" {
		return fmt.Errorf("transactions.request.url and transactions.items are required")
	}

	p := &c.Transactions.Pagination
	switch p.Mode {
	case "":
		p.Mode = PaginateSingle
	case PaginateSingle, PaginatePageNumber:
	case PaginateToken:
		if p.NextTokenPath == "" {
			return fmt.Errorf("pagination.next_token_path is required in token mode")
		}
	default:
		return fmt.Errorf("unknown pagination mode %q", p.Mode)
	}
	if p.MaxPages <= 0 {
		p.MaxPages = defaultMaxPages
	}

	if c.Fields.Amount == "" && c.Fields.Debit == "" && c.Fields.Credit == "" {
		return fmt.Errorf("fields.amount or fields.debit/credit is required")
	}
	if c.Fields.ID == "" && len(c.Identity) == 0 {
		return fmt.Errorf("fields.id or identity is required")
	}
	if c.Detail != nil && c.Detail.Request.URL == "" {
		return fmt.Errorf("detail.request.url is required")
	}
	return nil
}

// windowed reports whether the list request is scoped by date window.
func (c *Config) windowed() bool {
	return c.Transactions.Windowed == nil || *c.Transactions.Windowed
}
