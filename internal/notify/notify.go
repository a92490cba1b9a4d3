// Package notify emails a digest of the transactions found by a sync.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
)

// Config holds SMTP settings. Notifications are off when Host or To is empty.
type Config struct {
	Host     string   `yaml:"host"`
	Port     string   `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Subject  string   `yaml:"subject"`

	// Always sends a digest even when nothing new was found.
	Always bool `yaml:"always"`
}

// ApplyDefaults sets default values for notify config.
func (c *Config) ApplyDefaults() {
	if c.Port == "" {
		c.Port = "587"
	}
	if c.Subject == "" {
		c.Subject = "Bank sync"
	}
}

// Enabled reports whether a digest can be sent.
func (c Config) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

// AccountDigest is what one account sync produced.
type AccountDigest struct {
	Account string
	Balance decimal.Decimal
	New     []domain.Transaction
	Err     error
}

// Digest covers one batch of account syncs.
type Digest []AccountDigest

// NewCount returns the number of new transactions across accounts.
func (d Digest) NewCount() int {
	n := 0
	for _, a := range d {
		n += len(a.New)
	}
	return n
}

// Failed returns the number of accounts that ended with an error.
func (d Digest) Failed() int {
	n := 0
	for _, a := range d {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// Text renders the digest as plain text, one block per account.
func (d Digest) Text() string {
	var b strings.Builder
	for i, a := range d {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n", a.Account)
		if a.Err != nil {
			fmt.Fprintf(&b, "  FAILED (%s): %v\n", domain.Kind(a.Err), a.Err)
			if len(a.New) == 0 {
				continue
			}
		} else {
			fmt.Fprintf(&b, "  balance %s\n", a.Balance)
		}
		if len(a.New) == 0 {
			b.WriteString("  no new transactions\n")
			continue
		}
		for _, t := range a.New {
			fmt.Fprintf(&b, "  %s %12s  %s\n", t.Date, t.Amount, t.Description)
		}
	}
	return b.String()
}

// sendFunc delivers a prepared message.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Mailer sends digests over SMTP.
type Mailer struct {
	cfg  Config
	send sendFunc
}

// NewMailer creates a Mailer for cfg.
func NewMailer(cfg Config) *Mailer {
	cfg.ApplyDefaults()
	return &Mailer{
		cfg: cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// Message builds the email for d.
func (m *Mailer) Message(d Digest) *email.Email {
	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = m.cfg.To

	subject := fmt.Sprintf("%s: %d new", m.cfg.Subject, d.NewCount())
	if n := d.Failed(); n > 0 {
		subject += fmt.Sprintf(", %d failed", n)
	}
	e.Subject = subject
	e.Text = []byte(d.Text())
	return e
}

// Send emails d. It does nothing when the mailer is not configured, or when
// d has no new transactions and no failures unless Always is set.
func (m *Mailer) Send(ctx context.Context, d Digest) error {
	log := logger.FromContext(ctx)

	if m == nil || !m.cfg.Enabled() {
		return nil
	}
	if !m.cfg.Always && d.NewCount() == 0 && d.Failed() == 0 {
		log.Debug().Msg("Nothing to report, digest skipped")
		return nil
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	e := m.Message(d)
	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)
	if err := m.send(e, addr, auth); err != nil {
		return fmt.Errorf("Send: sending digest to %s: %w", strings.Join(m.cfg.To, ","), err)
	}

	log.Info().
		Int("new", d.NewCount()).
		Int("failed", d.Failed()).
		Strs("to", m.cfg.To).
		Msg("Sent digest")
	return nil
}
