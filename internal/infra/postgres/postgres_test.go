package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

type mockDB struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.ExecFunc(ctx, sql, args...)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.QueryRowFunc(ctx, sql, args...)
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type mockRow struct {
	ScanFunc func(dest ...any) error
}

func (r mockRow) Scan(dest ...any) error { return r.ScanFunc(dest...) }

func TestLoadTransaction(t *testing.T) {
	category := "Groceries"
	db := &mockDB{QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
		if args[0] != "checking" || args[1] != "abc" {
			t.Errorf("unexpected args %v", args)
		}
		return mockRow{ScanFunc: func(dest ...any) error {
			*dest[0].(*string) = "checking"
			*dest[1].(*string) = "abc"
			*dest[2].(*string) = "2024-01-10"
			*dest[3].(**string) = &category
			*dest[4].(*string) = "-12.50"
			*dest[5].(*string) = "COFFEE SHOP"
			return nil
		}}
	}}

	got, err := NewTransactionStore(db).LoadTransaction(context.Background(), "checking", "abc")
	if err != nil {
		t.Fatalf("LoadTransaction() error = %v", err)
	}

	want := &domain.Transaction{
		AccountName: "checking",
		BankTxnID:   "abc",
		Date:        civil.Date{Year: 2024, Month: time.January, Day: 10},
		Amount:      decimal.RequireFromString("-12.50"),
		Description: "COFFEE SHOP",
		Category:    bigquery.NullString{StringVal: "Groceries", Valid: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadTransaction() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTransactionErrors(t *testing.T) {
	tests := []struct {
		name     string
		scan     func(dest ...any) error
		notFound bool
	}{
		{"no rows", func(dest ...any) error { return pgx.ErrNoRows }, true},
		{"query error", func(dest ...any) error { return errors.New("conn closed") }, false},
		{"bad amount", func(dest ...any) error {
			*dest[2].(*string) = "2024-01-10"
			*dest[4].(*string) = "twelve"
			return nil
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockDB{QueryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
				return mockRow{ScanFunc: tt.scan}
			}}
			_, err := NewTransactionStore(db).LoadTransaction(context.Background(), "a", "1")
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.Is(err, store.ErrNotFound) != tt.notFound {
				t.Errorf("errors.Is(ErrNotFound) = %v for %v", !tt.notFound, err)
			}
		})
	}
}

func TestInsertTransaction(t *testing.T) {
	txn := domain.Transaction{
		AccountName: "checking",
		BankTxnID:   "abc",
		Date:        civil.Date{Year: 2024, Month: time.January, Day: 10},
		Amount:      decimal.RequireFromString("-12.50"),
		Description: "COFFEE SHOP",
	}

	t.Run("writes text columns and NULL category", func(t *testing.T) {
		var got []any
		db := &mockDB{ExecFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			if strings.Contains(strings.ToUpper(sql), "ON CONFLICT") {
				t.Error("insert must not coalesce conflicts")
			}
			got = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		}}
		if err := NewTransactionStore(db).InsertTransaction(context.Background(), txn); err != nil {
			t.Fatal(err)
		}
		if got[2] != "2024-01-10" || got[4] != "-12.5" || got[3].(*string) != nil {
			t.Errorf("args = %v", got)
		}
	})

	t.Run("unique violation", func(t *testing.T) {
		db := &mockDB{ExecFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505", ConstraintName: "transactions_key"}
		}}
		err := NewTransactionStore(db).InsertTransaction(context.Background(), txn)
		if !errors.Is(err, domain.ErrDuplicateKey) {
			t.Fatalf("error = %v, want ErrDuplicateKey", err)
		}

		var dk *domain.DuplicateKeyOnSave
		if err := store.New(NewTransactionStore(db)).Save(context.Background(), txn); !errors.As(err, &dk) {
			t.Errorf("Store.Save() error = %v, want DuplicateKeyOnSave", err)
		}
	})

	t.Run("other errors", func(t *testing.T) {
		db := &mockDB{ExecFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "42P01"}
		}}
		err := NewTransactionStore(db).InsertTransaction(context.Background(), txn)
		if err == nil || errors.Is(err, domain.ErrDuplicateKey) {
			t.Errorf("error = %v", err)
		}
	})
}

func TestUpdateDescription(t *testing.T) {
	tests := []struct {
		name    string
		tag     string
		wantErr error
	}{
		{"updated", "UPDATE 1", nil},
		{"missing row", "UPDATE 0", store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &mockDB{ExecFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
				if args[2] != "AMAZON.COM" {
					t.Errorf("args = %v", args)
				}
				return pgconn.NewCommandTag(tt.tag), nil
			}}
			err := NewTransactionStore(db).UpdateDescription(context.Background(), "checking", "txn-42", "AMAZON.COM")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UpdateDescription() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunLog(t *testing.T) {
	var statements []string
	var finishArgs []any
	db := &mockDB{ExecFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		statements = append(statements, strings.Fields(sql)[0])
		if strings.HasPrefix(strings.TrimSpace(sql), "UPDATE") {
			finishArgs = args
			return pgconn.NewCommandTag("UPDATE 1"), nil
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}}

	run := domain.IngestionRun{RunID: "r1", AccountName: "checking", StartedAt: time.Now()}
	l := NewRunLog(db)
	if err := l.StartRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	run.Finish(time.Now(), 2, errors.New("boom"))
	if err := l.FinishRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"INSERT", "UPDATE"}, statements); diff != "" {
		t.Errorf("statements (-want +got):\n%s", diff)
	}
	if finishArgs[2] != domain.RunStatusFailed || finishArgs[3] != 2 || finishArgs[4] != "boom" {
		t.Errorf("finish args = %v", finishArgs)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[0].SQL, "UNIQUE (account_name, bank_txn_id)") {
		t.Errorf("first migration must create the unique key:\n%s", migrations[0].SQL)
	}
}
