package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/dvloznov/bank-download/internal/identity"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/dvloznov/bank-download/internal/source"
	"github.com/dvloznov/bank-download/internal/store"
)

// reconcile resolves one record against the store. dup is true when the
// record's key was already handled earlier in this run (sources repeat
// records that fall on the date shared by two adjacent windows).
func (r *Run) reconcile(ctx context.Context, rec source.Record) (out domain.IngestionOutcome, dup bool, err error) {
	c, err := r.normalize(rec)
	if err != nil {
		return out, false, err
	}

	if _, ok := r.seen[c.BankTxnID]; ok {
		return out, true, nil
	}
	r.seen[c.BankTxnID] = struct{}{}

	st := r.engine.store
	stored, err := st.Load(ctx, c.AccountName, c.BankTxnID)
	switch {
	case err == nil:
		matched, err := st.Match(ctx, stored, c)
		if err != nil {
			return out, false, err
		}
		r.stats.Existing++
		r.engine.metrics.RecordOutcome(r.AccountName, false)
		return domain.IngestionOutcome{Transaction: *matched, IsNew: false}, false, nil

	case !errors.Is(err, store.ErrNotFound):
		return out, false, err
	}

	c, err = r.complete(ctx, rec, c)
	if err != nil {
		return out, false, err
	}

	txn := c.Transaction()
	if err := st.Save(ctx, txn); err != nil {
		return out, false, err
	}

	r.stats.New++
	r.engine.metrics.RecordOutcome(r.AccountName, true)

	log := logger.FromContext(ctx)
	log.Info().
		Str("bank_txn_id", txn.BankTxnID).
		Str("date", txn.Date.String()).
		Str("amount", txn.Amount.String()).
		Msg("Saved new transaction")

	return domain.IngestionOutcome{Transaction: txn, IsNew: true}, false, nil
}

// normalize builds a candidate from a raw record and resolves its id.
func (r *Run) normalize(rec source.Record) (domain.Candidate, error) {
	c := domain.Candidate{
		AccountName: r.AccountName,
		Date:        rec.Date,
		Amount:      rec.Amount,
		Description: rec.Description,
		Category:    rec.Category,
		Present:     rec.Present,
	}

	switch {
	case rec.NativeID != "":
		c.BankTxnID = rec.NativeID
	case len(rec.Identity) > 0:
		c.BankTxnID = identity.Derive(rec.Identity...)
	default:
		return c, &domain.MissingField{Account: r.AccountName, Field: "bank_txn_id", Ref: rec.DetailRef}
	}

	if !c.Present.Has(domain.FieldAmount) {
		return c, &domain.MissingField{Account: r.AccountName, Field: "amount", Ref: c.BankTxnID}
	}

	return c, nil
}

// complete fills the fields a new transaction needs from the source's detail
// endpoint, when the list page did not carry them. A missing category is
// allowed and stored as NULL; a missing date or description is not.
func (r *Run) complete(ctx context.Context, rec source.Record, c domain.Candidate) (domain.Candidate, error) {
	if c.Missing() != 0 {
		if df, ok := r.adapter.(source.DetailFetcher); ok {
			log := logger.FromContext(ctx)
			log.Debug().
				Str("bank_txn_id", c.BankTxnID).
				Stringer("missing", c.Missing()).
				Msg("Fetching transaction detail")

			d, err := df.FetchDetail(ctx, rec)
			if err != nil {
				return c, adapterError(r.AccountName, "fetch_detail", err)
			}
			if c, err = mergeDetail(c, d); err != nil {
				return c, err
			}
		}
	}

	for _, f := range []domain.Fields{domain.FieldDate, domain.FieldDescription} {
		if !c.Present.Has(f) {
			return c, &domain.MissingField{Account: r.AccountName, Field: f.String(), Ref: c.BankTxnID}
		}
	}

	return c, nil
}

// mergeDetail merges detail fields into the candidate. Amount and date seen
// on both the list and the detail must agree; description and category from
// the detail take precedence.
func mergeDetail(c domain.Candidate, d source.Detail) (domain.Candidate, error) {
	var diffs []domain.FieldDiff

	if d.Present.Has(domain.FieldAmount) {
		if c.Present.Has(domain.FieldAmount) && !c.Amount.Equal(d.Amount) {
			diffs = append(diffs, domain.FieldDiff{Field: "amount", Expected: c.Amount.String(), Actual: d.Amount.String()})
		}
		c.Amount = d.Amount
	}
	if d.Present.Has(domain.FieldDate) {
		if c.Present.Has(domain.FieldDate) && c.Date != d.Date {
			diffs = append(diffs, domain.FieldDiff{Field: "date", Expected: c.Date.String(), Actual: d.Date.String()})
		}
		c.Date = d.Date
	}
	if len(diffs) > 0 {
		return c, &domain.ConsistencyViolation{Account: c.AccountName, BankTxnID: c.BankTxnID, Diffs: diffs}
	}

	if d.Present.Has(domain.FieldDescription) {
		c.Description = d.Description
	}
	if d.Present.Has(domain.FieldCategory) {
		c.Category = d.Category
	}
	c.Present |= d.Present

	return c, nil
}

// adapterError classifies an error returned by a source. Errors that already
// belong to the taxonomy pass through; anything else is a transport failure.
func adapterError(account, op string, err error) error {
	var (
		mf *domain.MissingField
		cv *domain.ConsistencyViolation
		tf *domain.TransportFailure
	)
	switch {
	case errors.As(err, &mf):
		if mf.Account == "" {
			mf.Account = account
		}
		return err
	case errors.As(err, &cv), errors.As(err, &tf):
		return err
	}
	return &domain.TransportFailure{Op: op, Err: fmt.Errorf("%s: %w", account, err)}
}
