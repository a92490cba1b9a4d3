package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/bank-download/internal/domain"
)

// RunRow is one row of the ingestion_runs table.
type RunRow struct {
	RunID       string `bigquery:"run_id"`       // REQUIRED
	AccountName string `bigquery:"account_name"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status   string              `bigquery:"status"`    // REQUIRED
	NewCount bigquery.NullInt64  `bigquery:"new_count"` // NULLABLE
	Error    bigquery.NullString `bigquery:"error"`     // NULLABLE
}

func toRunRow(run domain.IngestionRun) RunRow {
	row := RunRow{
		RunID:       run.RunID,
		AccountName: run.AccountName,
		StartedTS:   run.StartedAt,
		Status:      run.Status,
	}
	if !run.FinishedAt.IsZero() {
		row.FinishedTS = bigquery.NullTimestamp{Timestamp: run.FinishedAt, Valid: true}
		row.NewCount = bigquery.NullInt64{Int64: int64(run.NewCount), Valid: true}
	}
	if run.Error != "" {
		row.Error = bigquery.NullString{StringVal: run.Error, Valid: true}
	}
	return row
}
