package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/bank-download/internal/domain"
)

const runsTable = "ingestion_runs"

// RunLog records ingestion runs in the ingestion_runs table.
type RunLog struct {
	client *Client
}

// NewRunLog creates a RunLog using the shared client.
func NewRunLog(client *Client) *RunLog {
	return &RunLog{client: client}
}

// StartRun inserts a new row with status=RUNNING.
func (l *RunLog) StartRun(ctx context.Context, run domain.IngestionRun) error {
	sql := fmt.Sprintf(`
		INSERT %s (run_id, account_name, started_ts, status)
		VALUES (@run_id, @account_name, @started_ts, @status)
	`, l.client.table(runsTable))

	row := toRunRow(run)
	params := []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "account_name", Value: row.AccountName},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "status", Value: domain.RunStatusRunning},
	}

	_, err := l.client.runDML(ctx, "StartRun", sql, params)
	return err
}

// FinishRun sets status, finished_ts, new_count and error.
func (l *RunLog) FinishRun(ctx context.Context, run domain.IngestionRun) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    new_count = @new_count,
		    error = @error
		WHERE run_id = @run_id
	`, l.client.table(runsTable))

	row := toRunRow(run)
	params := []bigquery.QueryParameter{
		{Name: "status", Value: row.Status},
		{Name: "finished_ts", Value: row.FinishedTS},
		{Name: "new_count", Value: row.NewCount},
		{Name: "error", Value: row.Error},
		{Name: "run_id", Value: row.RunID},
	}

	n, err := l.client.runDML(ctx, "FinishRun", sql, params)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("FinishRun: run %s not found", run.RunID)
	}
	return nil
}
