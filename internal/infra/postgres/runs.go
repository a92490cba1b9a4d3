package postgres

import (
	"context"
	"fmt"

	"github.com/dvloznov/bank-download/internal/domain"
)

// RunLog records ingestion runs in the ingestion_runs table.
type RunLog struct {
	db DB
}

// NewRunLog creates a RunLog over db.
func NewRunLog(db DB) *RunLog {
	return &RunLog{db: db}
}

// StartRun inserts the run with status RUNNING.
func (l *RunLog) StartRun(ctx context.Context, run domain.IngestionRun) error {
	query := `
		INSERT INTO ingestion_runs (run_id, account_name, started_at, status)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := l.db.Exec(ctx, query, run.RunID, run.AccountName, run.StartedAt, domain.RunStatusRunning); err != nil {
		return fmt.Errorf("StartRun: exec: %w", err)
	}
	return nil
}

// FinishRun stores the terminal status, count and error of the run.
func (l *RunLog) FinishRun(ctx context.Context, run domain.IngestionRun) error {
	query := `
		UPDATE ingestion_runs
		SET finished_at = $2, status = $3, new_count = $4, error = NULLIF($5, '')
		WHERE run_id = $1
	`
	tag, err := l.db.Exec(ctx, query, run.RunID, run.FinishedAt, run.Status, run.NewCount, run.Error)
	if err != nil {
		return fmt.Errorf("FinishRun: exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("FinishRun: run %s not found", run.RunID)
	}
	return nil
}
