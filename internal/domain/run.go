package domain

import "time"

// Run statuses as stored in ingestion_runs.status.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// maxRunErrorLen bounds ingestion_runs.error.
const maxRunErrorLen = 2000

// IngestionRun is the audit record of one account's ingestion.
type IngestionRun struct {
	RunID       string
	AccountName string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Status      string
	NewCount    int
	Error       string
}

// Finish sets the terminal status of the run from its result.
func (r *IngestionRun) Finish(at time.Time, newCount int, err error) {
	r.FinishedAt = at
	r.NewCount = newCount
	r.Status = RunStatusSuccess
	r.Error = ""
	if err != nil {
		r.Status = RunStatusFailed
		r.Error = err.Error()
		if len(r.Error) > maxRunErrorLen {
			r.Error = r.Error[:maxRunErrorLen]
		}
	}
}
