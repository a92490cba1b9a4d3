// Package bigquery stores transactions and ingestion runs in a BigQuery
// dataset. Inserts go through DML so that uniqueness of
// (account_name, bank_txn_id) can be checked in the same statement.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// Config names the dataset holding the tables.
type Config struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
}

// Client wraps a BigQuery client bound to one dataset. It is shared by the
// transaction store, the run log and the migrator.
type Client struct {
	bq      *bigquery.Client
	project string
	dataset string
}

// NewClient creates a Client for cfg.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Project == "" || cfg.Dataset == "" {
		return nil, fmt.Errorf("NewClient: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating client: %w", err)
	}
	return &Client{bq: client, project: cfg.Project, dataset: cfg.Dataset}, nil
}

// Close closes the BigQuery client connection.
func (c *Client) Close() error {
	if c.bq != nil {
		return c.bq.Close()
	}
	return nil
}

// table returns the fully qualified, backquoted table name.
func (c *Client) table(name string) string {
	return tableName(c.project, c.dataset, name)
}

func tableName(project, dataset, table string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table)
}

// runDML runs a DML or DDL statement and returns the number of rows it changed.
func (c *Client) runDML(ctx context.Context, op, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := c.bq.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}

	return affectedRows(status), nil
}

func affectedRows(status *bigquery.JobStatus) int64 {
	if status == nil || status.Statistics == nil {
		return 0
	}
	if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return qs.NumDMLAffectedRows
	}
	return 0
}
