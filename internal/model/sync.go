package model

import (
	"time"
)

// SyncRecord is a CRM contact flagged for sync, keyed by its external id.
type SyncRecord struct {
	ExternalID string
	FirstName  string
	LastName   string
	Email      string
	Phone      string
}

type SyncSummary struct {
	RunID     string `json:"runId"`
	Fetched   int    `json:"fetched"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Skipped   int    `json:"skipped"`
}

type SyncRun struct {
	ID          string        `db:"id" json:"id"`
	Trigger     SyncTrigger   `db:"trigger_source" json:"trigger"`
	TriggeredBy *string       `db:"triggered_by" json:"triggeredBy,omitempty"`
	Status      SyncRunStatus `db:"status" json:"status"`
	Fetched     int           `db:"fetched" json:"fetched"`
	Inserted    int           `db:"inserted" json:"inserted"`
	Updated     int           `db:"updated" json:"updated"`
	Unchanged   int           `db:"unchanged" json:"unchanged"`
	Skipped     int           `db:"skipped" json:"skipped"`
	Error       *string       `db:"error" json:"error,omitempty"`
	StartedAt   time.Time     `db:"started_at" json:"startedAt"`
	FinishedAt  time.Time     `db:"finished_at" json:"finishedAt"`
}

type CreateSyncRunParams struct {
	ID          string
	Trigger     SyncTrigger
	TriggeredBy *string
	Status      SyncRunStatus
	Summary     SyncSummary
	Error       *string
	StartedAt   time.Time
	FinishedAt  time.Time
}
