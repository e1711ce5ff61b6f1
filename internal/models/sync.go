package models

import "time"

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncType distinguishes full resyncs from watermark-resumed ones.
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// SyncHistory is the audit record for one sync run. Status transitions
// running -> {completed, failed} exactly once and is never revisited.
type SyncHistory struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	SyncType     SyncType   `json:"sync_type"`
	Status       SyncStatus `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ItemsSynced  int        `json:"items_synced"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// SyncResult is the structured outcome of a sync run. Failures are
// captured here as data rather than propagated as errors, so callers
// always get a result they can inspect.
type SyncResult struct {
	ProjectKey         string     `json:"project_key"`
	IssuesSynced       int        `json:"issues_synced"`
	HistoryItemsSynced int        `json:"history_items_synced"`
	Success            bool       `json:"success"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	LastIssueUpdatedAt *time.Time `json:"last_issue_updated_at,omitempty"`
}
