package models

import "time"

// ChangeHistoryItem is one field-level delta extracted from an issue's
// remote changelog. Rows are derived, never authoritative: they are
// fully recomputed from RawJSON on every sync of the issue.
type ChangeHistoryItem struct {
	IssueID           string    `json:"issue_id"`
	IssueKey          string    `json:"issue_key"`
	HistoryID         string    `json:"history_id"`
	AuthorAccountID   string    `json:"author_account_id"`
	AuthorDisplayName string    `json:"author_display_name"`
	Field             string    `json:"field"`
	FieldType         string    `json:"field_type"`
	FromValue         string    `json:"from_value"`
	FromString        string    `json:"from_string"`
	ToValue           string    `json:"to_value"`
	ToString          string    `json:"to_string"`
	ChangedAt         time.Time `json:"changed_at"`
}
