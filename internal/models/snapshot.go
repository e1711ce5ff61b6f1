package models

import "time"

// IssueSnapshot is a reconstructed point-in-time view of an issue,
// valid over the closed-open interval [ValidFrom, ValidTo). Version
// numbers start at 1; ValidTo is nil exactly for the current version,
// which alone may carry RawData.
type IssueSnapshot struct {
	IssueID     string     `json:"issue_id"`
	IssueKey    string     `json:"issue_key"`
	ProjectID   string     `json:"project_id"`
	Version     int        `json:"version"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Assignee    string     `json:"assignee"`
	IssueType   string     `json:"issue_type"`
	Resolution  string     `json:"resolution"`
	RawData     string     `json:"-"`
	UpdatedDate *time.Time `json:"updated_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
