package models

import "time"

// Issue represents a mirrored Jira issue.
//
// Identity is the remote-assigned ID; Key is a human-facing alias that
// can be renumbered upstream, so all local references track ID. RawJSON
// holds the full remote payload including the embedded changelog and is
// the source of truth for derived history and snapshots.
type Issue struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Key         string     `json:"key"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Assignee    string     `json:"assignee"`
	Reporter    string     `json:"reporter"`
	IssueType   string     `json:"issue_type"`
	Resolution  string     `json:"resolution"`
	Labels      []string   `json:"labels"`
	Components  []string   `json:"components"`
	FixVersions []string   `json:"fix_versions"`
	Sprint      string     `json:"sprint"`
	ParentKey   string     `json:"parent_key"`
	CreatedDate time.Time  `json:"created_date"`
	UpdatedDate time.Time  `json:"updated_date"`
	RawJSON     string     `json:"-"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}
