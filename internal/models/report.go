package models

// ReportData aggregates per-project breakdowns for report rendering.
type ReportData struct {
	Project      *Project             `json:"project"`
	TotalIssues  int                  `json:"total_issues"`
	ByStatus     map[string]int       `json:"by_status"`
	ByPriority   map[string]int       `json:"by_priority"`
	ByAssignee   map[string]int       `json:"by_assignee"`
	ByType       map[string]int       `json:"by_type"`
	ByComponent  map[string]int       `json:"by_component"`
	Issues       []*Issue             `json:"issues"`
	IssueHistory []*ChangeHistoryItem `json:"issue_history,omitempty"`
}
