package store

import (
	"context"
	"time"

	"github.com/ysksm/jiramirror/internal/models"
)

// IssueListFilter specifies filters for listing mirrored issues.
type IssueListFilter struct {
	ProjectID string
	Status    string
	Priority  string
	Assignee  string
	IssueType string
	Limit     int
}

// Store defines the persistence interface for the local mirror.
//
// There is exactly one backend (SQLite); the interface exists as a seam
// for in-memory fakes in tests, not for swappable engines.
type Store interface {
	// Projects
	UpsertProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByKey(ctx context.Context, key string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)

	// Issues
	UpsertIssues(ctx context.Context, issues []*models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	GetIssueByKey(ctx context.Context, key string) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	ListIssuesAfter(ctx context.Context, projectID, afterIssueID string, limit int) ([]*models.Issue, error)
	MaxIssueUpdated(ctx context.Context, projectID string) (*time.Time, error)
	CountIssuesByStatus(ctx context.Context, projectID string) (map[string]int, error)

	// Change history (derived; delete-then-insert per issue)
	DeleteIssueHistory(ctx context.Context, issueID string) error
	InsertHistoryItems(ctx context.Context, items []models.ChangeHistoryItem) error
	ListIssueHistory(ctx context.Context, issueID string) ([]*models.ChangeHistoryItem, error)

	// Snapshots (derived; delete-then-regenerate per issue)
	DeleteIssueSnapshots(ctx context.Context, issueID string) error
	InsertSnapshots(ctx context.Context, snaps []*models.IssueSnapshot) error
	ListIssueSnapshots(ctx context.Context, issueID string) ([]*models.IssueSnapshot, error)
	GetSnapshotAt(ctx context.Context, issueKey string, at time.Time) (*models.IssueSnapshot, error)

	// Field definitions
	UpsertFields(ctx context.Context, fields []*models.Field) error
	ListFields(ctx context.Context) ([]*models.Field, error)

	// Project metadata categories
	UpsertMetadata(ctx context.Context, items []models.MetadataItem) error
	ListMetadata(ctx context.Context, projectID string, kind models.MetadataKind) ([]models.MetadataItem, error)

	// Sync audit trail
	CreateSyncHistory(ctx context.Context, h *models.SyncHistory) error
	FinishSyncHistory(ctx context.Context, id string, status models.SyncStatus, itemsSynced int, errorMessage string) error
	FindLatestSyncHistory(ctx context.Context, projectID string) (*models.SyncHistory, error)
	ListSyncHistory(ctx context.Context, projectID string, limit int) ([]*models.SyncHistory, error)
	SweepRunningSyncs(ctx context.Context) (int64, error)

	// Flattened issue view (dynamic columns)
	IssueViewColumns(ctx context.Context) ([]string, error)
	AddIssueViewColumn(ctx context.Context, name, sqlType string) error
	UpsertIssueViewRow(ctx context.Context, issueID, issueKey, projectID string, values map[string]any) error

	// Read-only query access for the SQL gateway
	Query(ctx context.Context, query string) (columns []string, rows [][]any, err error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Checkpoint(ctx context.Context) error
	Close() error
}
