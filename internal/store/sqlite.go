package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ysksm/jiramirror/internal/apperr"
	"github.com/ysksm/jiramirror/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// so concurrent callers block instead of hitting "database is locked".
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// marshalList encodes a string slice as a JSON array column value.
func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	var items []string
	_ = json.Unmarshal([]byte(data), &items)
	return items
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Checkpoint flushes the write-ahead log to the main database file.
// Invoked before process exit so a freshly synced mirror survives a
// copy of the .db file alone.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return apperr.Wrap(apperr.Repository, err, "wal checkpoint")
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) UpsertProject(ctx context.Context, p *models.Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, key, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			key=excluded.key, name=excluded.name, description=excluded.description,
			updated_at=excluded.updated_at`,
		p.ID, p.Key, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "upsert project %s", p.Key)
	}
	return nil
}

const projectColumns = "id, key, name, description, created_at, updated_at"

func (s *SQLiteStore) scanProject(row *sql.Row, label string) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "project not found: %s", label)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "get project %s", label)
	}
	return p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	return s.scanProject(row, id)
}

func (s *SQLiteStore) GetProjectByKey(ctx context.Context, key string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE key = ?", key)
	return s.scanProject(row, key)
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY key")
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "list projects")
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan project")
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// --- Issues ---

const issueColumns = `id, project_id, key, summary, description, status, priority, assignee, reporter,
	issue_type, resolution, labels, components, fix_versions, sprint, parent_key,
	created_date, updated_date, raw_json, synced_at`

// UpsertIssues batch-upserts issues inside a single transaction. Callers
// chunk the input to bound transaction size; the chunking is a memory
// bound, not a correctness requirement.
func (s *SQLiteStore) UpsertIssues(ctx context.Context, issues []*models.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id=excluded.project_id, key=excluded.key, summary=excluded.summary,
			description=excluded.description, status=excluded.status, priority=excluded.priority,
			assignee=excluded.assignee, reporter=excluded.reporter, issue_type=excluded.issue_type,
			resolution=excluded.resolution, labels=excluded.labels, components=excluded.components,
			fix_versions=excluded.fix_versions, sprint=excluded.sprint, parent_key=excluded.parent_key,
			created_date=excluded.created_date, updated_date=excluded.updated_date,
			raw_json=excluded.raw_json, synced_at=excluded.synced_at`)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "prepare issue upsert")
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, issue := range issues {
		if issue.SyncedAt == nil {
			issue.SyncedAt = &now
		}
		_, err := stmt.ExecContext(ctx,
			issue.ID, issue.ProjectID, issue.Key, issue.Summary, issue.Description,
			issue.Status, issue.Priority, issue.Assignee, issue.Reporter,
			issue.IssueType, issue.Resolution,
			marshalList(issue.Labels), marshalList(issue.Components), marshalList(issue.FixVersions),
			issue.Sprint, issue.ParentKey,
			issue.CreatedDate, issue.UpdatedDate, issue.RawJSON, issue.SyncedAt,
		)
		if err != nil {
			return apperr.Wrap(apperr.Repository, err, "upsert issue %s", issue.Key)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Repository, err, "commit issue upsert")
	}
	return nil
}

type issueScanner interface {
	Scan(dest ...any) error
}

func scanIssue(sc issueScanner) (*models.Issue, error) {
	issue := &models.Issue{}
	var labels, components, fixVersions string
	var createdDate, updatedDate, syncedAt sql.NullTime

	err := sc.Scan(&issue.ID, &issue.ProjectID, &issue.Key, &issue.Summary, &issue.Description,
		&issue.Status, &issue.Priority, &issue.Assignee, &issue.Reporter,
		&issue.IssueType, &issue.Resolution,
		&labels, &components, &fixVersions,
		&issue.Sprint, &issue.ParentKey,
		&createdDate, &updatedDate, &issue.RawJSON, &syncedAt)
	if err != nil {
		return nil, err
	}

	issue.Labels = unmarshalList(labels)
	issue.Components = unmarshalList(components)
	issue.FixVersions = unmarshalList(fixVersions)
	if createdDate.Valid {
		issue.CreatedDate = createdDate.Time
	}
	if updatedDate.Valid {
		issue.UpdatedDate = updatedDate.Time
	}
	if syncedAt.Valid {
		issue.SyncedAt = &syncedAt.Time
	}
	return issue, nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+issueColumns+" FROM issues WHERE id = ?", id)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "issue not found: %s", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "get issue %s", id)
	}
	return issue, nil
}

func (s *SQLiteStore) GetIssueByKey(ctx context.Context, key string) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+issueColumns+" FROM issues WHERE key = ?", key)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "issue not found: %s", key)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "get issue %s", key)
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := "SELECT " + issueColumns + " FROM issues"
	var conditions []string
	var args []any

	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, filter.Priority)
	}
	if filter.Assignee != "" {
		conditions = append(conditions, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if filter.IssueType != "" {
		conditions = append(conditions, "issue_type = ?")
		args = append(args, filter.IssueType)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_date DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryIssues(ctx, query, args...)
}

// ListIssuesAfter pages through a project's issues in id order, resuming
// after the given issue id. Used for batch passes (snapshot generation,
// view expansion) that must not load a whole project at once.
func (s *SQLiteStore) ListIssuesAfter(ctx context.Context, projectID, afterIssueID string, limit int) ([]*models.Issue, error) {
	query := "SELECT " + issueColumns + " FROM issues WHERE id > ?"
	args := []any{afterIssueID}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	return s.queryIssues(ctx, query, args...)
}

func (s *SQLiteStore) queryIssues(ctx context.Context, query string, args ...any) ([]*models.Issue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "list issues")
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan issue")
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// MaxIssueUpdated returns the watermark: the max updated_date among
// persisted issues of the project, or nil when no issue has one.
func (s *SQLiteStore) MaxIssueUpdated(ctx context.Context, projectID string) (*time.Time, error) {
	var max sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(updated_date) FROM issues WHERE project_id = ?", projectID).Scan(&max)
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "max issue updated for %s", projectID)
	}
	if !max.Valid {
		return nil, nil
	}
	t := max.Time
	return &t, nil
}

func (s *SQLiteStore) CountIssuesByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM issues WHERE project_id = ? GROUP BY status", projectID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "count issues by status")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan status count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- Change history ---

func (s *SQLiteStore) DeleteIssueHistory(ctx context.Context, issueID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM issue_change_history WHERE issue_id = ?", issueID)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "delete history for issue %s", issueID)
	}
	return nil
}

func (s *SQLiteStore) InsertHistoryItems(ctx context.Context, items []models.ChangeHistoryItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO issue_change_history
		(issue_id, issue_key, history_id, author_account_id, author_display_name,
		 field, field_type, from_value, from_string, to_value, to_string, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "prepare history insert")
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		_, err := stmt.ExecContext(ctx,
			item.IssueID, item.IssueKey, item.HistoryID,
			item.AuthorAccountID, item.AuthorDisplayName,
			item.Field, item.FieldType,
			item.FromValue, item.FromString, item.ToValue, item.ToString,
			item.ChangedAt,
		)
		if err != nil {
			return apperr.Wrap(apperr.Repository, err, "insert history item for %s", item.IssueKey)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Repository, err, "commit history insert")
	}
	return nil
}

// ListIssueHistory returns an issue's change records, most recent first.
func (s *SQLiteStore) ListIssueHistory(ctx context.Context, issueID string) ([]*models.ChangeHistoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT issue_id, issue_key, history_id, author_account_id, author_display_name,
			field, field_type, from_value, from_string, to_value, to_string, changed_at
		FROM issue_change_history WHERE issue_id = ? ORDER BY changed_at DESC`, issueID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "list history for issue %s", issueID)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.ChangeHistoryItem
	for rows.Next() {
		item := &models.ChangeHistoryItem{}
		if err := rows.Scan(&item.IssueID, &item.IssueKey, &item.HistoryID,
			&item.AuthorAccountID, &item.AuthorDisplayName,
			&item.Field, &item.FieldType,
			&item.FromValue, &item.FromString, &item.ToValue, &item.ToString,
			&item.ChangedAt); err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan history item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- Snapshots ---

func (s *SQLiteStore) DeleteIssueSnapshots(ctx context.Context, issueID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM issue_snapshots WHERE issue_id = ?", issueID)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "delete snapshots for issue %s", issueID)
	}
	return nil
}

const snapshotColumns = `issue_id, issue_key, project_id, version, valid_from, valid_to,
	summary, description, status, priority, assignee, issue_type, resolution,
	raw_data, updated_date, created_at`

func (s *SQLiteStore) InsertSnapshots(ctx context.Context, snaps []*models.IssueSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO issue_snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "prepare snapshot insert")
	}
	defer func() { _ = stmt.Close() }()

	for _, snap := range snaps {
		if snap.CreatedAt.IsZero() {
			snap.CreatedAt = time.Now().UTC()
		}
		_, err := stmt.ExecContext(ctx,
			snap.IssueID, snap.IssueKey, snap.ProjectID, snap.Version,
			snap.ValidFrom, snap.ValidTo,
			snap.Summary, snap.Description, snap.Status, snap.Priority,
			snap.Assignee, snap.IssueType, snap.Resolution,
			snap.RawData, snap.UpdatedDate, snap.CreatedAt,
		)
		if err != nil {
			return apperr.Wrap(apperr.Repository, err, "insert snapshot %s v%d", snap.IssueKey, snap.Version)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Repository, err, "commit snapshot insert")
	}
	return nil
}

func scanSnapshot(sc issueScanner) (*models.IssueSnapshot, error) {
	snap := &models.IssueSnapshot{}
	var validTo, updatedDate sql.NullTime

	err := sc.Scan(&snap.IssueID, &snap.IssueKey, &snap.ProjectID, &snap.Version,
		&snap.ValidFrom, &validTo,
		&snap.Summary, &snap.Description, &snap.Status, &snap.Priority,
		&snap.Assignee, &snap.IssueType, &snap.Resolution,
		&snap.RawData, &updatedDate, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}

	if validTo.Valid {
		snap.ValidTo = &validTo.Time
	}
	if updatedDate.Valid {
		snap.UpdatedDate = &updatedDate.Time
	}
	return snap, nil
}

func (s *SQLiteStore) ListIssueSnapshots(ctx context.Context, issueID string) ([]*models.IssueSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM issue_snapshots WHERE issue_id = ? ORDER BY version", issueID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "list snapshots for issue %s", issueID)
	}
	defer func() { _ = rows.Close() }()

	var snaps []*models.IssueSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan snapshot")
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// GetSnapshotAt answers "what did this issue look like at time at":
// the version whose closed-open interval contains the instant.
func (s *SQLiteStore) GetSnapshotAt(ctx context.Context, issueKey string, at time.Time) (*models.IssueSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM issue_snapshots
		WHERE issue_key = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY version DESC LIMIT 1`,
		issueKey, at, at)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "no snapshot for %s at %s", issueKey, at.Format(time.RFC3339))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "snapshot at for %s", issueKey)
	}
	return snap, nil
}

// --- Field definitions ---

func (s *SQLiteStore) UpsertFields(ctx context.Context, fields []*models.Field) error {
	if len(fields) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO jira_fields
		(id, key, name, custom, searchable, navigable, orderable,
		 schema_type, schema_items, schema_system, schema_custom, schema_custom_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			key=excluded.key, name=excluded.name, custom=excluded.custom,
			searchable=excluded.searchable, navigable=excluded.navigable, orderable=excluded.orderable,
			schema_type=excluded.schema_type, schema_items=excluded.schema_items,
			schema_system=excluded.schema_system, schema_custom=excluded.schema_custom,
			schema_custom_id=excluded.schema_custom_id`)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "prepare field upsert")
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range fields {
		_, err := stmt.ExecContext(ctx,
			f.ID, f.Key, f.Name,
			boolToInt(f.Custom), boolToInt(f.Searchable), boolToInt(f.Navigable), boolToInt(f.Orderable),
			f.SchemaType, f.SchemaItems, f.SchemaSystem, f.SchemaCustom, f.SchemaCustomID,
		)
		if err != nil {
			return apperr.Wrap(apperr.Repository, err, "upsert field %s", f.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Repository, err, "commit field upsert")
	}
	return nil
}

func (s *SQLiteStore) ListFields(ctx context.Context) ([]*models.Field, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, name, custom, searchable, navigable, orderable,
			schema_type, schema_items, schema_system, schema_custom, schema_custom_id
		FROM jira_fields ORDER BY id`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "list fields")
	}
	defer func() { _ = rows.Close() }()

	var fields []*models.Field
	for rows.Next() {
		f := &models.Field{}
		if err := rows.Scan(&f.ID, &f.Key, &f.Name,
			&f.Custom, &f.Searchable, &f.Navigable, &f.Orderable,
			&f.SchemaType, &f.SchemaItems, &f.SchemaSystem, &f.SchemaCustom, &f.SchemaCustomID); err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan field")
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// --- Project metadata ---

func (s *SQLiteStore) UpsertMetadata(ctx context.Context, items []models.MetadataItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO project_metadata (project_id, kind, name, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, kind, name) DO UPDATE SET description=excluded.description`)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "prepare metadata upsert")
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, item.ProjectID, string(item.Kind), item.Name, item.Description); err != nil {
			return apperr.Wrap(apperr.Repository, err, "upsert metadata %s/%s", item.Kind, item.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Repository, err, "commit metadata upsert")
	}
	return nil
}

func (s *SQLiteStore) ListMetadata(ctx context.Context, projectID string, kind models.MetadataKind) ([]models.MetadataItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, kind, name, description FROM project_metadata
		WHERE project_id = ? AND kind = ? ORDER BY name`, projectID, string(kind))
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "list %s metadata", kind)
	}
	defer func() { _ = rows.Close() }()

	var items []models.MetadataItem
	for rows.Next() {
		var item models.MetadataItem
		var k string
		if err := rows.Scan(&item.ProjectID, &k, &item.Name, &item.Description); err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan metadata item")
		}
		item.Kind = models.MetadataKind(k)
		items = append(items, item)
	}
	return items, rows.Err()
}

// --- Sync history ---

func (s *SQLiteStore) CreateSyncHistory(ctx context.Context, h *models.SyncHistory) error {
	if h.ID == "" {
		h.ID = newULID()
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now().UTC()
	}
	if h.Status == "" {
		h.Status = models.SyncStatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_history (id, project_id, sync_type, status, started_at, completed_at, items_synced, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.ProjectID, string(h.SyncType), string(h.Status),
		h.StartedAt, h.CompletedAt, h.ItemsSynced, h.ErrorMessage,
	)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "create sync history")
	}
	return nil
}

// FinishSyncHistory moves a running row to its terminal state. The
// status guard keeps the running -> {completed, failed} transition
// one-way even if called twice.
func (s *SQLiteStore) FinishSyncHistory(ctx context.Context, id string, status models.SyncStatus, itemsSynced int, errorMessage string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_history SET status=?, completed_at=?, items_synced=?, error_message=?
		WHERE id=? AND status=?`,
		string(status), time.Now().UTC(), itemsSynced, errorMessage,
		id, string(models.SyncStatusRunning),
	)
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "finish sync history %s", id)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "running sync history not found: %s", id)
	}
	return nil
}

const syncHistoryColumns = "id, project_id, sync_type, status, started_at, completed_at, items_synced, error_message"

func scanSyncHistory(sc issueScanner) (*models.SyncHistory, error) {
	h := &models.SyncHistory{}
	var syncType, status string
	var completedAt sql.NullTime

	err := sc.Scan(&h.ID, &h.ProjectID, &syncType, &status,
		&h.StartedAt, &completedAt, &h.ItemsSynced, &h.ErrorMessage)
	if err != nil {
		return nil, err
	}

	h.SyncType = models.SyncType(syncType)
	h.Status = models.SyncStatus(status)
	if completedAt.Valid {
		h.CompletedAt = &completedAt.Time
	}
	return h, nil
}

func (s *SQLiteStore) FindLatestSyncHistory(ctx context.Context, projectID string) (*models.SyncHistory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+syncHistoryColumns+` FROM sync_history
		WHERE project_id = ? ORDER BY started_at DESC LIMIT 1`, projectID)
	h, err := scanSyncHistory(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "no sync history for project %s", projectID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "latest sync history for %s", projectID)
	}
	return h, nil
}

func (s *SQLiteStore) ListSyncHistory(ctx context.Context, projectID string, limit int) ([]*models.SyncHistory, error) {
	query := "SELECT " + syncHistoryColumns + " FROM sync_history"
	var args []any
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "list sync history")
	}
	defer func() { _ = rows.Close() }()

	var histories []*models.SyncHistory
	for rows.Next() {
		h, err := scanSyncHistory(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan sync history")
		}
		histories = append(histories, h)
	}
	return histories, rows.Err()
}

// SweepRunningSyncs marks sync rows left at "running" by a crashed or
// killed process as failed. Run once at startup before new syncs.
func (s *SQLiteStore) SweepRunningSyncs(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_history SET status=?, completed_at=?, error_message='interrupted: process exited mid-run'
		WHERE status=?`,
		string(models.SyncStatusFailed), time.Now().UTC(), string(models.SyncStatusRunning),
	)
	if err != nil {
		return 0, apperr.Wrap(apperr.Repository, err, "sweep running syncs")
	}
	return result.RowsAffected()
}

// --- Flattened issue view ---

// columnNameRe limits dynamic identifiers to what the column-name
// derivation in internal/fields can produce. ALTER TABLE cannot take
// placeholders, so anything else is rejected before interpolation.
var columnNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func (s *SQLiteStore) IssueViewColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info(issue_view)")
	if err != nil {
		return nil, apperr.Wrap(apperr.Repository, err, "issue view columns")
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, apperr.Wrap(apperr.Repository, err, "scan column info")
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

func (s *SQLiteStore) AddIssueViewColumn(ctx context.Context, name, sqlType string) error {
	if !columnNameRe.MatchString(name) {
		return apperr.New(apperr.Validation, "invalid column name: %q", name)
	}
	switch sqlType {
	case "TEXT", "REAL", "TIMESTAMP", "DATE":
	default:
		return apperr.New(apperr.Validation, "invalid column type: %q", sqlType)
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`ALTER TABLE issue_view ADD COLUMN "%s" %s`, name, sqlType))
	if err != nil {
		return apperr.Wrap(apperr.Repository, err, "add column %s", name)
	}
	return nil
}

func (s *SQLiteStore) UpsertIssueViewRow(ctx context.Context, issueID, issueKey, projectID string, values map[string]any) error {
	columns := []string{"issue_id", "issue_key", "project_id"}
	args := []any{issueID, issueKey, projectID}
	var updates []string

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !columnNameRe.MatchString(name) {
			return apperr.New(apperr.Validation, "invalid column name: %q", name)
		}
		columns = append(columns, `"`+name+`"`)
		args = append(args, values[name])
		updates = append(updates, fmt.Sprintf(`"%s"=excluded."%s"`, name, name))
	}

	query := fmt.Sprintf(
		"INSERT INTO issue_view (%s) VALUES (%s) ON CONFLICT(issue_id) DO UPDATE SET issue_key=excluded.issue_key, project_id=excluded.project_id",
		strings.Join(columns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
	)
	if len(updates) > 0 {
		query += ", " + strings.Join(updates, ", ")
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return apperr.Wrap(apperr.Repository, err, "upsert issue view row %s", issueKey)
	}
	return nil
}

// --- Read-only query access ---

// Query runs an arbitrary SQL statement and returns generic rows. The
// gateway layer is responsible for ensuring the statement is read-only
// before it gets here.
func (s *SQLiteStore) Query(ctx context.Context, query string) ([]string, [][]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Repository, err, "query")
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Repository, err, "query columns")
	}

	var result [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, apperr.Wrap(apperr.Repository, err, "scan query row")
		}
		result = append(result, values)
	}
	return columns, result, rows.Err()
}
