// Package sync drives full and incremental synchronization runs
// against the remote tracker.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/ysksm/jiramirror/internal/history"
	"github.com/ysksm/jiramirror/internal/jira"
	"github.com/ysksm/jiramirror/internal/models"
	"github.com/ysksm/jiramirror/internal/store"
)

const (
	// DefaultPageSize is the remote search page size.
	DefaultPageSize = 50
	// DefaultChunkSize bounds the batch upsert transaction size.
	DefaultChunkSize = 50
)

// Config tunes a Syncer. Zero values fall back to the defaults.
type Config struct {
	PageSize  int
	ChunkSize int
}

// Syncer orchestrates one sync run: fetch pages, persist chunks,
// rebuild per-issue change history, refresh metadata, record the run.
type Syncer struct {
	source    jira.Source
	store     store.Store
	logger    *slog.Logger
	pageSize  int
	chunkSize int
}

func New(source jira.Source, s store.Store, logger *slog.Logger, cfg Config) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Syncer{source: source, store: s, logger: logger, pageSize: pageSize, chunkSize: chunkSize}
}

// Run resolves the project upstream, mirrors its row locally, then
// executes a sync. The convenience entry point for CLI and API callers
// that only know the project key.
func (s *Syncer) Run(ctx context.Context, projectKey string, syncType models.SyncType) (*models.SyncResult, error) {
	project, err := s.source.GetProject(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertProject(ctx, project); err != nil {
		return nil, err
	}
	return s.Execute(ctx, project.Key, project.ID, syncType)
}

// Execute performs one sync run for the project.
//
// Failures during fetch and persist are captured in the returned
// SyncResult and in the sync_history row, never propagated — callers
// always get a structured outcome. The only hard error is a failure to
// write the initial sync_history row, since then there is nothing to
// record the failure against.
func (s *Syncer) Execute(ctx context.Context, projectKey, projectID string, syncType models.SyncType) (*models.SyncResult, error) {
	run := &models.SyncHistory{
		ProjectID: projectID,
		SyncType:  syncType,
		Status:    models.SyncStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSyncHistory(ctx, run); err != nil {
		return nil, err
	}

	result := &models.SyncResult{ProjectKey: projectKey}

	var watermark *time.Time
	if syncType == models.SyncTypeIncremental {
		max, err := s.store.MaxIssueUpdated(ctx, projectID)
		if err != nil {
			return s.fail(ctx, run, result, err), nil
		}
		watermark = max
	}

	s.logger.Info("sync started",
		"project", projectKey, "type", string(syncType), "watermark", watermark)

	if err := s.syncIssues(ctx, projectKey, watermark, result); err != nil {
		return s.fail(ctx, run, result, err), nil
	}

	// Metadata is best-effort: a category that cannot be fetched is
	// logged and skipped, the run still completes.
	s.syncMetadata(ctx, projectKey, projectID)

	if err := s.store.FinishSyncHistory(ctx, run.ID, models.SyncStatusCompleted, result.IssuesSynced, ""); err != nil {
		return s.fail(ctx, run, result, err), nil
	}

	result.Success = true
	s.logger.Info("sync completed",
		"project", projectKey,
		"issues", result.IssuesSynced,
		"history_items", result.HistoryItemsSynced)
	return result, nil
}

func (s *Syncer) fail(ctx context.Context, run *models.SyncHistory, result *models.SyncResult, cause error) *models.SyncResult {
	s.logger.Error("sync failed", "project", result.ProjectKey, "error", cause)
	result.Success = false
	result.ErrorMessage = cause.Error()
	if err := s.store.FinishSyncHistory(ctx, run.ID, models.SyncStatusFailed, result.IssuesSynced, cause.Error()); err != nil {
		s.logger.Error("record sync failure", "sync_id", run.ID, "error", err)
	}
	return result
}

// syncIssues pages through the remote search in ascending updated
// order and persists each page in bounded chunks. A partial run leaves
// the max persisted updated_date behind as the next watermark, so a
// restart resumes without missing updates.
func (s *Syncer) syncIssues(ctx context.Context, projectKey string, watermark *time.Time, result *models.SyncResult) error {
	req := jira.BatchRequest{
		ProjectKey:   projectKey,
		UpdatedAfter: watermark,
		PageSize:     s.pageSize,
	}

	for {
		page, err := s.source.SearchIssues(ctx, req)
		if err != nil {
			return err
		}

		for start := 0; start < len(page.Issues); start += s.chunkSize {
			end := start + s.chunkSize
			if end > len(page.Issues) {
				end = len(page.Issues)
			}
			if err := s.persistChunk(ctx, page.Issues[start:end], result); err != nil {
				return err
			}
		}

		s.logger.Debug("page persisted",
			"project", projectKey,
			"fetched", page.FetchedSoFar,
			"total", page.Total)

		if !page.HasMore {
			return nil
		}
		req.PageToken = page.NextPageToken
	}
}

func (s *Syncer) persistChunk(ctx context.Context, issues []*models.Issue, result *models.SyncResult) error {
	if len(issues) == 0 {
		return nil
	}

	if err := s.store.UpsertIssues(ctx, issues); err != nil {
		return err
	}

	for _, issue := range issues {
		if issue.RawJSON == "" {
			s.logger.Warn("issue has no raw payload, skipping history", "issue", issue.Key)
			continue
		}

		items := history.Extract(issue.ID, issue.Key, issue.RawJSON)
		if err := s.store.DeleteIssueHistory(ctx, issue.ID); err != nil {
			return err
		}
		if err := s.store.InsertHistoryItems(ctx, items); err != nil {
			return err
		}
		result.HistoryItemsSynced += len(items)
	}

	result.IssuesSynced += len(issues)
	last := issues[len(issues)-1].UpdatedDate
	if !last.IsZero() {
		result.LastIssueUpdatedAt = &last
	}
	return nil
}

// metadataFetch pairs a category with its fetch call so the best-effort
// loop stays flat.
type metadataFetch struct {
	kind  models.MetadataKind
	fetch func(context.Context) ([]models.MetadataItem, error)
}

func (s *Syncer) syncMetadata(ctx context.Context, projectKey, projectID string) {
	fetches := []metadataFetch{
		{models.MetadataStatus, s.source.GetStatuses},
		{models.MetadataPriority, s.source.GetPriorities},
		{models.MetadataIssueType, func(ctx context.Context) ([]models.MetadataItem, error) {
			return s.source.GetIssueTypes(ctx, projectKey)
		}},
		{models.MetadataLabel, s.source.GetLabels},
		{models.MetadataComponent, func(ctx context.Context) ([]models.MetadataItem, error) {
			return s.source.GetComponents(ctx, projectKey)
		}},
		{models.MetadataFixVersion, func(ctx context.Context) ([]models.MetadataItem, error) {
			return s.source.GetVersions(ctx, projectKey)
		}},
	}

	for _, f := range fetches {
		items, err := f.fetch(ctx)
		if err != nil {
			s.logger.Warn("metadata fetch failed, skipping category",
				"kind", string(f.kind), "project", projectKey, "error", err)
			continue
		}
		for i := range items {
			items[i].ProjectID = projectID
			items[i].Kind = f.kind
		}
		if err := s.store.UpsertMetadata(ctx, items); err != nil {
			s.logger.Warn("metadata upsert failed, skipping category",
				"kind", string(f.kind), "project", projectKey, "error", err)
		}
	}
}
