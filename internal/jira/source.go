// Package jira talks to a remote Jira instance and projects its
// payloads into local models.
package jira

import (
	"context"
	"time"

	"github.com/ysksm/jiramirror/internal/models"
)

// BatchRequest asks for one page of a project's issues, ordered by
// ascending update time so a partial run leaves a usable watermark.
type BatchRequest struct {
	ProjectKey string
	// UpdatedAfter restricts the search to issues updated at or after
	// this instant. Nil means fetch everything.
	UpdatedAfter *time.Time
	// PageToken resumes after a previous page; empty starts from the top.
	PageToken string
	PageSize  int
}

// BatchPage is one page of search results plus progress bookkeeping.
type BatchPage struct {
	Issues        []*models.Issue
	Total         int
	FetchedSoFar  int
	HasMore       bool
	NextPageToken string
}

// Transition is an available workflow move for an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   string `json:"to"`
}

// IssueInput is the subset of fields accepted when creating an issue
// upstream.
type IssueInput struct {
	ProjectKey  string
	Summary     string
	Description string
	IssueType   string
	Priority    string
	Assignee    string
	Labels      []string
}

// Source is the read (and thin write-through) interface against the
// remote tracker. The one real implementation is Client; tests swap in
// fakes.
type Source interface {
	GetProjects(ctx context.Context) ([]*models.Project, error)
	GetProject(ctx context.Context, key string) (*models.Project, error)

	SearchIssues(ctx context.Context, req BatchRequest) (*BatchPage, error)

	GetFields(ctx context.Context) ([]*models.Field, error)

	GetStatuses(ctx context.Context) ([]models.MetadataItem, error)
	GetPriorities(ctx context.Context) ([]models.MetadataItem, error)
	GetIssueTypes(ctx context.Context, projectKey string) ([]models.MetadataItem, error)
	GetLabels(ctx context.Context) ([]models.MetadataItem, error)
	GetComponents(ctx context.Context, projectKey string) ([]models.MetadataItem, error)
	GetVersions(ctx context.Context, projectKey string) ([]models.MetadataItem, error)

	CreateIssue(ctx context.Context, input IssueInput) (key string, err error)
	GetTransitions(ctx context.Context, issueKey string) ([]Transition, error)
	DoTransition(ctx context.Context, issueKey, transitionID string) error
}
