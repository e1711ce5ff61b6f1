package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	gojira "github.com/andygrunwald/go-jira"
	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/ysksm/jiramirror/internal/apperr"
	"github.com/ysksm/jiramirror/internal/models"
)

// DefaultPageSize is the search page size when the caller does not set one.
const DefaultPageSize = 50

// Config carries the connection settings for a Jira Cloud instance.
type Config struct {
	URL      string
	Username string
	APIToken string
}

// Client implements Source on top of go-jira. Typed endpoints go
// through the library's services; the issue search goes through raw
// requests so the full payload (changelog included) is preserved
// verbatim for local storage.
type Client struct {
	jc *gojira.Client
}

// NewClient validates the config and builds an authenticated client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, apperr.New(apperr.Configuration, "jira.url is not set")
	}
	if cfg.Username == "" || cfg.APIToken == "" {
		return nil, apperr.New(apperr.Configuration, "jira.username and jira.api_token are required")
	}

	tp := gojira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.APIToken,
	}
	jc, err := gojira.NewClient(tp.Client(), cfg.URL)
	if err != nil {
		return nil, apperr.Wrap(apperr.Configuration, err, "create jira client for %s", cfg.URL)
	}
	return &Client{jc: jc}, nil
}

// newBackOff bounds per-call retries. Transient failures (network,
// 429, 5xx) get a few exponentially spaced attempts; anything else is
// surfaced immediately via backoff.Permanent.
func newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(bo, ctx)
}

func retryable(resp *gojira.Response, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	if resp != nil {
		code := resp.StatusCode
		if code == http.StatusTooManyRequests || code >= 500 {
			return err
		}
		if code >= 400 {
			return backoff.Permanent(err)
		}
	}
	return err
}

// --- Projects ---

func (c *Client) GetProjects(ctx context.Context) ([]*models.Project, error) {
	var list *gojira.ProjectList
	op := func() error {
		var resp *gojira.Response
		var err error
		list, resp, err = c.jc.Project.GetListWithContext(ctx)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err, "list projects")
	}

	projects := make([]*models.Project, 0, len(*list))
	for _, p := range *list {
		projects = append(projects, &models.Project{
			ID:   p.ID,
			Key:  p.Key,
			Name: p.Name,
		})
	}
	return projects, nil
}

func (c *Client) GetProject(ctx context.Context, key string) (*models.Project, error) {
	p, err := c.getProject(ctx, key)
	if err != nil {
		return nil, err
	}
	return &models.Project{
		ID:          p.ID,
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
	}, nil
}

func (c *Client) getProject(ctx context.Context, key string) (*gojira.Project, error) {
	var p *gojira.Project
	op := func() error {
		var resp *gojira.Response
		var err error
		p, resp, err = c.jc.Project.GetWithContext(ctx, key)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err, "get project %s", key)
	}
	return p, nil
}

// --- Issue search ---

// jqlTimeLayout is the minute-granularity format JQL accepts. Using >=
// with a truncated watermark re-fetches the boundary issue; the upsert
// makes that harmless.
const jqlTimeLayout = "2006-01-02 15:04"

type searchResult struct {
	StartAt    int               `json:"startAt"`
	MaxResults int               `json:"maxResults"`
	Total      int               `json:"total"`
	Issues     []json.RawMessage `json:"issues"`
}

// SearchIssues fetches one page of the project's issues ordered by
// ascending update time, changelog expanded, raw payloads preserved.
func (c *Client) SearchIssues(ctx context.Context, req BatchRequest) (*BatchPage, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	startAt := 0
	if req.PageToken != "" {
		n, err := strconv.Atoi(req.PageToken)
		if err != nil {
			return nil, apperr.New(apperr.Validation, "invalid page token: %q", req.PageToken)
		}
		startAt = n
	}

	jql := fmt.Sprintf("project = %q", req.ProjectKey)
	if req.UpdatedAfter != nil {
		jql += fmt.Sprintf(" AND updated >= %q", req.UpdatedAfter.Format(jqlTimeLayout))
	}
	jql += " ORDER BY updated ASC"

	params := url.Values{}
	params.Set("jql", jql)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(pageSize))
	params.Set("expand", "changelog")
	params.Set("fields", "*all")

	var result searchResult
	op := func() error {
		httpReq, err := c.jc.NewRequestWithContext(ctx, http.MethodGet, "rest/api/2/search?"+params.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.jc.Do(httpReq, &result)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err, "search issues for %s at offset %d", req.ProjectKey, startAt)
	}

	issues := make([]*models.Issue, 0, len(result.Issues))
	for _, raw := range result.Issues {
		issues = append(issues, parseIssue(string(raw)))
	}

	fetched := startAt + len(issues)
	page := &BatchPage{
		Issues:       issues,
		Total:        result.Total,
		FetchedSoFar: fetched,
		HasMore:      fetched < result.Total && len(issues) > 0,
	}
	if page.HasMore {
		page.NextPageToken = strconv.Itoa(fetched)
	}
	return page, nil
}

var issueTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
}

func parseIssueTime(s string) time.Time {
	for _, layout := range issueTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseIssue projects a raw search payload into the mirrored model.
// The payload itself rides along untouched in RawJSON.
func parseIssue(raw string) *models.Issue {
	get := func(path string) string { return gjson.Get(raw, path).String() }

	names := func(path string) []string {
		var out []string
		gjson.Get(raw, path).ForEach(func(_, v gjson.Result) bool {
			if name := v.Get("name").String(); name != "" {
				out = append(out, name)
			}
			return true
		})
		return out
	}

	var labels []string
	gjson.Get(raw, "fields.labels").ForEach(func(_, v gjson.Result) bool {
		labels = append(labels, v.String())
		return true
	})

	return &models.Issue{
		ID:          get("id"),
		ProjectID:   get("fields.project.id"),
		Key:         get("key"),
		Summary:     get("fields.summary"),
		Description: get("fields.description"),
		Status:      get("fields.status.name"),
		Priority:    get("fields.priority.name"),
		Assignee:    get("fields.assignee.displayName"),
		Reporter:    get("fields.reporter.displayName"),
		IssueType:   get("fields.issuetype.name"),
		Resolution:  get("fields.resolution.name"),
		Labels:      labels,
		Components:  names("fields.components"),
		FixVersions: names("fields.fixVersions"),
		Sprint:      get("fields.sprint.name"),
		ParentKey:   get("fields.parent.key"),
		CreatedDate: parseIssueTime(get("fields.created")),
		UpdatedDate: parseIssueTime(get("fields.updated")),
		RawJSON:     raw,
	}
}

// --- Field definitions ---

// fieldDTO mirrors /rest/api/2/field. go-jira's Field type predates the
// orderable flag, so the endpoint is called directly.
type fieldDTO struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	Custom     bool   `json:"custom"`
	Searchable bool   `json:"searchable"`
	Navigable  bool   `json:"navigable"`
	Orderable  bool   `json:"orderable"`
	Schema     struct {
		Type     string `json:"type"`
		Items    string `json:"items"`
		System   string `json:"system"`
		Custom   string `json:"custom"`
		CustomID int64  `json:"customId"`
	} `json:"schema"`
}

func (c *Client) GetFields(ctx context.Context) ([]*models.Field, error) {
	var dtos []fieldDTO
	op := func() error {
		req, err := c.jc.NewRequestWithContext(ctx, http.MethodGet, "rest/api/2/field", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.jc.Do(req, &dtos)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err, "list fields")
	}

	fields := make([]*models.Field, 0, len(dtos))
	for _, d := range dtos {
		fields = append(fields, &models.Field{
			ID:             d.ID,
			Key:            d.Key,
			Name:           d.Name,
			Custom:         d.Custom,
			Searchable:     d.Searchable,
			Navigable:      d.Navigable,
			Orderable:      d.Orderable,
			SchemaType:     d.Schema.Type,
			SchemaItems:    d.Schema.Items,
			SchemaSystem:   d.Schema.System,
			SchemaCustom:   d.Schema.Custom,
			SchemaCustomID: d.Schema.CustomID,
		})
	}
	return fields, nil
}

// --- Project metadata ---

func (c *Client) GetStatuses(ctx context.Context) ([]models.MetadataItem, error) {
	var statuses []gojira.Status
	op := func() error {
		var resp *gojira.Response
		var err error
		statuses, resp, err = c.jc.Status.GetAllStatusesWithContext(ctx)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err, "list statuses")
	}

	items := make([]models.MetadataItem, 0, len(statuses))
	for _, s := range statuses {
		items = append(items, models.MetadataItem{Kind: models.MetadataStatus, Name: s.Name, Description: s.Description})
	}
	return items, nil
}

func (c *Client) GetPriorities(ctx context.Context) ([]models.MetadataItem, error) {
	var priorities []gojira.Priority
	op := func() error {
		var resp *gojira.Response
		var err error
		priorities, resp, err = c.jc.Priority.GetListWithContext(ctx)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err, "list priorities")
	}

	items := make([]models.MetadataItem, 0, len(priorities))
	for _, p := range priorities {
		items = append(items, models.MetadataItem{Kind: models.MetadataPriority, Name: p.Name, Description: p.Description})
	}
	return items, nil
}

func (c *Client) GetIssueTypes(ctx context.Context, projectKey string) ([]models.MetadataItem, error) {
	p, err := c.getProject(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	items := make([]models.MetadataItem, 0, len(p.IssueTypes))
	for _, it := range p.IssueTypes {
		items = append(items, models.MetadataItem{Kind: models.MetadataIssueType, Name: it.Name, Description: it.Description})
	}
	return items, nil
}

type labelsPage struct {
	Values []string `json:"values"`
	IsLast bool     `json:"isLast"`
}

// GetLabels pulls the instance-wide label list. The endpoint pages, but
// one oversized page covers all realistic label sets; if it does not,
// the missing labels show up on the next sync.
func (c *Client) GetLabels(ctx context.Context) ([]models.MetadataItem, error) {
	var page labelsPage
	op := func() error {
		req, err := c.jc.NewRequestWithContext(ctx, http.MethodGet, "rest/api/2/label?maxResults=1000", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.jc.Do(req, &page)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err, "list labels")
	}

	if !page.IsLast {
		slog.Debug("label list truncated at one page", "fetched", len(page.Values))
	}
	items := make([]models.MetadataItem, 0, len(page.Values))
	for _, name := range page.Values {
		items = append(items, models.MetadataItem{Kind: models.MetadataLabel, Name: name})
	}
	return items, nil
}

func (c *Client) GetComponents(ctx context.Context, projectKey string) ([]models.MetadataItem, error) {
	p, err := c.getProject(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	items := make([]models.MetadataItem, 0, len(p.Components))
	for _, comp := range p.Components {
		items = append(items, models.MetadataItem{Kind: models.MetadataComponent, Name: comp.Name, Description: comp.Description})
	}
	return items, nil
}

func (c *Client) GetVersions(ctx context.Context, projectKey string) ([]models.MetadataItem, error) {
	p, err := c.getProject(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	items := make([]models.MetadataItem, 0, len(p.Versions))
	for _, v := range p.Versions {
		items = append(items, models.MetadataItem{Kind: models.MetadataFixVersion, Name: v.Name, Description: v.Description})
	}
	return items, nil
}

// --- Write-through ---

func (c *Client) CreateIssue(ctx context.Context, input IssueInput) (string, error) {
	if input.ProjectKey == "" || input.Summary == "" {
		return "", apperr.New(apperr.Validation, "project key and summary are required")
	}
	issueType := input.IssueType
	if issueType == "" {
		issueType = "Task"
	}

	fields := &gojira.IssueFields{
		Project:     gojira.Project{Key: input.ProjectKey},
		Summary:     input.Summary,
		Description: input.Description,
		Type:        gojira.IssueType{Name: issueType},
		Labels:      input.Labels,
	}
	if input.Priority != "" {
		fields.Priority = &gojira.Priority{Name: input.Priority}
	}
	if input.Assignee != "" {
		fields.Assignee = &gojira.User{AccountID: input.Assignee}
	}

	// Creation is not idempotent upstream, so no retry here.
	created, _, err := c.jc.Issue.CreateWithContext(ctx, &gojira.Issue{Fields: fields})
	if err != nil {
		return "", apperr.Wrap(apperr.ExternalService, err, "create issue in %s", input.ProjectKey)
	}
	return created.Key, nil
}

func (c *Client) GetTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	var transitions []gojira.Transition
	op := func() error {
		var resp *gojira.Response
		var err error
		transitions, resp, err = c.jc.Issue.GetTransitionsWithContext(ctx, issueKey)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, err, "list transitions for %s", issueKey)
	}

	out := make([]Transition, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, Transition{ID: t.ID, Name: t.Name, To: t.To.Name})
	}
	return out, nil
}

func (c *Client) DoTransition(ctx context.Context, issueKey, transitionID string) error {
	op := func() error {
		resp, err := c.jc.Issue.DoTransitionWithContext(ctx, issueKey, transitionID)
		return retryable(resp, err)
	}
	if err := backoff.Retry(op, newBackOff(ctx)); err != nil {
		return apperr.Wrap(apperr.ExternalService, err, "transition %s", issueKey)
	}
	return nil
}
