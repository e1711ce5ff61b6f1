package models

import "time"

// Project represents a mirrored Jira project.
// The ID is the remote-assigned project id; Key is the human-facing
// prefix (e.g. "PROJ"). Projects are upserted on refresh and never
// deleted locally.
type Project struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
