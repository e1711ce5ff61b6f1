package models

// Field describes a remote Jira field definition. Field metadata drives
// dynamic column generation for the flattened issue view; ID is the
// natural key for upsert.
type Field struct {
	ID             string `json:"id"`
	Key            string `json:"key"`
	Name           string `json:"name"`
	Custom         bool   `json:"custom"`
	Searchable     bool   `json:"searchable"`
	Navigable      bool   `json:"navigable"`
	Orderable      bool   `json:"orderable"`
	SchemaType     string `json:"schema_type"`
	SchemaItems    string `json:"schema_items"`
	SchemaSystem   string `json:"schema_system"`
	SchemaCustom   string `json:"schema_custom"`
	SchemaCustomID int64  `json:"schema_custom_id"`
}
