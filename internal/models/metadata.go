package models

// MetadataKind names one of the six project metadata categories mirrored
// on each sync pass.
type MetadataKind string

const (
	MetadataStatus     MetadataKind = "status"
	MetadataPriority   MetadataKind = "priority"
	MetadataIssueType  MetadataKind = "issue_type"
	MetadataLabel      MetadataKind = "label"
	MetadataComponent  MetadataKind = "component"
	MetadataFixVersion MetadataKind = "fix_version"
)

// MetadataKinds lists all categories in sync order.
var MetadataKinds = []MetadataKind{
	MetadataStatus,
	MetadataPriority,
	MetadataIssueType,
	MetadataLabel,
	MetadataComponent,
	MetadataFixVersion,
}

// MetadataItem is a simple name+attributes record scoped to a project.
// Items are upserted by name per category, never individually deleted.
type MetadataItem struct {
	ProjectID   string       `json:"project_id"`
	Kind        MetadataKind `json:"kind"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
}
