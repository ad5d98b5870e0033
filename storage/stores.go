// Repository interfaces for report templates and generated reports.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Version bookkeeping handled by the implementation
// - ID and timestamp assignment handled by the implementation

package storage

import (
	"context"
	"time"
)

// Template is a stored report template.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Version     int       `json:"version"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TemplateVersion is an immutable snapshot of a template's content.
type TemplateVersion struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	Changelog  string    `json:"changelog,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TemplateUpdate lists the fields to change. Nil fields are left alone.
type TemplateUpdate struct {
	Name        *string
	Description *string
	Content     *string
	// Changelog is recorded on the new version when Content changes.
	Changelog string
	UpdatedBy string
}

// ListOptions pages a listing. Query filters by case-insensitive name
// substring. Limit <= 0 means the default of 50.
type ListOptions struct {
	Query  string
	Limit  int
	Offset int
}

// Page is one page of a listing plus the total number of matches.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// TemplateStore persists report templates and their version history.
type TemplateStore interface {
	// CreateTemplate stores a new template as version 1.
	CreateTemplate(ctx context.Context, name, description, content, createdBy string) (Template, error)

	// GetTemplate returns ErrNotFound when id is unknown.
	GetTemplate(ctx context.Context, id string) (Template, error)

	// GetTemplateByName returns ErrNotFound when no template has the name.
	GetTemplateByName(ctx context.Context, name string) (Template, error)

	// ListTemplates returns templates most recently updated first.
	ListTemplates(ctx context.Context, opts ListOptions) (Page[Template], error)

	// UpdateTemplate applies upd. A content change records a new version.
	UpdateTemplate(ctx context.Context, id string, upd TemplateUpdate) (Template, error)

	// DeleteTemplate removes a template and its versions.
	// Returns false if the template did not exist.
	DeleteTemplate(ctx context.Context, id string) (bool, error)

	// ListVersions returns versions newest first.
	ListVersions(ctx context.Context, templateID string, opts ListOptions) (Page[TemplateVersion], error)

	// GetVersion returns ErrNotFound when the version does not exist.
	GetVersion(ctx context.Context, templateID string, version int) (TemplateVersion, error)
}

// GeneratedReport is a persisted submit output.
type GeneratedReport struct {
	ID              string    `json:"id"`
	TemplateID      string    `json:"template_id,omitempty"`
	TemplateVersion int       `json:"template_version,omitempty"`
	ProjectID       string    `json:"project_id,omitempty"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	Output          string    `json:"output"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ReportStore persists generated reports.
type ReportStore interface {
	// SaveReport assigns an ID and creation time when missing.
	SaveReport(ctx context.Context, r GeneratedReport) (GeneratedReport, error)

	// GetReport returns ErrNotFound when id is unknown.
	GetReport(ctx context.Context, id string) (GeneratedReport, error)

	// ListReports returns reports newest first, optionally filtered by
	// template and project.
	ListReports(ctx context.Context, templateID, projectID string, opts ListOptions) (Page[GeneratedReport], error)
}

var (
	_ TemplateStore = (*SqliteStore)(nil)
	_ ReportStore   = (*SqliteStore)(nil)
)

const defaultListLimit = 50

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return defaultListLimit
	}
	return o.Limit
}

func (o ListOptions) offset() int {
	if o.Offset < 0 {
		return 0
	}
	return o.Offset
}
