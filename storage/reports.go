package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const reportCols = `id, template_id, template_version, project_id, provider, model, output, created_by, created_at`

func scanReport(r rowScanner) (GeneratedReport, error) {
	var g GeneratedReport
	var tmpl, project, by sql.NullString
	var version sql.NullInt64
	var created int64
	if err := r.Scan(&g.ID, &tmpl, &version, &project, &g.Provider, &g.Model, &g.Output, &by, &created); err != nil {
		return GeneratedReport{}, err
	}
	g.TemplateID, g.ProjectID, g.CreatedBy = tmpl.String, project.String, by.String
	g.TemplateVersion = int(version.Int64)
	g.CreatedAt = fromMillis(created)
	return g, nil
}

// SaveReport stores a generated report.
func (s *SqliteStore) SaveReport(ctx context.Context, r GeneratedReport) (GeneratedReport, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	r.CreatedAt = fromMillis(toMillis(r.CreatedAt))

	var version any
	if r.TemplateVersion > 0 {
		version = r.TemplateVersion
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generated_reports (`+reportCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullable(r.TemplateID), version, nullable(r.ProjectID),
		r.Provider, r.Model, r.Output, nullable(r.CreatedBy), toMillis(r.CreatedAt))
	if err != nil {
		return GeneratedReport{}, fmt.Errorf("failed to store report: %w", err)
	}
	return r, nil
}

// GetReport returns the report with id.
func (s *SqliteStore) GetReport(ctx context.Context, id string) (GeneratedReport, error) {
	g, err := scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportCols+` FROM generated_reports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return GeneratedReport{}, fmt.Errorf("report %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return GeneratedReport{}, fmt.Errorf("failed to get report: %w", err)
	}
	return g, nil
}

// ListReports returns reports newest first. Empty templateID or projectID
// match everything.
func (s *SqliteStore) ListReports(ctx context.Context, templateID, projectID string, opts ListOptions) (Page[GeneratedReport], error) {
	var conds []string
	var args []any
	if templateID != "" {
		conds = append(conds, "template_id = ?")
		args = append(args, templateID)
	}
	if projectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, projectID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := Page[GeneratedReport]{Items: []GeneratedReport{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generated_reports`+where, args...).Scan(&page.Total); err != nil {
		return Page[GeneratedReport]{}, fmt.Errorf("failed to count reports: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reportCols+` FROM generated_reports`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.limit(), opts.offset())...)
	if err != nil {
		return Page[GeneratedReport]{}, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		g, err := scanReport(rows)
		if err != nil {
			return Page[GeneratedReport]{}, fmt.Errorf("failed to scan report: %w", err)
		}
		page.Items = append(page.Items, g)
	}
	if err := rows.Err(); err != nil {
		return Page[GeneratedReport]{}, fmt.Errorf("error iterating reports: %w", err)
	}
	return page, nil
}
