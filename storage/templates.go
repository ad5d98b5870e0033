package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// ErrAlreadyExists is returned when a template name is taken.
var ErrAlreadyExists = errors.New("already exists")

const templateCols = `id, name, description, content, version, created_by, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(r rowScanner) (Template, error) {
	var t Template
	var desc, by sql.NullString
	var created, updated int64
	if err := r.Scan(&t.ID, &t.Name, &desc, &t.Content, &t.Version, &by, &created, &updated); err != nil {
		return Template{}, err
	}
	t.Description, t.CreatedBy = desc.String, by.String
	t.CreatedAt, t.UpdatedAt = fromMillis(created), fromMillis(updated)
	return t, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateTemplate stores a new template as version 1.
func (s *SqliteStore) CreateTemplate(ctx context.Context, name, description, content, createdBy string) (Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Template{}, fmt.Errorf("template name is required")
	}
	now := s.now().UTC()
	t := Template{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Content:     content,
		Version:     1,
		CreatedBy:   createdBy,
		CreatedAt:   fromMillis(toMillis(now)),
		UpdatedAt:   fromMillis(toMillis(now)),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Template{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates (`+templateCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, nullable(t.Description), t.Content, t.Version, nullable(t.CreatedBy),
		toMillis(t.CreatedAt), toMillis(t.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return Template{}, fmt.Errorf("template %q: %w", name, ErrAlreadyExists)
		}
		return Template{}, fmt.Errorf("failed to insert template: %w", err)
	}
	if err := insertVersion(ctx, tx, t.ID, 1, t.Content, "", t.CreatedBy, now); err != nil {
		return Template{}, err
	}

	if err := tx.Commit(); err != nil {
		return Template{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return t, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, templateID string, version int, content, changelog, createdBy string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO template_versions (id, template_id, version, content, changelog, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), templateID, version, content, nullable(changelog), nullable(createdBy), toMillis(at))
	if err != nil {
		return fmt.Errorf("failed to insert template version: %w", err)
	}
	return nil
}

// GetTemplate returns the template with id.
func (s *SqliteStore) GetTemplate(ctx context.Context, id string) (Template, error) {
	return s.getTemplate(ctx, s.db, `SELECT `+templateCols+` FROM templates WHERE id = ?`, id)
}

// GetTemplateByName returns the template called name.
func (s *SqliteStore) GetTemplateByName(ctx context.Context, name string) (Template, error) {
	return s.getTemplate(ctx, s.db, `SELECT `+templateCols+` FROM templates WHERE name = ?`, name)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SqliteStore) getTemplate(ctx context.Context, q querier, query string, arg string) (Template, error) {
	t, err := scanTemplate(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("template %q: %w", arg, ErrNotFound)
	}
	if err != nil {
		return Template{}, fmt.Errorf("failed to get template: %w", err)
	}
	return t, nil
}

// likePattern builds a LIKE substring pattern with wildcards escaped.
func likePattern(q string) string {
	q = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(q))
	return "%" + q + "%"
}

// ListTemplates returns templates most recently updated first.
func (s *SqliteStore) ListTemplates(ctx context.Context, opts ListOptions) (Page[Template], error) {
	where, args := "", []any{}
	if q := strings.TrimSpace(opts.Query); q != "" {
		where = ` WHERE lower(name) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(q))
	}

	page := Page[Template]{Items: []Template{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`+where, args...).Scan(&page.Total); err != nil {
		return Page[Template]{}, fmt.Errorf("failed to count templates: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateCols+` FROM templates`+where+` ORDER BY updated_at DESC, name LIMIT ? OFFSET ?`,
		append(args, opts.limit(), opts.offset())...)
	if err != nil {
		return Page[Template]{}, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return Page[Template]{}, fmt.Errorf("failed to scan template: %w", err)
		}
		page.Items = append(page.Items, t)
	}
	if err := rows.Err(); err != nil {
		return Page[Template]{}, fmt.Errorf("error iterating templates: %w", err)
	}
	return page, nil
}

// UpdateTemplate applies upd. When Content differs from the stored
// content a new version is recorded with upd.Changelog.
func (s *SqliteStore) UpdateTemplate(ctx context.Context, id string, upd TemplateUpdate) (Template, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Template{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := s.getTemplate(ctx, tx, `SELECT `+templateCols+` FROM templates WHERE id = ?`, id)
	if err != nil {
		return Template{}, err
	}
	if upd.Name == nil && upd.Description == nil && upd.Content == nil {
		return t, nil
	}

	now := s.now().UTC()
	if upd.Name != nil {
		t.Name = strings.TrimSpace(*upd.Name)
		if t.Name == "" {
			return Template{}, fmt.Errorf("template name is required")
		}
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Content != nil && *upd.Content != t.Content {
		t.Content = *upd.Content
		t.Version++
		if err := insertVersion(ctx, tx, t.ID, t.Version, t.Content, upd.Changelog, upd.UpdatedBy, now); err != nil {
			return Template{}, err
		}
	}
	t.UpdatedAt = fromMillis(toMillis(now))

	_, err = tx.ExecContext(ctx, `
		UPDATE templates SET name = ?, description = ?, content = ?, version = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, nullable(t.Description), t.Content, t.Version, toMillis(t.UpdatedAt), t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Template{}, fmt.Errorf("template %q: %w", t.Name, ErrAlreadyExists)
		}
		return Template{}, fmt.Errorf("failed to update template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Template{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return t, nil
}

// DeleteTemplate removes a template and its versions.
func (s *SqliteStore) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM template_versions WHERE template_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete template versions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n > 0, nil
}

const versionCols = `id, template_id, version, content, changelog, created_by, created_at`

func scanVersion(r rowScanner) (TemplateVersion, error) {
	var v TemplateVersion
	var changelog, by sql.NullString
	var created int64
	if err := r.Scan(&v.ID, &v.TemplateID, &v.Version, &v.Content, &changelog, &by, &created); err != nil {
		return TemplateVersion{}, err
	}
	v.Changelog, v.CreatedBy = changelog.String, by.String
	v.CreatedAt = fromMillis(created)
	return v, nil
}

// ListVersions returns versions of a template, newest first.
func (s *SqliteStore) ListVersions(ctx context.Context, templateID string, opts ListOptions) (Page[TemplateVersion], error) {
	page := Page[TemplateVersion]{Items: []TemplateVersion{}}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM template_versions WHERE template_id = ?`, templateID,
	).Scan(&page.Total); err != nil {
		return Page[TemplateVersion]{}, fmt.Errorf("failed to count template versions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionCols+` FROM template_versions WHERE template_id = ? ORDER BY version DESC LIMIT ? OFFSET ?`,
		templateID, opts.limit(), opts.offset())
	if err != nil {
		return Page[TemplateVersion]{}, fmt.Errorf("failed to query template versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return Page[TemplateVersion]{}, fmt.Errorf("failed to scan template version: %w", err)
		}
		page.Items = append(page.Items, v)
	}
	if err := rows.Err(); err != nil {
		return Page[TemplateVersion]{}, fmt.Errorf("error iterating template versions: %w", err)
	}
	return page, nil
}

// GetVersion returns one version of a template.
func (s *SqliteStore) GetVersion(ctx context.Context, templateID string, version int) (TemplateVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionCols+` FROM template_versions WHERE template_id = ? AND version = ?`,
		templateID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return TemplateVersion{}, fmt.Errorf("template %q version %d: %w", templateID, version, ErrNotFound)
	}
	if err != nil {
		return TemplateVersion{}, fmt.Errorf("failed to get template version: %w", err)
	}
	return v, nil
}
