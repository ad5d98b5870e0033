package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/richinex/rtg/model"
)

// scoped picks the query for a scope. The scoped query takes the project
// ID as its only argument.
func scoped(scope model.Scope, all, byProject string) (string, []any) {
	if scope.IsProject() {
		return byProject, []any{scope.ProjectID}
	}
	return all, nil
}

// FetchProjects returns the scoped project, or all projects oldest first.
func (s *SqliteStore) FetchProjects(ctx context.Context, scope model.Scope) ([]model.Project, error) {
	const cols = `SELECT id, project_key, name, description, slo_target, attributes, created_at FROM projects`
	query, args := scoped(scope,
		cols+` ORDER BY created_at, id`,
		cols+` WHERE id = ?`)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		var p model.Project
		var key, desc, slo, attrs sql.NullString
		var created int64
		if err := rows.Scan(&p.ID, &key, &p.Name, &desc, &slo, &attrs, &created); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Key, p.Description, p.SLOTarget = key.String, desc.String, slo.String
		p.CreatedAt = fromMillis(created)
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &p.Attributes); err != nil {
				return nil, fmt.Errorf("invalid attributes for project %s: %w", p.ID, err)
			}
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	return projects, nil
}

// FetchComponents returns components of the scoped project, or all.
func (s *SqliteStore) FetchComponents(ctx context.Context, scope model.Scope) ([]model.Component, error) {
	const cols = `SELECT id, project_id, name, type, description FROM components`
	query, args := scoped(scope,
		cols+` ORDER BY id`,
		cols+` WHERE project_id = ? ORDER BY id`)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query components: %w", err)
	}
	defer rows.Close()

	components := []model.Component{}
	for rows.Next() {
		var c model.Component
		var typ, desc sql.NullString
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &typ, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		c.Type, c.Description = typ.String, desc.String
		components = append(components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}
	return components, nil
}

// FetchThreats returns threats of the scoped project, or all.
func (s *SqliteStore) FetchThreats(ctx context.Context, scope model.Scope) ([]model.Threat, error) {
	const cols = `SELECT id, project_id, component_id, title, severity, status, description FROM threats`
	query, args := scoped(scope,
		cols+` ORDER BY id`,
		cols+` WHERE project_id = ? ORDER BY id`)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threats: %w", err)
	}
	defer rows.Close()

	threats := []model.Threat{}
	for rows.Next() {
		var t model.Threat
		var comp, sev, status, desc sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &comp, &t.Title, &sev, &status, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan threat: %w", err)
		}
		t.ComponentID, t.Severity, t.Status, t.Description = comp.String, sev.String, status.String, desc.String
		threats = append(threats, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threats: %w", err)
	}
	return threats, nil
}

// FetchVulnerabilities returns vulnerabilities of the scoped project's
// components, or all.
func (s *SqliteStore) FetchVulnerabilities(ctx context.Context, scope model.Scope) ([]model.Vulnerability, error) {
	const cols = `SELECT id, component_id, title, severity, status, created_at FROM vulnerabilities`
	query, args := scoped(scope,
		cols+` ORDER BY id`,
		cols+` WHERE component_id IN (SELECT id FROM components WHERE project_id = ?) ORDER BY id`)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vulnerabilities: %w", err)
	}
	defer rows.Close()

	vulns := []model.Vulnerability{}
	for rows.Next() {
		var v model.Vulnerability
		var sev, status sql.NullString
		var created int64
		if err := rows.Scan(&v.ID, &v.ComponentID, &v.Title, &sev, &status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan vulnerability: %w", err)
		}
		v.Severity, v.Status = sev.String, status.String
		v.CreatedAt = fromMillis(created)
		vulns = append(vulns, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vulnerabilities: %w", err)
	}
	return vulns, nil
}

// FetchSafeguards returns safeguards of the scoped project's threats, or all.
func (s *SqliteStore) FetchSafeguards(ctx context.Context, scope model.Scope) ([]model.Safeguard, error) {
	const cols = `SELECT id, threat_id, name, type, status, description FROM safeguards`
	query, args := scoped(scope,
		cols+` ORDER BY threat_id, id`,
		cols+` WHERE threat_id IN (SELECT id FROM threats WHERE project_id = ?) ORDER BY threat_id, id`)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query safeguards: %w", err)
	}
	defer rows.Close()

	safeguards := []model.Safeguard{}
	for rows.Next() {
		var sg model.Safeguard
		var typ, status, desc sql.NullString
		if err := rows.Scan(&sg.ID, &sg.ThreatID, &sg.Name, &typ, &status, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan safeguard: %w", err)
		}
		sg.Type, sg.Status, sg.Description = typ.String, status.String, desc.String
		safeguards = append(safeguards, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating safeguards: %w", err)
	}
	return safeguards, nil
}

// FetchStatistics returns incident counts by severity. The remaining
// statistics are derived by the compiler.
func (s *SqliteStore) FetchStatistics(ctx context.Context, scope model.Scope) (model.Statistics, error) {
	const base = `SELECT severity, COUNT(*) FROM incidents`
	query, args := scoped(scope,
		base+` GROUP BY severity`,
		base+` WHERE project_id = ? GROUP BY severity`)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	incidents := map[string]int{model.SeverityHigh: 0, model.SeverityMedium: 0, model.SeverityLow: 0}
	for rows.Next() {
		var sev sql.NullString
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return model.Statistics{}, fmt.Errorf("failed to scan incident count: %w", err)
		}
		if _, ok := incidents[sev.String]; ok {
			incidents[sev.String] = n
		}
	}
	if err := rows.Err(); err != nil {
		return model.Statistics{}, fmt.Errorf("error iterating incidents: %w", err)
	}
	return model.Statistics{Incidents: incidents}, nil
}

// ImportDataset upserts every record of d in one transaction.
func (s *SqliteStore) ImportDataset(ctx context.Context, d model.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	for _, p := range d.Projects {
		var attrs any
		if len(p.Attributes) > 0 {
			b, err := json.Marshal(p.Attributes)
			if err != nil {
				return fmt.Errorf("failed to encode attributes for project %s: %w", p.ID, err)
			}
			attrs = string(b)
		}
		created := p.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO projects (id, project_key, name, description, slo_target, attributes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, nullable(p.Key), p.Name, nullable(p.Description), nullable(p.SLOTarget), attrs, toMillis(created),
		); err != nil {
			return fmt.Errorf("failed to store project %s: %w", p.ID, err)
		}
	}

	for _, c := range d.Components {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO components (id, project_id, name, type, description)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.ProjectID, c.Name, nullable(c.Type), nullable(c.Description),
		); err != nil {
			return fmt.Errorf("failed to store component %s: %w", c.ID, err)
		}
	}

	for _, t := range d.Threats {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO threats (id, project_id, component_id, title, severity, status, description)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, nullable(t.ComponentID), t.Title, nullable(t.Severity), nullable(t.Status), nullable(t.Description),
		); err != nil {
			return fmt.Errorf("failed to store threat %s: %w", t.ID, err)
		}
	}

	for _, v := range d.Vulnerabilities {
		created := v.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO vulnerabilities (id, component_id, title, severity, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			v.ID, v.ComponentID, v.Title, nullable(v.Severity), nullable(v.Status), toMillis(created),
		); err != nil {
			return fmt.Errorf("failed to store vulnerability %s: %w", v.ID, err)
		}
	}

	for _, sg := range d.Safeguards {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO safeguards (id, threat_id, name, type, status, description)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sg.ID, sg.ThreatID, sg.Name, nullable(sg.Type), nullable(sg.Status), nullable(sg.Description),
		); err != nil {
			return fmt.Errorf("failed to store safeguard %s: %w", sg.ID, err)
		}
	}

	for _, in := range d.Incidents {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO incidents (id, project_id, title, severity)
			VALUES (?, ?, ?, ?)`,
			in.ID, in.ProjectID, nullable(in.Title), nullable(in.Severity),
		); err != nil {
			return fmt.Errorf("failed to store incident %s: %w", in.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
