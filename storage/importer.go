package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ImportAction is what happened to one file during an import.
type ImportAction string

const (
	ImportCreated ImportAction = "created"
	ImportUpdated ImportAction = "updated"
	ImportSkipped ImportAction = "skipped"
	ImportFailed  ImportAction = "error"
)

// ImportOptions controls ImportTemplates.
type ImportOptions struct {
	// Overwrite replaces the content of templates that already exist.
	Overwrite bool
	// CreatedBy is recorded on new templates and versions. Defaults to "system".
	CreatedBy string
}

// ImportItem reports the outcome for one file.
type ImportItem struct {
	Name   string       `json:"name"`
	Action ImportAction `json:"action"`
	ID     string       `json:"id,omitempty"`
}

// ImportError is a per-file failure.
type ImportError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// ImportResult summarises an import.
type ImportResult struct {
	Scanned int           `json:"scanned"`
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Skipped int           `json:"skipped"`
	Errors  []ImportError `json:"errors"`
	Items   []ImportItem  `json:"items"`
}

const maxDescriptionLen = 200

// ImportTemplates loads every regular, non-hidden file in dir as a template
// named after the file without its extension. Failures are collected per
// file; the import continues past them.
func ImportTemplates(ctx context.Context, store TemplateStore, dir string, opts ImportOptions) ImportResult {
	res := ImportResult{Errors: []ImportError{}, Items: []ImportItem{}}
	createdBy := opts.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		res.Errors = append(res.Errors, ImportError{File: dir, Error: err.Error()})
		return res
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ImportError{File: dir, Error: ctx.Err().Error()})
			return res
		}
		res.Scanned++

		path := filepath.Join(dir, e.Name())
		item, err := importFile(ctx, store, path, opts.Overwrite, createdBy)
		if err != nil {
			res.Errors = append(res.Errors, ImportError{File: path, Error: err.Error()})
			res.Items = append(res.Items, ImportItem{Name: e.Name(), Action: ImportFailed})
			continue
		}
		switch item.Action {
		case ImportCreated:
			res.Created++
		case ImportUpdated:
			res.Updated++
		case ImportSkipped:
			res.Skipped++
		}
		res.Items = append(res.Items, item)
	}
	return res
}

func importFile(ctx context.Context, store TemplateStore, path string, overwrite bool, createdBy string) (ImportItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImportItem{}, err
	}
	content := string(data)
	name := templateName(filepath.Base(path))

	existing, err := store.GetTemplateByName(ctx, name)
	switch {
	case err == nil:
		if !overwrite {
			return ImportItem{Name: name, Action: ImportSkipped, ID: existing.ID}, nil
		}
		if _, err := store.UpdateTemplate(ctx, existing.ID, TemplateUpdate{
			Content:   &content,
			Changelog: "imported from " + filepath.Base(path),
			UpdatedBy: createdBy,
		}); err != nil {
			return ImportItem{}, err
		}
		return ImportItem{Name: name, Action: ImportUpdated, ID: existing.ID}, nil
	case !errors.Is(err, ErrNotFound):
		return ImportItem{}, err
	}

	t, err := store.CreateTemplate(ctx, name, describe(content), content, createdBy)
	if err != nil {
		return ImportItem{}, err
	}
	return ImportItem{Name: name, Action: ImportCreated, ID: t.ID}, nil
}

// templateName strips the last extension. Names without one are kept.
func templateName(base string) string {
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

// describe returns the first non-blank line when it is short enough.
func describe(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) <= maxDescriptionLen {
			return line
		}
		return ""
	}
	return ""
}
