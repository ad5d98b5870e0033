// Command execution for CLI commands.
//
// Information Hiding:
// - Settings, storage and service wiring hidden
// - Template source resolution (file, stdin, stored template) hidden
// - Output formatting hidden

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/richinex/rtg/compile"
	"github.com/richinex/rtg/config"
	"github.com/richinex/rtg/llm"
	"github.com/richinex/rtg/model"
	"github.com/richinex/rtg/storage"
	"github.com/richinex/rtg/submit"
	"github.com/richinex/rtg/token"
)

// Options holds CLI execution options shared by every command.
type Options struct {
	ConfigPath string
	Provider   string
	DBPath     string
	Logger     *zap.Logger
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		Logger: zap.NewNop(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	if o.Stdin == nil {
		o.Stdin = d.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = d.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = d.Stderr
	}
	return o
}

// app is the wiring for one command invocation.
type app struct {
	opts     Options
	settings config.Settings
	store    *storage.SqliteStore
	compiler *compile.Service
	logger   *zap.Logger
}

func open(opts Options) (*app, error) {
	opts = opts.withDefaults()

	settings, err := config.Load(opts.ConfigPath, opts.Provider)
	if err != nil {
		return nil, err
	}
	dbPath := settings.Storage.DatabasePath
	if opts.DBPath != "" {
		dbPath = opts.DBPath
	}

	store, err := storage.OpenSqlite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	opts.Logger.Debug("opened database", zap.String("path", dbPath))

	return &app{
		opts:     opts,
		settings: settings,
		store:    store,
		compiler: compile.NewService(store, settings.Compile, compile.WithLogger(opts.Logger)),
		logger:   opts.Logger,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
}

// TemplateSource selects where template text comes from. A stored
// template wins over a file; with neither, stdin is read.
type TemplateSource struct {
	File            string
	TemplateID      string
	TemplateVersion int
}

// loaded is template text plus the stored template it came from, if any.
type loaded struct {
	content    string
	templateID string
	version    int
}

func (a *app) loadTemplate(ctx context.Context, src TemplateSource) (loaded, error) {
	switch {
	case src.TemplateID != "":
		t, err := a.findTemplate(ctx, src.TemplateID)
		if err != nil {
			return loaded{}, err
		}
		if src.TemplateVersion > 0 {
			v, err := a.store.GetVersion(ctx, t.ID, src.TemplateVersion)
			if err != nil {
				return loaded{}, err
			}
			return loaded{content: v.Content, templateID: t.ID, version: v.Version}, nil
		}
		return loaded{content: t.Content, templateID: t.ID, version: t.Version}, nil
	case src.File != "" && src.File != "-":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return loaded{}, fmt.Errorf("failed to read template: %w", err)
		}
		return loaded{content: string(data)}, nil
	default:
		data, err := io.ReadAll(a.opts.Stdin)
		if err != nil {
			return loaded{}, fmt.Errorf("failed to read template from stdin: %w", err)
		}
		return loaded{content: string(data)}, nil
	}
}

// findTemplate looks a template up by ID, then by name.
func (a *app) findTemplate(ctx context.Context, ref string) (storage.Template, error) {
	t, err := a.store.GetTemplate(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return a.store.GetTemplateByName(ctx, ref)
	}
	return t, err
}

// CompileOptions holds options for the compile command.
type CompileOptions struct {
	TemplateSource
	Filters []string
	JSON    bool
	Watch   bool
}

// Compile compiles a template and prints the result. With Watch set it
// recompiles whenever the template file changes, until ctx is done.
func Compile(ctx context.Context, copts CompileOptions, opts Options) error {
	filters, err := ParseFilters(copts.Filters)
	if err != nil {
		return err
	}
	if copts.Watch && (copts.File == "" || copts.File == "-" || copts.TemplateID != "") {
		return fmt.Errorf("--watch requires a template file")
	}

	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	run := func() error {
		tmpl, err := a.loadTemplate(ctx, copts.TemplateSource)
		if err != nil {
			return err
		}
		res, err := a.compiler.Compile(ctx, compile.Request{Content: tmpl.content, Filters: filters})
		if err != nil {
			return err
		}
		if copts.JSON {
			return writeJSON(a.opts.Stdout, res)
		}
		fmt.Fprintln(a.opts.Stdout, res.Content)
		printWarnings(a.opts.Stderr, res.Warnings)
		return nil
	}

	if err := run(); err != nil {
		return err
	}
	if !copts.Watch {
		return nil
	}

	fmt.Fprintf(a.opts.Stderr, "watching %s for changes (ctrl-c to stop)\n", copts.File)
	return watchFile(ctx, copts.File, a.logger, func() {
		fmt.Fprintf(a.opts.Stderr, "\n--- %s changed, recompiling ---\n", copts.File)
		if err := run(); err != nil {
			fmt.Fprintf(a.opts.Stderr, "%s %v\n", warnLabel.Sprint("error:"), err)
		}
	})
}

// SubmitOptions holds options for the submit command.
type SubmitOptions struct {
	TemplateSource
	Filters  []string
	Provider string
	Model    string
	Save     bool
	Render   bool
	JSON     bool
}

// Submit compiles a template, sends its prompt to the LLM and prints the
// generated report. With Save set the report is also stored.
func Submit(ctx context.Context, sopts SubmitOptions, opts Options) error {
	filters, err := ParseFilters(sopts.Filters)
	if err != nil {
		return err
	}

	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.submit(ctx, sopts, filters, llm.NewRouter(
		llm.WithMaxTokens(a.settings.LLM.MaxTokens),
		llm.WithTemperature(float32(a.settings.LLM.Temperature)),
		llm.WithLogger(a.logger),
	))
}

func (a *app) submit(ctx context.Context, sopts SubmitOptions, filters token.Filters, completer submit.Completer) error {
	tmpl, err := a.loadTemplate(ctx, sopts.TemplateSource)
	if err != nil {
		return err
	}

	if a.settings.Submit.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.settings.Submit.Timeout)
		defer cancel()
	}

	svc := submit.NewService(a.compiler, completer, a.settings.LLM, submit.WithLogger(a.logger))
	res, err := svc.Submit(ctx, submit.Request{
		Content:  tmpl.content,
		Filters:  filters,
		Provider: sopts.Provider,
		Model:    sopts.Model,
	})
	if err != nil {
		return err
	}

	if sopts.JSON {
		if err := writeJSON(a.opts.Stdout, res); err != nil {
			return err
		}
	} else {
		out := res.Output
		if sopts.Render {
			out = renderMarkdown(out)
		}
		fmt.Fprintln(a.opts.Stdout, out)
		printWarnings(a.opts.Stderr, res.Warnings)
	}

	if !sopts.Save {
		return nil
	}

	templateID, version := tmpl.templateID, tmpl.version
	if sopts.TemplateID == "" && sopts.TemplateVersion > 0 {
		version = sopts.TemplateVersion
	}
	author := filters["author"]
	if author == "" {
		author = compile.DefaultAuthor
	}
	saved, err := a.store.SaveReport(ctx, storage.GeneratedReport{
		TemplateID:      templateID,
		TemplateVersion: version,
		ProjectID:       filters.Project(),
		Provider:        res.Meta.Provider,
		Model:           res.Meta.Model,
		Output:          res.Output,
		CreatedBy:       author,
	})
	if err != nil {
		return fmt.Errorf("report generated but not saved: %w", err)
	}
	fmt.Fprintf(a.opts.Stderr, "%s report %s\n", okLabel.Sprint("saved"), saved.ID)
	return nil
}

// ImportTemplates loads every template file in dir into the store.
func ImportTemplates(ctx context.Context, dir string, overwrite bool, opts Options) error {
	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res := storage.ImportTemplates(ctx, a.store, dir, storage.ImportOptions{Overwrite: overwrite})
	for _, item := range res.Items {
		fmt.Fprintf(a.opts.Stdout, "%-8s %s\n", item.Action, item.Name)
	}
	fmt.Fprintf(a.opts.Stdout, "scanned %d: %d created, %d updated, %d skipped\n",
		res.Scanned, res.Created, res.Updated, res.Skipped)
	for _, e := range res.Errors {
		fmt.Fprintf(a.opts.Stderr, "%s %s: %s\n", warnLabel.Sprint("error:"), e.File, e.Error)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%d template file(s) failed to import", len(res.Errors))
	}
	return nil
}

// ListTemplates prints stored templates.
func ListTemplates(ctx context.Context, lopts storage.ListOptions, asJSON bool, opts Options) error {
	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := a.store.ListTemplates(ctx, lopts)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(a.opts.Stdout, page)
	}

	tw := tabwriter.NewWriter(a.opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tUPDATED")
	for _, t := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, t.Name, t.Version, t.UpdatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.opts.Stdout, "%d of %d\n", len(page.Items), page.Total)
	return nil
}

// ShowTemplate prints one template by ID or name, optionally at a version.
func ShowTemplate(ctx context.Context, ref string, version int, asJSON bool, opts Options) error {
	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.findTemplate(ctx, ref)
	if err != nil {
		return err
	}
	if version > 0 {
		v, err := a.store.GetVersion(ctx, t.ID, version)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(a.opts.Stdout, v)
		}
		fmt.Fprintln(a.opts.Stdout, v.Content)
		return nil
	}
	if asJSON {
		return writeJSON(a.opts.Stdout, t)
	}
	fmt.Fprintln(a.opts.Stdout, t.Content)
	return nil
}

// ListVersions prints the version history of a template.
func ListVersions(ctx context.Context, ref string, lopts storage.ListOptions, opts Options) error {
	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.findTemplate(ctx, ref)
	if err != nil {
		return err
	}
	page, err := a.store.ListVersions(ctx, t.ID, lopts)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCREATED\tBY\tCHANGELOG")
	for _, v := range page.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.Version, v.CreatedAt.Format(time.RFC3339), v.CreatedBy, v.Changelog)
	}
	return tw.Flush()
}

// DeleteTemplate removes a template and its history.
func DeleteTemplate(ctx context.Context, ref string, opts Options) error {
	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.findTemplate(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := a.store.DeleteTemplate(ctx, t.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.opts.Stdout, "deleted %s (%s)\n", t.Name, t.ID)
	return nil
}

// ListReports prints stored reports, newest first.
func ListReports(ctx context.Context, templateID, projectID string, lopts storage.ListOptions, asJSON bool, opts Options) error {
	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := a.store.ListReports(ctx, templateID, projectID, lopts)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(a.opts.Stdout, page)
	}

	tw := tabwriter.NewWriter(a.opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tPROVIDER\tMODEL\tPROJECT\tTEMPLATE")
	for _, r := range page.Items {
		tmpl := r.TemplateID
		if tmpl != "" && r.TemplateVersion > 0 {
			tmpl = fmt.Sprintf("%s@%d", tmpl, r.TemplateVersion)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.Provider, r.Model, r.ProjectID, tmpl)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.opts.Stdout, "%d of %d\n", len(page.Items), page.Total)
	return nil
}

// ShowReport prints one stored report.
func ShowReport(ctx context.Context, id string, render, asJSON bool, opts Options) error {
	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.store.GetReport(ctx, id)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(a.opts.Stdout, r)
	}
	out := r.Output
	if render {
		out = renderMarkdown(out)
	}
	fmt.Fprintln(a.opts.Stdout, out)
	return nil
}

// LoadData imports a YAML dataset file (projects, components, threats,
// vulnerabilities, safeguards, incidents) into the store.
func LoadData(ctx context.Context, file string, opts Options) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read dataset: %w", err)
	}
	var d model.Dataset
	if err := yaml.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("failed to parse dataset %s: %w", file, err)
	}

	a, err := open(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.ImportDataset(ctx, d); err != nil {
		return err
	}
	fmt.Fprintf(a.opts.Stdout, "loaded %d projects, %d components, %d threats, %d vulnerabilities, %d safeguards, %d incidents\n",
		len(d.Projects), len(d.Components), len(d.Threats), len(d.Vulnerabilities), len(d.Safeguards), len(d.Incidents))
	return nil
}
