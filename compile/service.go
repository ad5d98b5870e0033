// Template compilation - turns template text plus filters into a report
// prompt with every dataset token filled in.
//
// Information Hiding:
// - Dataset fetching and fan-out
// - Deterministic ordering of fetched records
// - Replacement map assembly and JSON budgeting
// - Filter-to-token mapping

package compile

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/rtg/config"
	rjson "github.com/richinex/rtg/internal/json"
	"github.com/richinex/rtg/model"
	"github.com/richinex/rtg/token"
)

// TimeLayout is the ISO-8601 UTC layout used for generated timestamps.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Defaults for globals that neither data nor filters supply.
const (
	DefaultAuthor           = "system"
	DefaultCIExample        = "GitHub Actions"
	DefaultResiliencyTarget = "99.9"
)

// Fetcher reads the datasets a template can reference.
// An empty scope means every project in the store.
type Fetcher interface {
	FetchProjects(ctx context.Context, scope model.Scope) ([]model.Project, error)
	FetchComponents(ctx context.Context, scope model.Scope) ([]model.Component, error)
	FetchThreats(ctx context.Context, scope model.Scope) ([]model.Threat, error)
	FetchVulnerabilities(ctx context.Context, scope model.Scope) ([]model.Vulnerability, error)
	FetchSafeguards(ctx context.Context, scope model.Scope) ([]model.Safeguard, error)
	FetchStatistics(ctx context.Context, scope model.Scope) (model.Statistics, error)
}

// Request is a template to compile.
type Request struct {
	Content string
	Filters token.Filters
}

// Meta describes a compilation.
type Meta struct {
	Author      string        `json:"author"`
	GeneratedAt string        `json:"generated_at"`
	Env         string        `json:"env"`
	Filters     token.Filters `json:"filters"`
}

// Result is a compiled template.
type Result struct {
	Content  string          `json:"content"`
	Meta     Meta            `json:"meta"`
	Warnings []token.Warning `json:"warnings"`
}

// Service compiles templates. It holds no per-call state and is safe for
// concurrent use.
type Service struct {
	fetcher Fetcher
	env     string
	budgets config.Budgets
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for {{GENERATED_AT}}.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a compile service reading data through fetcher.
func NewService(fetcher Fetcher, cfg config.CompileConfig, opts ...Option) *Service {
	s := &Service{
		fetcher: fetcher,
		env:     cfg.Env,
		budgets: cfg.Budgets,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	if s.env == "" {
		s.env = "development"
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dataset names, used in errors and statistics keys.
const (
	DatasetProjects        = "projects"
	DatasetComponents      = "components"
	DatasetThreats         = "threats"
	DatasetVulnerabilities = "vulnerabilities"
	DatasetSafeguards      = "safeguards"
	DatasetStatistics      = "statistics"
)

type datasets struct {
	projects        []model.Project
	components      []model.Component
	threats         []model.Threat
	vulnerabilities []model.Vulnerability
	safeguards      []model.Safeguard
	statistics      model.Statistics
}

// fetch reads all datasets concurrently. The first failure cancels the rest.
func (s *Service) fetch(ctx context.Context, scope model.Scope) (datasets, error) {
	var d datasets
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		d.projects, err = s.fetcher.FetchProjects(gctx, scope)
		return unavailable(DatasetProjects, err)
	})
	g.Go(func() (err error) {
		d.components, err = s.fetcher.FetchComponents(gctx, scope)
		return unavailable(DatasetComponents, err)
	})
	g.Go(func() (err error) {
		d.threats, err = s.fetcher.FetchThreats(gctx, scope)
		return unavailable(DatasetThreats, err)
	})
	g.Go(func() (err error) {
		d.vulnerabilities, err = s.fetcher.FetchVulnerabilities(gctx, scope)
		return unavailable(DatasetVulnerabilities, err)
	})
	g.Go(func() (err error) {
		d.safeguards, err = s.fetcher.FetchSafeguards(gctx, scope)
		return unavailable(DatasetSafeguards, err)
	})
	g.Go(func() (err error) {
		d.statistics, err = s.fetcher.FetchStatistics(gctx, scope)
		return unavailable(DatasetStatistics, err)
	})

	if err := g.Wait(); err != nil {
		return datasets{}, err
	}
	return d, nil
}

func unavailable(dataset string, err error) error {
	if err == nil {
		return nil
	}
	return &DataUnavailableError{Dataset: dataset, Err: err}
}

// Compile resolves every token in req.Content.
//
// Warnings list resolver warnings first, then filter and truncation
// warnings. Errors are returned only when a dataset cannot be fetched or
// a token value cannot be encoded.
func (s *Service) Compile(ctx context.Context, req Request) (Result, error) {
	generatedAt := s.now().UTC().Format(TimeLayout)
	scope := model.Scope{ProjectID: req.Filters.Project()}

	d, err := s.fetch(ctx, scope)
	if err != nil {
		s.logger.Warn("dataset fetch failed", zap.String("project", scope.ProjectID), zap.Error(err))
		return Result{}, err
	}

	sortComponents(d.components)
	sortThreats(d.threats)
	sortVulnerabilities(d.vulnerabilities)

	repl := token.ReplacementMap{}
	set := func(name, value string) { repl[token.Key(name)] = value }

	set("GENERATED_AT", generatedAt)
	set("ENV", s.env)
	set("AUTHOR", DefaultAuthor)
	set("CI_EXAMPLE", DefaultCIExample)
	set("PROJECTS_COUNT", strconv.Itoa(len(d.projects)))
	set("PROJECT_NAMES_CSV", projectNames(d.projects))
	set("COMPONENTS_COUNT", strconv.Itoa(len(d.components)))
	set("COMPONENT_TABLE", componentTable(d.components))
	set("THREAT_MODEL_TABLE", threatTable(d.threats))
	set("VULNERABILITY_TABLE", vulnerabilityTable(d.vulnerabilities))

	selected := selectProject(d.projects, scope)
	set("PROJECT_KEY", projectKey(selected))
	set("RESILIENCY_TARGET", resiliencyTarget(selected))
	projectJSON := "{}"
	if selected != nil {
		b, err := json.Marshal(selected)
		if err != nil {
			return Result{}, &SerializationError{Token: token.Key("PROJECT_JSON"), Err: err}
		}
		projectJSON = string(b)
	}
	set("PROJECT_JSON", projectJSON)

	filterWarnings := applyFilters(repl, req.Filters)

	budgetWarnings, err := s.encodeDatasets(repl, d)
	if err != nil {
		return Result{}, err
	}

	known := token.NewKnownSet()
	for _, name := range token.FormatterNames() {
		known.Add(token.Key(name))
	}
	for k := range repl {
		known.Add(k)
	}

	res := token.Resolve(req.Content, req.Filters, repl, known)

	warnings := res.Warnings
	warnings = append(warnings, filterWarnings...)
	warnings = append(warnings, budgetWarnings...)

	meta := Meta{
		Author:      repl[token.Key("AUTHOR")],
		GeneratedAt: generatedAt,
		Env:         repl[token.Key("ENV")],
		Filters:     token.Filters{},
	}
	maps.Copy(meta.Filters, req.Filters)

	s.logger.Debug("template compiled",
		zap.String("project", scope.ProjectID),
		zap.Int("tokens", len(repl)),
		zap.Int("warnings", len(warnings)))

	return Result{Content: res.Content, Meta: meta, Warnings: warnings}, nil
}

// encodeDatasets adds the budgeted JSON tokens to repl and enriches the
// statistics with counts, truncation flags and lengths.
func (s *Service) encodeDatasets(repl token.ReplacementMap, d datasets) ([]token.Warning, error) {
	var warnings []token.Warning
	stats := d.statistics
	stats.Truncation = map[string]bool{}
	stats.Lengths = map[string]int{}

	add := func(name, dataset string, budget int, enc rjson.Encoded) {
		repl[token.Key(name)] = enc.Text
		stats.Truncation[dataset+"_truncated"] = enc.Truncated
		stats.Lengths[dataset+"_len"] = enc.Length
		if enc.Truncated {
			warnings = append(warnings, truncated(name, budget, enc))
		}
	}

	encodings := []struct {
		name, dataset string
		budget        int
		encode        func(int) (rjson.Encoded, error)
	}{
		{"PROJECTS_JSON", DatasetProjects, s.budgets.Projects,
			func(b int) (rjson.Encoded, error) { return rjson.MarshalSlice(d.projects, b) }},
		{"COMPONENTS_JSON", DatasetComponents, s.budgets.Components,
			func(b int) (rjson.Encoded, error) { return rjson.MarshalSlice(d.components, b) }},
		{"THREATS_JSON", DatasetThreats, s.budgets.Threats,
			func(b int) (rjson.Encoded, error) { return rjson.MarshalSlice(d.threats, b) }},
		{"VULNERABILITIES_JSON", DatasetVulnerabilities, s.budgets.Vulnerabilities,
			func(b int) (rjson.Encoded, error) { return rjson.MarshalSlice(d.vulnerabilities, b) }},
		{"THREAT_SAFEGUARDS_JSON", DatasetSafeguards, s.budgets.Safeguards,
			func(b int) (rjson.Encoded, error) { return rjson.MarshalSlice(d.safeguards, b) }},
	}
	for _, e := range encodings {
		enc, err := e.encode(e.budget)
		if err != nil {
			return nil, &SerializationError{Token: token.Key(e.name), Err: err}
		}
		add(e.name, e.dataset, e.budget, enc)
	}

	stats.Counts = model.StatisticsCounts{
		Projects:        len(d.projects),
		Components:      len(d.components),
		Threats:         len(d.threats),
		Vulnerabilities: len(d.vulnerabilities),
		Safeguards:      len(d.safeguards),
	}
	stats.VulnerabilitiesBySeverity = make(map[string]int, len(model.Severities))
	for _, sev := range model.Severities {
		stats.VulnerabilitiesBySeverity[sev] = 0
	}
	for _, v := range d.vulnerabilities {
		if _, ok := stats.VulnerabilitiesBySeverity[v.Severity]; ok {
			stats.VulnerabilitiesBySeverity[v.Severity]++
		}
	}
	if stats.Incidents == nil {
		stats.Incidents = map[string]int{model.SeverityHigh: 0, model.SeverityMedium: 0, model.SeverityLow: 0}
	}

	enc, err := rjson.MarshalObject(stats, s.budgets.Statistics, DatasetStatistics)
	if err != nil {
		return nil, &SerializationError{Token: token.Key("STATISTICS_JSON"), Err: err}
	}
	repl[token.Key("STATISTICS_JSON")] = enc.Text
	if enc.Truncated {
		warnings = append(warnings, truncated("STATISTICS_JSON", s.budgets.Statistics, enc))
	}
	return warnings, nil
}

func truncated(name string, budget int, enc rjson.Encoded) token.Warning {
	key := token.Key(name)
	details := map[string]string{
		"length": strconv.Itoa(enc.Length),
		"budget": strconv.Itoa(budget),
	}
	msg := fmt.Sprintf("%s exceeded its budget (%d > %d characters)", key, enc.Length, budget)
	if enc.Count > 0 {
		details["kept"] = strconv.Itoa(enc.Kept)
		details["total"] = strconv.Itoa(enc.Count)
		msg = fmt.Sprintf("%s kept %d of %d items (%d > %d characters)", key, enc.Kept, enc.Count, enc.Length, budget)
	}
	return token.Warning{Code: token.CodeBudgetTruncated, Token: key, Message: msg, Details: details}
}

// filterKind says how a filter value is validated.
type filterKind int

const (
	filterText filterKind = iota
	filterJSONArray
	filterJSONObject
)

// filterTokens maps filter keys to the tokens they override, in the order
// they are applied.
var filterTokens = []struct {
	filter string
	token  string
	kind   filterKind
}{
	{"author", "AUTHOR", filterText},
	{"ci_example", "CI_EXAMPLE", filterText},
	{"env", "ENV", filterText},
	{"project_key", "PROJECT_KEY", filterText},
	{"resiliency_target", "RESILIENCY_TARGET", filterText},
	{"pipeline_steps", "PIPELINE_STEPS_JSON", filterJSONArray},
	{"tags", "TERRAFORM_TAGS_JSON", filterJSONObject},
	{"aws_accounts", "AWS_ACCOUNTS_JSON", filterJSONArray},
}

func emptyCollection(kind filterKind) string {
	if kind == filterJSONObject {
		return "{}"
	}
	return "[]"
}

// applyFilters overwrites globals with filter values. JSON-valued tokens
// always receive a value: the filter when it is valid JSON, otherwise the
// empty collection.
func applyFilters(repl token.ReplacementMap, filters token.Filters) []token.Warning {
	var warnings []token.Warning
	for _, f := range filterTokens {
		key := token.Key(f.token)
		if f.kind != filterText {
			repl[key] = emptyCollection(f.kind)
		}

		val := strings.TrimSpace(filters[f.filter])
		if val == "" {
			continue
		}
		if f.kind != filterText && !rjson.Valid(val) {
			warnings = append(warnings, token.Warning{
				Code:    token.CodeInvalidFilter,
				Token:   key,
				Message: fmt.Sprintf("Filter %q is not valid JSON; %s set to %s", f.filter, key, repl[key]),
				Details: map[string]string{"filter": f.filter},
			})
			continue
		}
		repl[key] = val
	}
	return warnings
}

// selectProject returns the scoped project, or the first project when the
// scope names none or the scoped project is missing.
func selectProject(projects []model.Project, scope model.Scope) *model.Project {
	if scope.IsProject() {
		for i := range projects {
			if projects[i].ID == scope.ProjectID {
				return &projects[i]
			}
		}
	}
	if len(projects) == 0 {
		return nil
	}
	return &projects[0]
}

func projectKey(p *model.Project) string {
	if p == nil {
		return ""
	}
	if p.Key != "" {
		return p.Key
	}
	return slugify(p.Name)
}

func resiliencyTarget(p *model.Project) string {
	if p == nil || p.SLOTarget == "" {
		return DefaultResiliencyTarget
	}
	return p.SLOTarget
}

func projectNames(projects []model.Project) string {
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}
