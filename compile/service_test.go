package compile

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/rtg/config"
	"github.com/richinex/rtg/model"
	"github.com/richinex/rtg/token"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeFetcher struct {
	projects        []model.Project
	components      []model.Component
	threats         []model.Threat
	vulnerabilities []model.Vulnerability
	safeguards      []model.Safeguard
	statistics      model.Statistics
	errs            map[string]error

	mu     sync.Mutex
	scopes []model.Scope
}

func (f *fakeFetcher) record(ctx context.Context, dataset string, scope model.Scope) error {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.errs[dataset]
}

func (f *fakeFetcher) FetchProjects(ctx context.Context, s model.Scope) ([]model.Project, error) {
	return append([]model.Project(nil), f.projects...), f.record(ctx, DatasetProjects, s)
}

func (f *fakeFetcher) FetchComponents(ctx context.Context, s model.Scope) ([]model.Component, error) {
	return append([]model.Component(nil), f.components...), f.record(ctx, DatasetComponents, s)
}

func (f *fakeFetcher) FetchThreats(ctx context.Context, s model.Scope) ([]model.Threat, error) {
	return append([]model.Threat(nil), f.threats...), f.record(ctx, DatasetThreats, s)
}

func (f *fakeFetcher) FetchVulnerabilities(ctx context.Context, s model.Scope) ([]model.Vulnerability, error) {
	return append([]model.Vulnerability(nil), f.vulnerabilities...), f.record(ctx, DatasetVulnerabilities, s)
}

func (f *fakeFetcher) FetchSafeguards(ctx context.Context, s model.Scope) ([]model.Safeguard, error) {
	return append([]model.Safeguard(nil), f.safeguards...), f.record(ctx, DatasetSafeguards, s)
}

func (f *fakeFetcher) FetchStatistics(ctx context.Context, s model.Scope) (model.Statistics, error) {
	return f.statistics, f.record(ctx, DatasetStatistics, s)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleFetcher() *fakeFetcher {
	return &fakeFetcher{
		projects: []model.Project{
			{ID: "p1", Key: "PAY", Name: "Payments", SLOTarget: "99.95", CreatedAt: fixedNow},
			{ID: "p2", Name: "Customer Portal!", CreatedAt: fixedNow},
		},
		components: []model.Component{
			{ID: "c2", ProjectID: "p1", Name: "ledger", Type: "service"},
			{ID: "c1", ProjectID: "p1", Name: "api", Type: "gateway"},
		},
		threats: []model.Threat{
			{ID: "t1", Title: "Replay", Severity: "Low"},
			{ID: "t2", Title: "Spoofing", Severity: "Critical"},
			{ID: "t3", Title: "Injection", Severity: "Critical"},
			{ID: "t4", Title: "Odd", Severity: "Unrated"},
		},
		vulnerabilities: []model.Vulnerability{
			{ID: "v1", Title: "old high", Severity: "High", CreatedAt: fixedNow.Add(-48 * time.Hour)},
			{ID: "v2", Title: "new high", Severity: "High", CreatedAt: fixedNow},
			{ID: "v3", Title: "critical", Severity: "Critical", CreatedAt: fixedNow},
		},
		safeguards: []model.Safeguard{
			{ID: "s1", ThreatID: "t2", Name: "mTLS"},
		},
		statistics: model.Statistics{Incidents: map[string]int{"High": 2, "Medium": 0, "Low": 1}},
	}
}

func newTestService(f Fetcher, budgets config.Budgets) *Service {
	return NewService(f, config.CompileConfig{Env: "staging", Budgets: budgets}, WithClock(func() time.Time { return fixedNow }))
}

func TestCompileGlobals(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{
		Content: "{{GENERATED_AT}} {{ENV}} {{AUTHOR}} {{CI_EXAMPLE}} {{PROJECT_KEY}} {{RESILIENCY_TARGET}} {{PROJECTS_COUNT}} {{COMPONENTS_COUNT}} {{PROJECT_NAMES_CSV}}",
	})

	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T12:00:00.000Z staging system GitHub Actions PAY 99.95 2 2 Payments, Customer Portal!", res.Content)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, Meta{Author: "system", GeneratedAt: "2024-05-01T12:00:00.000Z", Env: "staging", Filters: token.Filters{}}, res.Meta)
}

func TestCompileFilterPropagation(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{
		Content: "Author: {{AUTHOR}} in {{ENV}} via {{CI_EXAMPLE}}",
		Filters: token.Filters{"author": "tester", "env": "prod", "ci_example": "Jenkins", "team": "sre"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Author: tester in prod via Jenkins", res.Content)
	assert.Equal(t, "tester", res.Meta.Author)
	assert.Equal(t, "prod", res.Meta.Env)
	assert.Equal(t, "sre", res.Meta.Filters["team"])
	assert.Empty(t, res.Warnings)
}

func TestCompileEmptyFilterValueIgnored(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{
		Content: "{{AUTHOR}}",
		Filters: token.Filters{"author": "  "},
	})

	require.NoError(t, err)
	assert.Equal(t, "system", res.Content)
}

func TestCompileProjectScope(t *testing.T) {
	f := sampleFetcher()
	svc := newTestService(f, config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{
		Content: "{{PROJECT_KEY}} {{RESILIENCY_TARGET}} {{NOPE}}",
		Filters: token.Filters{"projectId": "p2"},
	})

	require.NoError(t, err)
	assert.Equal(t, "customer-portal 99.9 {{NOPE}}", res.Content)
	require.Len(t, f.scopes, 6)
	for _, s := range f.scopes {
		assert.Equal(t, model.Scope{ProjectID: "p2"}, s)
	}
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, token.CodeUnknownToken, res.Warnings[0].Code)
	assert.Equal(t, "p2", res.Warnings[0].Details["project"])
}

func TestCompileProjectJSON(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{
		Content: "{{PROJECT_JSON}}",
		Filters: token.Filters{"project_id": "p1"},
	})

	require.NoError(t, err)
	var p model.Project
	require.NoError(t, json.Unmarshal([]byte(res.Content), &p))
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "PAY", p.Key)
}

func TestCompileEmptyStore(t *testing.T) {
	svc := newTestService(&fakeFetcher{}, config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{
		Content: "[{{PROJECT_JSON}}][{{COMPONENT_TABLE}}][{{COMPONENTS_JSON}}][{{PROJECT_KEY}}][{{RESILIENCY_TARGET}}]",
	})

	require.NoError(t, err)
	assert.Equal(t, "[{}][][[]][][99.9]", res.Content)
	assert.Empty(t, res.Warnings)
}

func TestCompileTablesAreSorted(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{
		Content: "{{COMPONENT_TABLE}}\n\n{{THREAT_MODEL_TABLE}}\n\n{{VULNERABILITY_TABLE}}",
	})

	require.NoError(t, err)
	want := strings.Join([]string{
		"| Name | Type |",
		"| --- | --- |",
		"| api | gateway |",
		"| ledger | service |",
		"",
		"| Title | Severity |",
		"| --- | --- |",
		"| Injection | Critical |",
		"| Spoofing | Critical |",
		"| Replay | Low |",
		"| Odd | Unrated |",
		"",
		"| Title | Severity |",
		"| --- | --- |",
		"| critical | Critical |",
		"| new high | High |",
		"| old high | High |",
	}, "\n")
	if diff := cmp.Diff(want, res.Content); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileJSONTokensStayValidUnderTruncation(t *testing.T) {
	f := sampleFetcher()
	for i := 0; i < 50; i++ {
		f.components = append(f.components, model.Component{ID: "cx", Name: "component with a long descriptive name", Type: "service"})
	}
	budgets := config.Budgets{Projects: 80, Components: 200, Threats: 60, Vulnerabilities: 90, Safeguards: 5, Statistics: 30}
	svc := newTestService(f, budgets)

	names := []string{"PROJECTS_JSON", "COMPONENTS_JSON", "THREATS_JSON", "VULNERABILITIES_JSON", "THREAT_SAFEGUARDS_JSON", "STATISTICS_JSON"}
	var content []string
	for _, n := range names {
		content = append(content, token.Key(n))
	}

	res, err := svc.Compile(context.Background(), Request{Content: strings.Join(content, "\n")})
	require.NoError(t, err)

	lines := strings.Split(res.Content, "\n")
	require.Len(t, lines, len(names))
	for i, line := range lines {
		assert.True(t, json.Valid([]byte(line)), "%s is not valid JSON: %s", names[i], line)
	}
	assert.LessOrEqual(t, len([]rune(lines[1])), 200)
	assert.Equal(t, "[]", lines[4])

	var marker map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[5]), &marker))
	assert.Equal(t, true, marker["truncated"])

	var truncatedTokens []string
	for _, w := range res.Warnings {
		if w.Code == token.CodeBudgetTruncated {
			truncatedTokens = append(truncatedTokens, w.Token)
		}
	}
	assert.Equal(t, []string{"{{PROJECTS_JSON}}", "{{COMPONENTS_JSON}}", "{{THREATS_JSON}}", "{{VULNERABILITIES_JSON}}", "{{THREAT_SAFEGUARDS_JSON}}", "{{STATISTICS_JSON}}"}, truncatedTokens)
}

func TestCompileStatisticsEnrichment(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{Content: "{{STATISTICS_JSON}}"})
	require.NoError(t, err)

	var stats model.Statistics
	require.NoError(t, json.Unmarshal([]byte(res.Content), &stats))
	assert.Equal(t, model.StatisticsCounts{Projects: 2, Components: 2, Threats: 4, Vulnerabilities: 3, Safeguards: 1}, stats.Counts)
	assert.Equal(t, map[string]int{"Critical": 1, "High": 2, "Medium": 0, "Low": 0}, stats.VulnerabilitiesBySeverity)
	assert.Equal(t, map[string]int{"High": 2, "Medium": 0, "Low": 1}, stats.Incidents)
	assert.False(t, stats.Truncation["components_truncated"])
	assert.Positive(t, stats.Lengths["components_len"])
}

func TestCompileJSONFilters(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{
		Content: "{{PIPELINE_STEPS_JSON}}|{{TERRAFORM_TAGS_JSON}}|{{AWS_ACCOUNTS_JSON}}",
		Filters: token.Filters{"pipeline_steps": `["build","deploy"]`, "tags": "{not json"},
	})

	require.NoError(t, err)
	assert.Equal(t, `["build","deploy"]|{}|[]`, res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, token.CodeInvalidFilter, res.Warnings[0].Code)
	assert.Equal(t, "{{TERRAFORM_TAGS_JSON}}", res.Warnings[0].Token)
}

func TestCompileWarningOrder(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.Budgets{Projects: 3, Components: 1000, Threats: 1000, Vulnerabilities: 1000, Safeguards: 1000, Statistics: 1000})

	res, err := svc.Compile(context.Background(), Request{
		Content: "{{MISSING}}",
		Filters: token.Filters{"aws_accounts": "["},
	})

	require.NoError(t, err)
	var codes []token.WarningCode
	for _, w := range res.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []token.WarningCode{token.CodeUnknownToken, token.CodeInvalidFilter, token.CodeBudgetTruncated}, codes)
}

func TestCompileSeverityBadgeIsKnown(t *testing.T) {
	svc := newTestService(sampleFetcher(), config.DefaultBudgets())

	res, err := svc.Compile(context.Background(), Request{Content: "{{SEVERITY_BADGE:High}} {{ SEVERITY_BADGE }}"})

	require.NoError(t, err)
	assert.Equal(t, "[High] {{ SEVERITY_BADGE }}", res.Content)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, token.CodeUnresolvedToken, res.Warnings[0].Code)
}

func TestCompileIsDeterministic(t *testing.T) {
	req := Request{
		Content: "{{COMPONENTS_JSON}} {{THREAT_MODEL_TABLE}} {{STATISTICS_JSON}} {{X}}",
		Filters: token.Filters{"author": "a"},
	}
	first, err := newTestService(sampleFetcher(), config.DefaultBudgets()).Compile(context.Background(), req)
	require.NoError(t, err)
	second, err := newTestService(sampleFetcher(), config.DefaultBudgets()).Compile(context.Background(), req)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("compile not deterministic (-first +second):\n%s", diff)
	}
}

func TestCompileDataUnavailable(t *testing.T) {
	boom := errors.New("connection refused")
	f := sampleFetcher()
	f.errs = map[string]error{DatasetThreats: boom}

	_, err := newTestService(f, config.DefaultBudgets()).Compile(context.Background(), Request{Content: "x"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.ErrorIs(t, err, boom)
	var due *DataUnavailableError
	require.ErrorAs(t, err, &due)
	assert.Equal(t, DatasetThreats, due.Dataset)
}

func TestCompileCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestService(sampleFetcher(), config.DefaultBudgets()).Compile(ctx, Request{Content: "x"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestCompileSerializationError(t *testing.T) {
	f := sampleFetcher()
	f.projects[0].Attributes = map[string]any{"score": math.NaN()}

	_, err := newTestService(f, config.DefaultBudgets()).Compile(context.Background(), Request{Content: "{{PROJECT_JSON}}"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSerialization)
	var se *SerializationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "{{PROJECT_JSON}}", se.Token)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Customer Portal!":    "customer-portal",
		"  --Already--slug--": "already-slug",
		"":                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, slugify(in), in)
	}

	long := slugify(strings.Repeat("ab ", 40))
	assert.Len(t, long, 64)
	assert.Equal(t, strings.Repeat("ab-", 21)+"a", long)
}
