// Package config provides application settings loaded from an optional
// YAML file and environment variables.
//
// Settings are created via New() or Load() which handle:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds all application configuration.
type Settings struct {
	LLM     LLMConfig
	Compile CompileConfig
	Storage StorageConfig
	Submit  SubmitConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
}

// CompileConfig holds template compilation configuration.
type CompileConfig struct {
	// Env is the deployment environment name substituted for {{ENV}}.
	Env     string
	Budgets Budgets
}

// Budgets caps the serialized length, in characters, of each JSON token.
type Budgets struct {
	Projects        int `yaml:"projects"`
	Components      int `yaml:"components"`
	Threats         int `yaml:"threats"`
	Vulnerabilities int `yaml:"vulnerabilities"`
	Safeguards      int `yaml:"safeguards"`
	Statistics      int `yaml:"statistics"`
}

// DefaultBudgets returns the stock per-token caps.
func DefaultBudgets() Budgets {
	return Budgets{
		Projects:        50_000,
		Components:      150_000,
		Threats:         120_000,
		Vulnerabilities: 120_000,
		Safeguards:      120_000,
		Statistics:      20_000,
	}
}

// StorageConfig holds database configuration.
type StorageConfig struct {
	DatabasePath string
}

// SubmitConfig holds submission configuration.
type SubmitConfig struct {
	// Timeout bounds a whole submit call when run from the CLI.
	Timeout time.Duration
}

// fileConfig mirrors the YAML layout. Zero values fall back to defaults.
type fileConfig struct {
	Env string `yaml:"env"`
	LLM struct {
		Provider    string   `yaml:"provider"`
		Model       string   `yaml:"model"`
		MaxTokens   uint32   `yaml:"max_tokens"`
		Temperature *float64 `yaml:"temperature"`
	} `yaml:"llm"`
	Budgets Budgets `yaml:"budgets"`
	Storage struct {
		DatabasePath string `yaml:"database_path"`
	} `yaml:"storage"`
	Submit struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"submit"`
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string // empty when the provider needs no key
	baseURLEnv   string
	baseURL      string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o-mini", "OPENAI_API_KEY", "", ""},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY", "", ""},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY", "", ""},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY", "", ""},
	"ollama":    {"OLLAMA_MODEL", "llama3:latest", "", "OLLAMA_BASE_URL", "http://localhost:11434/v1"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

const (
	defaultProvider     = "openai"
	defaultEnv          = "development"
	defaultDatabasePath = ".rtg/rtg.db"
	defaultTimeout      = 60 * time.Second
)

// New creates settings from environment variables alone.
// provider may be empty, in which case RTG_PROVIDER or the default is used.
func New(provider string) (Settings, error) {
	return build(fileConfig{}, provider)
}

// Load reads the YAML file at path, then applies environment overrides.
// An empty path behaves like New.
func Load(path, provider string) (Settings, error) {
	var fc fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	return build(fc, provider)
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

func build(fc fileConfig, provider string) (Settings, error) {
	provider = normalizeProvider(firstNonEmpty(provider, os.Getenv("RTG_PROVIDER"), fc.LLM.Provider, defaultProvider))

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", orUint32(fc.LLM.MaxTokens, 1024))
	if err != nil {
		return Settings{}, err
	}

	temperature := 0.7
	if fc.LLM.Temperature != nil {
		temperature = *fc.LLM.Temperature
	}
	temperature, err = getEnvFloat64("LLM_TEMPERATURE", temperature)
	if err != nil {
		return Settings{}, err
	}

	budgets, err := loadBudgets(fc.Budgets)
	if err != nil {
		return Settings{}, err
	}

	timeout := defaultTimeout
	if fc.Submit.Timeout != "" {
		timeout, err = time.ParseDuration(fc.Submit.Timeout)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid submit timeout %q: %w", fc.Submit.Timeout, err)
		}
	}
	timeout, err = getEnvDuration("RTG_SUBMIT_TIMEOUT", timeout)
	if err != nil {
		return Settings{}, err
	}

	model := firstNonEmpty(os.Getenv("RTG_MODEL"), os.Getenv(info.modelEnv), fc.LLM.Model, info.defaultModel)

	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		Compile: CompileConfig{
			Env:     firstNonEmpty(os.Getenv("RTG_ENV"), fc.Env, defaultEnv),
			Budgets: budgets,
		},
		Storage: StorageConfig{
			DatabasePath: firstNonEmpty(os.Getenv("RTG_DB_PATH"), fc.Storage.DatabasePath, defaultDatabasePath),
		},
		Submit: SubmitConfig{
			Timeout: timeout,
		},
	}, nil
}

func loadBudgets(file Budgets) (Budgets, error) {
	def := DefaultBudgets()
	fields := []struct {
		env  string
		file int
		def  int
		dst  *int
	}{
		{"RTG_BUDGET_PROJECTS", file.Projects, def.Projects, &def.Projects},
		{"RTG_BUDGET_COMPONENTS", file.Components, def.Components, &def.Components},
		{"RTG_BUDGET_THREATS", file.Threats, def.Threats, &def.Threats},
		{"RTG_BUDGET_VULNERABILITIES", file.Vulnerabilities, def.Vulnerabilities, &def.Vulnerabilities},
		{"RTG_BUDGET_SAFEGUARDS", file.Safeguards, def.Safeguards, &def.Safeguards},
		{"RTG_BUDGET_STATISTICS", file.Statistics, def.Statistics, &def.Statistics},
	}
	for _, f := range fields {
		fallback := f.def
		if f.file > 0 {
			fallback = f.file
		}
		v, err := getEnvInt(f.env, fallback)
		if err != nil {
			return Budgets{}, err
		}
		if v <= 0 {
			return Budgets{}, fmt.Errorf("invalid value for %s: budget must be positive, got %d", f.env, v)
		}
		*f.dst = v
	}
	return def, nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// NormalizeProvider returns the canonical name for a provider or alias.
func NormalizeProvider(provider string) string {
	return normalizeProvider(provider)
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
// Providers that need no key return an empty string.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}
	if info.apiKeyEnv == "" {
		return "", nil
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// BaseURLFor returns the API base URL override for a provider, if any.
func BaseURLFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}
	if info.baseURLEnv != "" {
		if val := os.Getenv(info.baseURLEnv); val != "" {
			return val, nil
		}
	}
	return info.baseURL, nil
}

// SupportedProviders returns the supported provider names in sorted order.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func orUint32(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
