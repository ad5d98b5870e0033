// Package model provides domain types shared across packages.
package model

import "time"

// Scope narrows dataset fetches to a single project.
// An empty ProjectID means the whole store.
type Scope struct {
	ProjectID string
}

// IsProject reports whether the scope selects a single project.
func (s Scope) IsProject() bool {
	return s.ProjectID != ""
}

// Project is a reporting subject: a system under threat modelling.
type Project struct {
	ID          string         `json:"id" yaml:"id"`
	Key         string         `json:"key,omitempty" yaml:"key"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	SLOTarget   string         `json:"slo_target,omitempty" yaml:"slo_target"`
	Attributes  map[string]any `json:"attributes,omitempty" yaml:"attributes"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
}

// Component is a deployable part of a project.
type Component struct {
	ID          string `json:"id" yaml:"id"`
	ProjectID   string `json:"project_id,omitempty" yaml:"project_id"`
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Threat is a modelled threat against a project or one of its components.
type Threat struct {
	ID          string `json:"id" yaml:"id"`
	ProjectID   string `json:"project_id,omitempty" yaml:"project_id"`
	ComponentID string `json:"component_id,omitempty" yaml:"component_id"`
	Title       string `json:"title" yaml:"title"`
	Severity    string `json:"severity,omitempty" yaml:"severity"`
	Status      string `json:"status,omitempty" yaml:"status"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Vulnerability is a finding recorded against a component.
type Vulnerability struct {
	ID          string    `json:"id" yaml:"id"`
	ComponentID string    `json:"component_id" yaml:"component_id"`
	Title       string    `json:"title" yaml:"title"`
	Severity    string    `json:"severity,omitempty" yaml:"severity"`
	Status      string    `json:"status,omitempty" yaml:"status"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Safeguard is a control mitigating a threat.
type Safeguard struct {
	ID          string `json:"id" yaml:"id"`
	ThreatID    string `json:"threat_id" yaml:"threat_id"`
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type"`
	Status      string `json:"status,omitempty" yaml:"status"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Dataset is a bulk load of reporting records, as read from a fixture file.
type Dataset struct {
	Projects        []Project       `json:"projects" yaml:"projects"`
	Components      []Component     `json:"components" yaml:"components"`
	Threats         []Threat        `json:"threats" yaml:"threats"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities" yaml:"vulnerabilities"`
	Safeguards      []Safeguard     `json:"safeguards" yaml:"safeguards"`
	Incidents       []Incident      `json:"incidents" yaml:"incidents"`
}

// Incident is an operational incident recorded against a project.
type Incident struct {
	ID        string `json:"id" yaml:"id"`
	ProjectID string `json:"project_id" yaml:"project_id"`
	Title     string `json:"title" yaml:"title"`
	Severity  string `json:"severity" yaml:"severity"`
}

// Statistics summarises a compiled dataset.
// Fetchers fill Incidents; the compiler fills the rest.
type Statistics struct {
	Counts                    StatisticsCounts `json:"counts"`
	Truncation                map[string]bool  `json:"truncation"`
	Lengths                   map[string]int   `json:"lengths"`
	VulnerabilitiesBySeverity map[string]int   `json:"vulnerabilities_by_severity"`
	Incidents                 map[string]int   `json:"incidents"`
}

// StatisticsCounts holds dataset sizes before budgeting.
type StatisticsCounts struct {
	Projects        int `json:"projects"`
	Components      int `json:"components"`
	Threats         int `json:"threats"`
	Vulnerabilities int `json:"vulnerabilities"`
	Safeguards      int `json:"safeguards"`
}

// Severity levels, highest first.
const (
	SeverityCritical = "Critical"
	SeverityHigh     = "High"
	SeverityMedium   = "Medium"
	SeverityLow      = "Low"
)

// Severities lists the recognised severity levels, highest first.
var Severities = []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// SeverityRank orders severities: Critical=4 down to Low=1, anything else 0.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
