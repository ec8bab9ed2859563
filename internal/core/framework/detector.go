// Package framework chooses install and run commands for a cloned project
// from its package manifest.
//
// Rules are evaluated in a fixed order and the first match wins. Projects
// that match no rule get the generic npm pair.
package framework

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/R1ck404/mercel/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// ManifestFile is read from the clone root.
const ManifestFile = "package.json"

// =============================================================================
// Manifest
// =============================================================================

// Manifest is the subset of package.json the detector looks at.
type Manifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

// ParseManifest decodes raw package.json text.
func ParseManifest(raw string) (*Manifest, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty manifest", domain.ErrManifestParse)
	}
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrManifestParse, err)
	}
	return &m, nil
}

// HasDependency reports whether name is declared in dependencies or
// devDependencies.
func (m *Manifest) HasDependency(name string) bool {
	if m == nil {
		return false
	}
	for dep := range m.Dependencies {
		if strings.EqualFold(dep, name) {
			return true
		}
	}
	for dep := range m.DevDependencies {
		if strings.EqualFold(dep, name) {
			return true
		}
	}
	return false
}

// =============================================================================
// Rules
// =============================================================================

// Rule maps a manifest predicate to an install command and a run script.
type Rule struct {
	Name    string
	Match   func(*Manifest) bool
	Install string
	Run     string
}

func dependsOn(names ...string) func(*Manifest) bool {
	return func(m *Manifest) bool {
		for _, n := range names {
			if m.HasDependency(n) {
				return true
			}
		}
		return false
	}
}

// DefaultRules is the built-in table. next is checked before react because
// every next project also depends on react.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "next", Match: dependsOn("next"), Install: "npm install", Run: "npm run dev"},
		{Name: "svelte", Match: dependsOn("svelte"), Install: "npm install", Run: "npm run dev"},
		{Name: "vue", Match: dependsOn("vue"), Install: "npm install", Run: "npm run serve"},
		{Name: "react", Match: dependsOn("react"), Install: "npm install", Run: "npm run start"},
	}
}

// Fallback is used when no rule matches.
var Fallback = Rule{Name: "node", Install: "npm install", Run: "npm start"}

// ruleFile is the on-disk form of operator supplied rules.
type ruleFile struct {
	Rules []struct {
		Name         string   `yaml:"name"`
		Dependencies []string `yaml:"dependencies"`
		Install      string   `yaml:"install"`
		Run          string   `yaml:"run"`
	} `yaml:"rules"`
}

// LoadRules reads extra rules from YAML:
//
//	rules:
//	  - name: nuxt
//	    dependencies: [nuxt]
//	    install: npm ci
//	    run: npm run dev
func LoadRules(r io.Reader) ([]Rule, error) {
	var f ruleFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode framework rules: %w", err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		if spec.Name == "" || len(spec.Dependencies) == 0 || spec.Run == "" {
			return nil, fmt.Errorf("framework rule %d: name, dependencies and run are required", i)
		}
		install := spec.Install
		if install == "" {
			install = Fallback.Install
		}
		rules = append(rules, Rule{
			Name:    spec.Name,
			Match:   dependsOn(spec.Dependencies...),
			Install: install,
			Run:     spec.Run,
		})
	}
	return rules, nil
}

// =============================================================================
// Detector
// =============================================================================

// Plan is the pair of commands chosen for a project.
type Plan struct {
	Framework string
	Install   string
	Run       string // includes the PORT assignment
}

// Detector evaluates rules in order.
type Detector struct {
	rules []Rule
}

// NewDetector builds a detector. Extra rules are evaluated before the
// built-in table so operators can handle frameworks layered on top of it.
func NewDetector(extra ...Rule) *Detector {
	rules := make([]Rule, 0, len(extra)+4)
	rules = append(rules, extra...)
	rules = append(rules, DefaultRules()...)
	return &Detector{rules: rules}
}

// Detect parses the manifest and picks commands for a process listening on
// port.
func (d *Detector) Detect(rawManifest string, port int) (Plan, error) {
	m, err := ParseManifest(rawManifest)
	if err != nil {
		return Plan{}, err
	}
	rule := d.Match(m)
	return Plan{
		Framework: rule.Name,
		Install:   rule.Install,
		Run:       RunCommand(rule.Run, port),
	}, nil
}

// Match returns the first rule whose predicate accepts m, or Fallback.
func (d *Detector) Match(m *Manifest) Rule {
	for _, r := range d.rules {
		if r.Match != nil && r.Match(m) {
			return r
		}
	}
	return Fallback
}

// RunCommand prefixes script with the port assignment.
func RunCommand(script string, port int) string {
	return fmt.Sprintf("PORT=%d %s", port, script)
}
