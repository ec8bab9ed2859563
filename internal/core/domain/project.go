package domain

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBranch is tracked when a project is imported without one.
const DefaultBranch = "main"

// Source identifies the repository a project deploys from.
type Source struct {
	RepoURL  string `json:"repo_url"`
	Branch   string `json:"branch"`
	FullName string `json:"full_name,omitempty"` // owner/repo on the hosting service
}

// TrackedRef is the git ref whose pushes trigger a redeploy.
func (s Source) TrackedRef() string {
	branch := s.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	return "refs/heads/" + branch
}

// NetworkBinding is where a project's live environment is reachable.
type NetworkBinding struct {
	Domains []string `json:"domains"`
	Port    int      `json:"port,omitempty"`
}

// Project is a long-lived record of an imported repository and its current
// live binding.
type Project struct {
	ID            string         `json:"id"`
	Owner         string         `json:"owner"`
	Name          string         `json:"name"`
	Source        Source         `json:"source"`
	EnvironmentID string         `json:"environment_id,omitempty"`
	Binding       NetworkBinding `json:"binding"`
	WebhookID     int64          `json:"webhook_id,omitempty"`
	AccessToken   string         `json:"-"` // sealed, see core/crypto
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewProject validates the import request and creates a project without a
// bound environment.
func NewProject(owner, name, repoURL, branch string) (*Project, error) {
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	repoURL = strings.TrimSpace(repoURL)
	if owner == "" {
		return nil, invalidProject("owner is required")
	}
	if name == "" {
		return nil, invalidProject("name is required")
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, invalidProject("repo_url must be an http(s) URL")
	}
	if branch == "" {
		branch = DefaultBranch
	}

	now := time.Now().UTC()
	return &Project{
		ID:    uuid.New().String(),
		Owner: owner,
		Name:  name,
		Source: Source{
			RepoURL:  repoURL,
			Branch:   branch,
			FullName: strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git"),
		},
		Binding:   NetworkBinding{Domains: []string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasEnvironment reports whether an environment is currently bound.
func (p *Project) HasEnvironment() bool {
	return p.EnvironmentID != ""
}

// Bind points the project at environmentID listening on port.
func (p *Project) Bind(environmentID string, port int) {
	p.EnvironmentID = environmentID
	p.Binding.Port = port
	p.UpdatedAt = time.Now().UTC()
}

// Unbind clears the bound environment and port, keeping domains.
func (p *Project) Unbind() {
	p.EnvironmentID = ""
	p.Binding.Port = 0
	p.UpdatedAt = time.Now().UTC()
}

// AddDomain records hostname in the binding. It reports false when the
// hostname was already present.
func (p *Project) AddDomain(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if slices.Contains(p.Binding.Domains, hostname) {
		return false
	}
	p.Binding.Domains = append(p.Binding.Domains, hostname)
	p.UpdatedAt = time.Now().UTC()
	return true
}
