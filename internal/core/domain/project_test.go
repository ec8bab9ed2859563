package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProject(t *testing.T) {
	p, err := NewProject("alice", "site", "https://github.com/alice/site.git", "")
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "alice", p.Owner)
	assert.Equal(t, DefaultBranch, p.Source.Branch)
	assert.Equal(t, "alice/site", p.Source.FullName)
	assert.False(t, p.HasEnvironment())
	assert.Empty(t, p.Binding.Domains)
}

func TestNewProject_Validation(t *testing.T) {
	tests := []struct {
		name, owner, projectName, url string
	}{
		{"missing owner", "", "site", "https://github.com/a/b"},
		{"missing name", "alice", " ", "https://github.com/a/b"},
		{"ssh url", "alice", "site", "git@github.com:a/b.git"},
		{"no host", "alice", "site", "https:///a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProject(tt.owner, tt.projectName, tt.url, "main")
			assert.ErrorIs(t, err, ErrInvalidProject)
		})
	}
}

func TestSource_TrackedRef(t *testing.T) {
	assert.Equal(t, "refs/heads/main", Source{}.TrackedRef())
	assert.Equal(t, "refs/heads/release", Source{Branch: "release"}.TrackedRef())
}

func TestProject_BindUnbind(t *testing.T) {
	p, err := NewProject("alice", "site", "https://github.com/alice/site", "main")
	require.NoError(t, err)

	p.Bind("env-1", 5003)
	assert.True(t, p.HasEnvironment())
	assert.Equal(t, 5003, p.Binding.Port)

	p.Unbind()
	assert.False(t, p.HasEnvironment())
	assert.Zero(t, p.Binding.Port)
}

func TestProject_AddDomain(t *testing.T) {
	p, err := NewProject("alice", "site", "https://github.com/alice/site", "main")
	require.NoError(t, err)

	assert.True(t, p.AddDomain("App.Example.com"))
	assert.False(t, p.AddDomain("app.example.com "))
	assert.Equal(t, []string{"app.example.com"}, p.Binding.Domains)
}
