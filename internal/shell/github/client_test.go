package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestCommit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/alice/site/commits", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		w.Write([]byte(`[{"sha":"abc123","commit":{"message":"fix nav","author":{"name":"Alice"}}}]`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	rev, err := c.LatestCommit(context.Background(), "alice/site", "main", "tok")
	require.NoError(t, err)
	assert.Equal(t, "abc123", rev.SHA)
	assert.Equal(t, "fix nav", rev.Message)
	assert.Equal(t, "Alice", rev.Author)
	assert.Equal(t, "main", rev.Branch)
}

func TestLatestCommit_Anonymous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	_, err := c.LatestCommit(context.Background(), "alice/site", "main", "")
	assert.ErrorIs(t, err, ErrNoCommits)
}

func TestLatestCommit_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	_, err := c.LatestCommit(context.Background(), "alice/site", "main", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestCreateWebhook(t *testing.T) {
	var got hookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/alice/site/hooks", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":987654}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	id, err := c.CreateWebhook(context.Background(), "alice/site", "https://mercel.dev/api/webhook/listen", "s3cret", "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(987654), id)

	assert.Equal(t, "web", got.Name)
	assert.True(t, got.Active)
	assert.Equal(t, []string{"push"}, got.Events)
	assert.Equal(t, "https://mercel.dev/api/webhook/listen", got.Config.URL)
	assert.Equal(t, "json", got.Config.ContentType)
	assert.Equal(t, "s3cret", got.Config.Secret)
}

func TestDeleteWebhook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		switch r.URL.Path {
		case "/repos/alice/site/hooks/1":
			w.WriteHeader(http.StatusNoContent)
		case "/repos/alice/site/hooks/2":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL}, nil)
	ctx := context.Background()
	assert.NoError(t, c.DeleteWebhook(ctx, "alice/site", 1, "tok"))
	assert.NoError(t, c.DeleteWebhook(ctx, "alice/site", 2, "tok"))
	assert.Error(t, c.DeleteWebhook(ctx, "alice/site", 3, "tok"))
}
