package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatedURL(t *testing.T) {
	got, err := AuthenticatedURL("https://github.com/alice/site.git", "ghp_secret")
	require.NoError(t, err)
	assert.Equal(t, "https://ghp_secret@github.com/alice/site.git", got)

	got, err = AuthenticatedURL("https://github.com/alice/site.git", "")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/alice/site.git", got)

	_, err = AuthenticatedURL("http://github.com/alice/site.git", "tok")
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	url, err := AuthenticatedURL("https://github.com/alice/site.git", "ghp_secret")
	require.NoError(t, err)

	line := "fatal: could not read from " + url
	assert.Equal(t, "fatal: could not read from https://***@github.com/alice/site.git", Redact(line, "ghp_secret"))
	assert.Equal(t, "nothing here", Redact("nothing here", "", "ghp_secret"))
}

func TestRedact_EscapedForm(t *testing.T) {
	url, err := AuthenticatedURL("https://github.com/a/b", "to/ken")
	require.NoError(t, err)
	assert.NotContains(t, Redact(url, "to/ken"), "ken")
}

func TestCloneCommand(t *testing.T) {
	assert.Equal(t,
		"git clone --depth 1 --branch 'main' 'https://github.com/a/b' '/app'",
		CloneCommand("https://github.com/a/b", "main", "/app"))
	assert.Equal(t,
		"git clone --depth 1 'https://github.com/a/b' '/app'",
		CloneCommand("https://github.com/a/b", "", "/app"))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'it'"'"'s'`, Quote("it's"))
}

func TestPrepareAndRead(t *testing.T) {
	assert.Equal(t, "mkdir -p '/app'", PrepareCommand("/app"))
	assert.Equal(t, "cat '/app/package.json'", ReadFileCommand("/app/", "package.json"))
	assert.Contains(t, CheckoutCommand("/app", "abc"), "git checkout --quiet 'abc'")
}

func TestFullName(t *testing.T) {
	name, err := FullName("https://github.com/alice/site.git")
	require.NoError(t, err)
	assert.Equal(t, "alice/site", name)

	_, err = FullName("https://github.com/alice")
	assert.Error(t, err)
}
