// Package source builds the shell commands that prepare an environment and
// fetch a project's code into it.
package source

import (
	"fmt"
	"net/url"
	"strings"
)

// RedactedPlaceholder replaces secrets in anything that is logged or stored.
const RedactedPlaceholder = "***"

// AuthenticatedURL injects token into an https clone URL. The URL is returned
// unchanged when token is empty.
func AuthenticatedURL(repoURL, token string) (string, error) {
	if token == "" {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("parse repo url: %w", err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("credentials can only be injected into https urls, got %q", u.Scheme)
	}
	u.User = url.User(token)
	return u.String(), nil
}

// Redact replaces every occurrence of each non-empty secret in text.
func Redact(text string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, RedactedPlaceholder)
		// url.User escapes reserved characters, so look for that form too.
		if escaped := url.User(s).String(); escaped != s {
			text = strings.ReplaceAll(text, escaped, RedactedPlaceholder)
		}
	}
	return text
}

// Quote wraps s in single quotes for sh.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// PrepareCommand creates the working directory.
func PrepareCommand(workDir string) string {
	return "mkdir -p " + Quote(workDir)
}

// CloneCommand clones branch of cloneURL into workDir. The directory must be
// empty.
func CloneCommand(cloneURL, branch, workDir string) string {
	args := []string{"git", "clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", Quote(branch))
	}
	args = append(args, Quote(cloneURL), Quote(workDir))
	return strings.Join(args, " ")
}

// CheckoutCommand pins the clone to sha when the trigger named one.
func CheckoutCommand(workDir, sha string) string {
	return fmt.Sprintf("cd %s && git fetch --depth 1 origin %s && git checkout --quiet %s",
		Quote(workDir), Quote(sha), Quote(sha))
}

// ReadFileCommand prints a file below workDir.
func ReadFileCommand(workDir, name string) string {
	return "cat " + Quote(strings.TrimSuffix(workDir, "/")+"/"+name)
}

// FullName extracts owner/repo from a hosted repository URL.
func FullName(repoURL string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("parse repo url: %w", err)
	}
	path := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("repo url %q is not of the form host/owner/repo", repoURL)
	}
	return path, nil
}
