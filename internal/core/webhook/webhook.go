// Package webhook verifies and decodes source-control push notifications.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/R1ck404/mercel/internal/core/domain"
)

// SignaturePrefix precedes the hex digest in X-Hub-Signature-256.
const SignaturePrefix = "sha256="

// Sign returns the header value for payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid HMAC-SHA256 of payload under
// secret. The "sha256=" prefix is optional. An empty secret never verifies.
func Verify(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), SignaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}

// =============================================================================
// Push Events
// =============================================================================

// PushEvent is the part of a push payload needed to redeploy.
type PushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	HeadCommit *struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"head_commit"`
	Repository struct {
		FullName      string `json:"full_name"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
}

// ParsePush decodes a push payload.
func ParsePush(payload []byte) (*PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode push event: %w", err)
	}
	if ev.Ref == "" {
		return nil, fmt.Errorf("decode push event: missing ref")
	}
	return &ev, nil
}

// Branch returns the branch name the push targets, or "" for tags.
func (e *PushEvent) Branch() string {
	if b, ok := strings.CutPrefix(e.Ref, "refs/heads/"); ok {
		return b
	}
	return ""
}

// Targets reports whether the push updates ref exactly.
func (e *PushEvent) Targets(ref string) bool {
	return e.Ref == ref
}

// Revision describes the pushed head commit.
func (e *PushEvent) Revision() domain.Revision {
	rev := domain.Revision{SHA: e.After, Branch: e.Branch()}
	if e.HeadCommit != nil {
		rev.SHA = e.HeadCommit.ID
		rev.Message = e.HeadCommit.Message
		rev.Author = e.HeadCommit.Author.Name
	}
	return rev
}
