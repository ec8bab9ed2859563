package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify converts a name to a lowercase slug made of [a-z0-9-]. Spaces,
// underscores and dots become hyphens, everything else is dropped, and runs
// of hyphens collapse to one.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || r == ' ' || r == '_' || r == '.' || r == '/':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// EnvironmentName is the container name used for a project's environment on
// a given port. Ports are unique among live environments, so the name is too.
func EnvironmentName(projectName string, port int) string {
	slug := Slugify(projectName)
	if slug == "" {
		slug = "app"
	}
	if len(slug) > 40 {
		slug = strings.TrimSuffix(slug[:40], "-")
	}
	return fmt.Sprintf("mercel-%s-%d", slug, port)
}
