package framework

import (
	"strings"
	"testing"

	"github.com/R1ck404/mercel/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_Next(t *testing.T) {
	manifest := `{"dependencies":{"next":"14.2.0","react":"18.2.0","react-dom":"18.2.0"}}`

	plan, err := NewDetector().Detect(manifest, 5010)
	require.NoError(t, err)

	assert.Equal(t, "next", plan.Framework)
	assert.Equal(t, "npm install", plan.Install)
	assert.Equal(t, "PORT=5010 npm run dev", plan.Run)
}

func TestDetect_Table(t *testing.T) {
	tests := []struct {
		name      string
		manifest  string
		framework string
		run       string
	}{
		{"react", `{"dependencies":{"react":"18"}}`, "react", "PORT=3000 npm run start"},
		{"vue", `{"dependencies":{"vue":"3"}}`, "vue", "PORT=3000 npm run serve"},
		{"svelte in devDependencies", `{"devDependencies":{"svelte":"4"}}`, "svelte", "PORT=3000 npm run dev"},
		{"svelte beats vue", `{"dependencies":{"vue":"3","svelte":"4"}}`, "svelte", "PORT=3000 npm run dev"},
		{"case insensitive", `{"dependencies":{"React":"18"}}`, "react", "PORT=3000 npm run start"},
		{"no match falls back", `{"dependencies":{"express":"4"}}`, "node", "PORT=3000 npm start"},
		{"no dependencies", `{"name":"x"}`, "node", "PORT=3000 npm start"},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := d.Detect(tt.manifest, 3000)
			require.NoError(t, err)
			assert.Equal(t, tt.framework, plan.Framework)
			assert.Equal(t, "npm install", plan.Install)
			assert.Equal(t, tt.run, plan.Run)
		})
	}
}

func TestDetect_Unparseable(t *testing.T) {
	for _, raw := range []string{"", "   ", "cat: can't open 'package.json'", `{"dependencies":`} {
		_, err := NewDetector().Detect(raw, 3000)
		assert.ErrorIs(t, err, domain.ErrManifestParse, "input %q", raw)
	}
}

func TestLoadRules(t *testing.T) {
	yml := `
rules:
  - name: nuxt
    dependencies: [nuxt]
    install: npm ci
    run: npm run dev
  - name: astro
    dependencies: [astro]
    run: npm run preview
`
	rules, err := LoadRules(strings.NewReader(yml))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "npm install", rules[1].Install)

	d := NewDetector(rules...)
	plan, err := d.Detect(`{"dependencies":{"nuxt":"3","vue":"3"}}`, 5001)
	require.NoError(t, err)
	assert.Equal(t, "nuxt", plan.Framework)
	assert.Equal(t, "npm ci", plan.Install)
	assert.Equal(t, "PORT=5001 npm run dev", plan.Run)

	// Built-ins still apply behind the extras.
	plan, err = d.Detect(`{"dependencies":{"vue":"3"}}`, 5001)
	require.NoError(t, err)
	assert.Equal(t, "vue", plan.Framework)
}

func TestLoadRules_Invalid(t *testing.T) {
	_, err := LoadRules(strings.NewReader("rules:\n  - name: broken\n"))
	assert.Error(t, err)

	rules, err := LoadRules(strings.NewReader(""))
	assert.NoError(t, err)
	assert.Empty(t, rules)
}
