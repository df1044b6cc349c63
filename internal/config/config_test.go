package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "oauthpilot.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "default", c.Profile)
	assert.Equal(t, DefaultProvider(), c.Provider)
	assert.Equal(t, DefaultTiming(), c.Timing)
	assert.Equal(t, "http://127.0.0.1:9222", c.DevTools.URL)
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, `
profile: work
rulesFile: rules.yaml
devtools:
  url: http://127.0.0.1:9333
  launch: true
provider:
  confirmLabel: Allow
timing:
  debounce: 100ms
  chooser:
    deadline: 5s
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "work", c.Profile)
	assert.Equal(t, "rules.yaml", c.RulesFile)
	assert.Equal(t, "http://127.0.0.1:9333", c.DevTools.URL)
	assert.True(t, c.DevTools.Launch)
	assert.Equal(t, "Allow", c.Provider.ConfirmLabel)
	assert.Equal(t, "google", c.Provider.Keyword)
	assert.Equal(t, 100*time.Millisecond, c.Timing.Debounce)
	assert.Equal(t, 5*time.Second, c.Timing.Chooser.Deadline)
	assert.Equal(t, DefaultTiming().Chooser.MaxAttempts, c.Timing.Chooser.MaxAttempts)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeFile(t, "profile: [unterminated"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "profile: work\n")
	t.Setenv("OAUTHPILOT_PROFILE", "ci")
	t.Setenv("OAUTHPILOT_DEVTOOLS_URL", "http://browser:9222")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "ci", c.Profile)
	assert.Equal(t, "http://browser:9222", c.DevTools.URL)
}

func TestNormalizeRestoresInvalidValues(t *testing.T) {
	p := writeFile(t, `
profile: ""
provider:
  keyword: ""
  hosts: []
timing:
  mutationEvery: -1
  candidateLimit: 0
  storeWriteRetry: 0
  confirmation:
    maxAttempts: 0
    interval: -1s
`)
	c, err := Load(p)
	require.NoError(t, err)
	d := DefaultTiming()
	assert.Equal(t, "default", c.Profile)
	assert.Equal(t, "google", c.Provider.Keyword)
	assert.Equal(t, []string{"accounts.google.com"}, c.Provider.Hosts)
	assert.Equal(t, d.MutationEvery, c.Timing.MutationEvery)
	assert.Equal(t, d.CandidateLimit, c.Timing.CandidateLimit)
	assert.Equal(t, 1, c.Timing.StoreWriteRetry)
	assert.Equal(t, d.Confirmation, c.Timing.Confirmation)
}
