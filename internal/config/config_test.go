package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PORTAL_URL", "PORTAL_API_URL", "PORTAL_USERNAME", "PORTAL_PASSWORD",
		"EXCLUDE_SUBJECTS", "EXCLUDE_MODE", "DAYS_TO_SYNC", "WORKERS",
		"FETCH_TIMEOUT", "CALENDAR_BACKEND", "TIMEZONE", "REMINDER_MINUTES",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, []string{"StudioTimes"}, d.ExcludeSubjects)
	assert.Equal(t, 5*time.Minute, d.Reminder())
	assert.Equal(t, BackendCalDAV, d.Backend)
	assert.Equal(t, 30*time.Second, d.FetchTimeout)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.DaysToSync)
	assert.Equal(t, 8, cfg.Workers)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "schoolcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
portal:
  url: https://school.example
  school_id: 35
exclude_subjects: [StudioTimes, Lunch]
days_to_sync: 7
fetch_timeout: 10s
`), 0o600))

	t.Setenv("DAYS_TO_SYNC", "21")
	t.Setenv("EXCLUDE_SUBJECTS", "Break, ,Lunch")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://school.example", cfg.Portal.URL)
	assert.Equal(t, 35, cfg.Portal.SchoolID)
	assert.Equal(t, 21, cfg.DaysToSync)
	assert.Equal(t, []string{"Break", "Lunch"}, cfg.ExcludeSubjects)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("days_to_sync: [1"), 0o600))

	_, err := Load(path)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, path, pe.Path)
}

func TestLoadRejectsBadInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKERS", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKERS")
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Portal = PortalConfig{URL: "https://school.example", APIURL: "https://school.example/api", Username: "u", Password: "p"}
	cfg.CalDAV = CalDAVConfig{CalendarURL: "https://dav.example/cal/", Username: "u", Password: "p"}
	require.NoError(t, cfg.Validate())

	cfg.CalDAV.CalendarURL = ""
	assert.ErrorContains(t, cfg.Validate(), "CALDAV_CALENDAR_URL")

	cfg.Backend = BackendGoogle
	require.NoError(t, cfg.Validate())

	cfg.ExcludeMode = "exakt"
	assert.ErrorContains(t, cfg.Validate(), `unknown EXCLUDE_MODE "exakt"`)
	cfg.ExcludeMode = "Prefix"
	require.NoError(t, cfg.Validate())

	cfg.Backend = "outlook"
	cfg.Timezone = "Mars/Base"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "unknown CALENDAR_BACKEND")
	assert.ErrorContains(t, err, "invalid TIMEZONE")
}
