package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"schoolcal/internal/timetable"
)

const (
	BackendCalDAV = "caldav"
	BackendGoogle = "google"
)

// PortalConfig holds the school portal credentials and endpoints.
// ViewState and EventValidation are only used when the login page cannot be
// scraped. A zero SchoolID or StudentID is discovered after login.
type PortalConfig struct {
	URL             string `yaml:"url"`
	APIURL          string `yaml:"api_url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ViewState       string `yaml:"viewstate"`
	EventValidation string `yaml:"eventvalidation"`
	SchoolID        int    `yaml:"school_id"`
	StudentID       int    `yaml:"student_id"`
}

// CalDAVConfig selects the CalDAV calendar to mirror into. CalendarURL skips
// discovery; otherwise the calendar named CalendarName is looked up under URL.
type CalDAVConfig struct {
	URL          string `yaml:"url"`
	CalendarURL  string `yaml:"calendar_url"`
	CalendarName string `yaml:"calendar_name"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

// GoogleConfig selects the Google calendar to mirror into. Account names the
// token-<account>.json file written by the auth command.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CalendarID   string `yaml:"calendar_id"`
	Account      string `yaml:"account"`
}

// Config is the top-level application configuration.
type Config struct {
	Portal PortalConfig `yaml:"portal"`

	ExcludeSubjects []string `yaml:"exclude_subjects"`
	ExcludeMode     string   `yaml:"exclude_mode"`

	DaysToSync      int    `yaml:"days_to_sync"`
	ReminderMinutes int    `yaml:"reminder_minutes"`
	Timezone        string `yaml:"timezone"`

	Backend string       `yaml:"backend"`
	CalDAV  CalDAVConfig `yaml:"caldav"`
	Google  GoogleConfig `yaml:"google"`

	Workers      int           `yaml:"workers"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ExcludeSubjects: []string{"StudioTimes"},
		ExcludeMode:     "contains",
		DaysToSync:      14,
		ReminderMinutes: 5,
		Timezone:        "UTC",
		Backend:         BackendCalDAV,
		CalDAV:          CalDAVConfig{URL: "https://caldav.icloud.com/"},
		Google:          GoogleConfig{CalendarID: "primary", Account: "default"},
		Workers:         8,
		FetchTimeout:    30 * time.Second,
		LogLevel:        "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. A .env file in the working
// directory is loaded first if present.
func Load(path string) (*Config, error) {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envString(&c.Portal.URL, "PORTAL_URL")
	envString(&c.Portal.APIURL, "PORTAL_API_URL")
	envString(&c.Portal.Username, "PORTAL_USERNAME")
	envString(&c.Portal.Password, "PORTAL_PASSWORD")
	envString(&c.Portal.ViewState, "PORTAL_VIEWSTATE")
	envString(&c.Portal.EventValidation, "PORTAL_EVENTVALIDATION")
	envString(&c.ExcludeMode, "EXCLUDE_MODE")
	envString(&c.Timezone, "TIMEZONE")
	envString(&c.Backend, "CALENDAR_BACKEND")
	envString(&c.CalDAV.URL, "CALDAV_URL")
	envString(&c.CalDAV.CalendarURL, "CALDAV_CALENDAR_URL")
	envString(&c.CalDAV.CalendarName, "CALDAV_CALENDAR_NAME")
	envString(&c.CalDAV.Username, "CALDAV_USERNAME")
	envString(&c.CalDAV.Password, "CALDAV_PASSWORD")
	envString(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	envString(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	envString(&c.Google.CalendarID, "GOOGLE_CALENDAR_ID")
	envString(&c.Google.Account, "GOOGLE_ACCOUNT")
	envString(&c.LogLevel, "LOG_LEVEL")
	envString(&c.MetricsAddr, "METRICS_ADDR")

	if v := os.Getenv("EXCLUDE_SUBJECTS"); v != "" {
		c.ExcludeSubjects = splitList(v)
	}

	ints := []struct {
		dst  *int
		name string
	}{
		{&c.Portal.SchoolID, "PORTAL_SCHOOL_ID"},
		{&c.Portal.StudentID, "PORTAL_STUDENT_ID"},
		{&c.DaysToSync, "DAYS_TO_SYNC"},
		{&c.ReminderMinutes, "REMINDER_MINUTES"},
		{&c.Workers, "WORKERS"},
	}
	for _, i := range ints {
		if err := envInt(i.dst, i.name); err != nil {
			return err
		}
	}

	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FETCH_TIMEOUT %q: %w", v, err)
		}
		c.FetchTimeout = d
	}
	return nil
}

// Validate checks that the settings needed for a sync cycle are present.
func (c *Config) Validate() error {
	var errs []error
	if c.Portal.URL == "" {
		errs = append(errs, errors.New("PORTAL_URL is not set"))
	}
	if c.Portal.APIURL == "" {
		errs = append(errs, errors.New("PORTAL_API_URL is not set"))
	}
	if c.Portal.Username == "" || c.Portal.Password == "" {
		errs = append(errs, errors.New("PORTAL_USERNAME and PORTAL_PASSWORD must be set"))
	}
	if _, ok := timetable.ParseMatchMode(c.ExcludeMode); !ok {
		errs = append(errs, fmt.Errorf("unknown EXCLUDE_MODE %q", c.ExcludeMode))
	}
	if c.DaysToSync <= 0 {
		errs = append(errs, fmt.Errorf("DAYS_TO_SYNC must be positive, got %d", c.DaysToSync))
	}
	if c.ReminderMinutes < 0 {
		errs = append(errs, fmt.Errorf("REMINDER_MINUTES must not be negative, got %d", c.ReminderMinutes))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("WORKERS must be positive, got %d", c.Workers))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}
	errs = append(errs, c.validateBackend()...)
	return errors.Join(errs...)
}

func (c *Config) validateBackend() []error {
	switch c.Backend {
	case BackendCalDAV:
		var errs []error
		if c.CalDAV.CalendarURL == "" && (c.CalDAV.URL == "" || c.CalDAV.CalendarName == "") {
			errs = append(errs, errors.New("set CALDAV_CALENDAR_URL, or CALDAV_URL and CALDAV_CALENDAR_NAME"))
		}
		if c.CalDAV.Username == "" || c.CalDAV.Password == "" {
			errs = append(errs, errors.New("CALDAV_USERNAME and CALDAV_PASSWORD must be set"))
		}
		return errs
	case BackendGoogle:
		if c.Google.CalendarID == "" {
			return []error{errors.New("GOOGLE_CALENDAR_ID is not set")}
		}
		return nil
	default:
		return []error{fmt.Errorf("unknown CALENDAR_BACKEND %q", c.Backend)}
	}
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Reminder returns the reminder lead time.
func (c *Config) Reminder() time.Duration {
	return time.Duration(c.ReminderMinutes) * time.Minute
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(dst *int, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
