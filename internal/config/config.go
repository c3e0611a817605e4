// Package config loads the YAML configuration and overlays environment
// variables on it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"formacal/internal/dates"
	"formacal/internal/sessions"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreGoogle   = "google"
	StoreCalDAV   = "caldav"
)

// GoogleConfig selects the Google account and calendar holding the events.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CalendarID   string `yaml:"calendar_id"`
	// Account names the token file written by the auth command.
	Account string `yaml:"account"`
}

// CalDAVConfig locates the CalDAV calendar holding the events.
type CalDAVConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Calendar string `yaml:"calendar"`
}

// ReconcileConfig bounds store calls and batch concurrency.
type ReconcileConfig struct {
	Attempts    int           `yaml:"attempts"`
	Timeout     time.Duration `yaml:"timeout"`
	Backoff     time.Duration `yaml:"backoff"`
	Concurrency int           `yaml:"concurrency"`
}

type AuditConfig struct {
	// Schedule is a cron expression, e.g. "0 6 * * *".
	Schedule string `yaml:"schedule"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used for wall-clock times without offset.
	Timezone string `yaml:"timezone"`
	// Locale selects month names in rendered periods.
	Locale      string `yaml:"locale"`
	Placeholder string `yaml:"placeholder"`
	// GapWarning logs a warning when same-numbered events are further apart.
	// Negative disables the check.
	GapWarning time.Duration `yaml:"gap_warning"`
	LogLevel   string        `yaml:"log_level"`
	Listen     string        `yaml:"listen"`

	ProjectsStore string `yaml:"projects_store"`
	EventsStore   string `yaml:"events_store"`
	DatabaseURL   string `yaml:"database_url"`
	// Fixture seeds the memory store.
	Fixture string `yaml:"fixture"`

	Google    GoogleConfig    `yaml:"google"`
	CalDAV    CalDAVConfig    `yaml:"caldav"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Audit     AuditConfig     `yaml:"audit"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Locale == "" {
		c.Locale = dates.DefaultLocale
	}
	if c.Placeholder == "" {
		c.Placeholder = sessions.DefaultPlaceholder
	}
	if c.GapWarning == 0 {
		c.GapWarning = sessions.DefaultGapWarning
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.ProjectsStore == "" {
		c.ProjectsStore = StoreMemory
	}
	if c.EventsStore == "" {
		c.EventsStore = c.ProjectsStore
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Reconcile.Attempts <= 0 {
		c.Reconcile.Attempts = 3
	}
	if c.Reconcile.Timeout <= 0 {
		c.Reconcile.Timeout = 10 * time.Second
	}
	if c.Reconcile.Backoff <= 0 {
		c.Reconcile.Backoff = 200 * time.Millisecond
	}
	if c.Reconcile.Concurrency <= 0 {
		c.Reconcile.Concurrency = 4
	}
	if c.Audit.Schedule == "" {
		c.Audit.Schedule = "0 6 * * *"
	}
}

// ApplyEnv overrides settings from environment variables. Unset variables
// leave the file value untouched.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Timezone, "PRIMARY_TIMEZONE")
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.Listen, "FORMACAL_LISTEN")
	set(&c.DatabaseURL, "DATABASE_URL")
	set(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	set(&c.Google.CalendarID, "GOOGLE_CALENDAR_ID")
	set(&c.Google.Account, "GOOGLE_ACCOUNT")
	set(&c.CalDAV.Endpoint, "CALDAV_ENDPOINT")
	set(&c.CalDAV.Username, "CALDAV_USERNAME")
	set(&c.CalDAV.Password, "CALDAV_PASSWORD")
	set(&c.CalDAV.Calendar, "CALDAV_CALENDAR")
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.ProjectsStore {
	case StoreMemory, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("projects_store %q: must be %s or %s", c.ProjectsStore, StoreMemory, StorePostgres))
	}
	switch c.EventsStore {
	case StoreMemory, StorePostgres, StoreGoogle, StoreCalDAV:
	default:
		errs = append(errs, fmt.Errorf("events_store %q: unknown store", c.EventsStore))
	}
	if (c.EventsStore == StoreMemory || c.EventsStore == StorePostgres) && c.EventsStore != c.ProjectsStore {
		errs = append(errs, fmt.Errorf("events_store %q: must be %s when it is not google or caldav", c.EventsStore, c.ProjectsStore))
	}
	if (c.ProjectsStore == StorePostgres || c.EventsStore == StorePostgres) && c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required for the postgres store"))
	}
	if c.EventsStore == StoreCalDAV && (c.CalDAV.Username == "" || c.CalDAV.Calendar == "") {
		errs = append(errs, errors.New("caldav.username and caldav.calendar are required for the caldav store"))
	}
	if c.EventsStore == StoreGoogle && c.Google.Account == "" {
		errs = append(errs, errors.New("google.account is required for the google store"))
	}
	if !dates.SupportedLocale(c.Locale) {
		errs = append(errs, fmt.Errorf("locale %q is not supported", c.Locale))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	cfg.Normalize()
	return cfg, nil
}

// Formatter returns the session formatter configured by the file.
func (c *Config) Formatter() sessions.Formatter {
	return sessions.Formatter{Locale: c.Locale, Placeholder: c.Placeholder}
}
