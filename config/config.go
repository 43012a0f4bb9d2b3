package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sync service. It is constructed
// once in cmd and passed by reference into each component.
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Identity IdentityConfig `mapstructure:"identity"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// GeneralConfig contains server-wide settings.
type GeneralConfig struct {
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`
}

// SourcesConfig groups the two external sources we scrape.
type SourcesConfig struct {
	Faculty FacultySourceConfig `mapstructure:"faculty"`
	Courses CourseSourceConfig  `mapstructure:"courses"`
}

// FacultySourceConfig describes the faculty directory page and the markup
// markers used to locate department sections and person-profile links.
type FacultySourceConfig struct {
	URL                  string        `mapstructure:"url"`
	SectionSelector      string        `mapstructure:"section_selector"`
	SectionTitleSelector string        `mapstructure:"section_title_selector"`
	ProfilePattern       string        `mapstructure:"profile_pattern"`
	IndexLinkMarker      string        `mapstructure:"index_link_marker"`
	DefaultDepartment    string        `mapstructure:"default_department"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

// CourseSourceConfig describes the course-search API endpoint.
type CourseSourceConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	Referer   string        `mapstructure:"referer"`
	UserAgent string        `mapstructure:"user_agent"`
	SrcDB     string        `mapstructure:"srcdb"` // term database, empty = current
	Timeout   time.Duration `mapstructure:"timeout"`
}

// IdentityConfig controls the name-to-email inference.
type IdentityConfig struct {
	Domain      string   `mapstructure:"domain"`
	TitleTokens []string `mapstructure:"title_tokens"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a connection string from either the url field or the
// individual host/port/dbname fields.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

func (p PostgresConfig) Validate() error {
	_, err := p.DSN()
	return err
}

// RedisConfig contains Redis connection settings. Redis is optional: it only
// backs the per-stage run locks, and the locks are skipped when unset.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// SyncConfig tunes the pipeline stages.
type SyncConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// WriteDelay is a courtesy pause between successive per-teacher writes.
	WriteDelay time.Duration `mapstructure:"write_delay"`
	// ClearAssignmentsBeforeWrite wipes teachingSessions for teachers whose
	// sessions all disappeared since the previous run. Off by default to
	// preserve the historical retention behaviour.
	ClearAssignmentsBeforeWrite bool   `mapstructure:"clear_assignments_before_write"`
	School                      string `mapstructure:"school"`
}

func (s SyncConfig) Validate() error {
	if s.BatchSize < 0 {
		return fmt.Errorf("sync.batch_size cannot be negative")
	}
	if s.WriteDelay < 0 {
		return fmt.Errorf("sync.write_delay cannot be negative")
	}
	return nil
}

// Load reads config from file (json) and FACSYNC_* environment variables.
// A missing config file is fine when no explicit path was given; defaults
// plus env cover the common deployment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("FACSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Sync.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.listen", ":8080")
	v.SetDefault("general.log_level", "info")

	v.SetDefault("sources.faculty.section_selector", "a.accordion__toggle")
	v.SetDefault("sources.faculty.section_title_selector", "span.accordion__toggle__text")
	v.SetDefault("sources.faculty.profile_pattern", `/business/about/faculty/.*\.php$`)
	v.SetDefault("sources.faculty.index_link_marker", "directory.php")
	v.SetDefault("sources.faculty.default_department", "SLU Business")
	v.SetDefault("sources.faculty.timeout", 30*time.Second)

	v.SetDefault("sources.courses.api_url", "https://courses.slu.edu/api/?page=fose&route=search")
	v.SetDefault("sources.courses.referer", "https://courses.slu.edu/")
	v.SetDefault("sources.courses.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	v.SetDefault("sources.courses.timeout", 30*time.Second)

	v.SetDefault("identity.domain", "slu.edu")
	v.SetDefault("identity.title_tokens", []string{
		"Dr.", "Dr", "Ph.D.", "J.D.", "Prof.", "Prof", "Professor", "M.A.", "M.B.A.", "M.Sc.",
	})

	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("sync.batch_size", 400)
	v.SetDefault("sync.write_delay", 200*time.Millisecond)
	v.SetDefault("sync.clear_assignments_before_write", false)
	v.SetDefault("sync.school", "SLU Business")
}
