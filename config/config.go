package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	GitHubToken     string
	TrackedRepos    []string
	RepoOwners      []string
	Workers         int
	EntityTimeout   time.Duration
	LogLevel        string
	HTTPAddr        string
	MetricsTextfile string
	Database        DatabaseConfig
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	User            string
	Password        string
	Name            string
	Host            string
	Port            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s port=%s host=%s sslmode=%s",
		d.User, d.Password, d.Name, d.Port, d.Host, d.SSLMode,
	)
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	return &Config{}
}

// Load loads configuration from the optional file at path and environment
// variables. Environment variables win over file values.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	c.GitHubToken = v.GetString("GITHUB_TOKEN")
	c.TrackedRepos = splitList(v.GetString("TRACKED_REPOS"))
	c.RepoOwners = splitList(v.GetString("REPO_OWNERS"))
	c.LogLevel = v.GetString("LOG_LEVEL")
	c.HTTPAddr = v.GetString("HTTP_ADDR")
	c.MetricsTextfile = v.GetString("METRICS_TEXTFILE")

	c.Workers = v.GetInt("WORKERS")
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}

	timeout, err := time.ParseDuration(v.GetString("ENTITY_TIMEOUT"))
	if err != nil {
		return fmt.Errorf("invalid ENTITY_TIMEOUT format: %w", err)
	}
	c.EntityTimeout = timeout

	lifetime, err := time.ParseDuration(v.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		return fmt.Errorf("invalid DB_CONN_MAX_LIFETIME format: %w", err)
	}

	c.Database = DatabaseConfig{
		User:            v.GetString("POSTGRES_USER"),
		Password:        v.GetString("POSTGRES_PASSWORD"),
		Name:            v.GetString("POSTGRES_DB"),
		Host:            v.GetString("POSTGRES_HOST"),
		Port:            v.GetString("POSTGRES_PORT"),
		SSLMode:         v.GetString("POSTGRES_SSLMODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: lifetime,
	}

	return nil
}

// Validate checks the settings a collection run needs beyond the database.
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if len(c.TrackedRepos) == 0 && len(c.RepoOwners) == 0 {
		return fmt.Errorf("either TRACKED_REPOS or REPO_OWNERS is required")
	}
	for _, repo := range c.TrackedRepos {
		owner, name, ok := strings.Cut(repo, "/")
		if !ok || owner == "" || name == "" {
			return fmt.Errorf("TRACKED_REPOS entry %q is not owner/name", repo)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("WORKERS", 5)
	v.SetDefault("ENTITY_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
