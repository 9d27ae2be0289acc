// Package config provides configuration management for the lead acquisition service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lead-scanner/internal/types"
)

// DefaultListingPattern matches dated used-car listing paths
const DefaultListingPattern = `/motors/used-cars/[^/]+/[^/]+/\d{4}/\d{1,2}/\d{1,2}/[^"'\s>?#]+`

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Cache        CacheConfig
	Orchestrator OrchestratorConfig
	Worker       WorkerConfig
	Scrape       ScrapeConfig
	Schedule     ScheduleConfig
	RateLimit    RateLimitConfig
	Logging      LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MinConnections int
	ConnLifetime   time.Duration
	ConnIdleTime   time.Duration
	ConnectTimeout time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds job snapshot cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// OrchestratorConfig holds job orchestration settings
type OrchestratorConfig struct {
	Environment        string
	DefaultTargetLeads int
}

// WorkerConfig holds the external worker process settings
type WorkerConfig struct {
	Command     string
	ProgressTag string
}

// ScrapeConfig holds settings shared by the inline strategies
type ScrapeConfig struct {
	HTTPCap           int
	BrowserCap        int
	ListingPattern    string
	UserAgent         string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	TotalPages        int
	BrowserHeadless   bool
	BrowserExecPath   string // empty lets chromedp find Chrome
	SettleDelay       time.Duration
	CandidateDelay    time.Duration
}

// ScheduleConfig holds the daily acquisition schedule. An empty Cron disables it.
type ScheduleConfig struct {
	Cron        string
	URL         string
	TargetLeads int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "lead_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MinConnections: getEnvAsInt("POSTGRES_MIN_CONNECTIONS", 1),
				ConnLifetime:   getEnvAsDuration("POSTGRES_CONN_LIFETIME", time.Hour),
				ConnIdleTime:   getEnvAsDuration("POSTGRES_CONN_IDLE_TIME", 30*time.Minute),
				ConnectTimeout: getEnvAsDuration("POSTGRES_CONNECT_TIMEOUT", 10*time.Second),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 2*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			Environment:        getEnv("LEAD_ENVIRONMENT", string(types.EnvConstrainedHosting)),
			DefaultTargetLeads: getEnvAsInt("DEFAULT_TARGET_LEADS", 20),
		},
		Worker: WorkerConfig{
			Command:     getEnv("WORKER_COMMAND", "leadworker"),
			ProgressTag: getEnv("WORKER_PROGRESS_TAG", "LEAD_PROGRESS:"),
		},
		Scrape: ScrapeConfig{
			HTTPCap:           getEnvAsInt("SCRAPE_HTTP_CAP", 5),
			BrowserCap:        getEnvAsInt("SCRAPE_BROWSER_CAP", 10),
			ListingPattern:    getEnv("SCRAPE_LISTING_PATTERN", DefaultListingPattern),
			UserAgent:         getEnv("SCRAPE_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			RequestTimeout:    getEnvAsDuration("SCRAPE_REQUEST_TIMEOUT", 15*time.Second),
			RequestsPerSecond: getEnvAsFloat("SCRAPE_REQUESTS_PER_SECOND", 1),
			TotalPages:        getEnvAsInt("SCRAPE_TOTAL_PAGES", 11),
			BrowserHeadless:   getEnvAsBool("BROWSER_HEADLESS", true),
			BrowserExecPath:   getEnv("BROWSER_EXEC_PATH", ""),
			SettleDelay:       getEnvAsDuration("BROWSER_SETTLE_DELAY", 1500*time.Millisecond),
			CandidateDelay:    getEnvAsDuration("BROWSER_CANDIDATE_DELAY", time.Second),
		},
		Schedule: ScheduleConfig{
			Cron:        getEnv("SCHEDULE_CRON", ""),
			URL:         getEnv("SCHEDULE_URL", ""),
			TargetLeads: getEnvAsInt("SCHEDULE_TARGET_LEADS", 20),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks values that cannot be defaulted silently
func (c *Config) Validate() error {
	if _, err := c.Environment(); err != nil {
		return err
	}
	if c.Orchestrator.DefaultTargetLeads <= 0 {
		return fmt.Errorf("DEFAULT_TARGET_LEADS must be positive, got %d", c.Orchestrator.DefaultTargetLeads)
	}
	if pg := c.Database.Postgres; pg.MinConnections < 0 || pg.MinConnections > pg.MaxConnections {
		return fmt.Errorf("POSTGRES_MIN_CONNECTIONS must be between 0 and POSTGRES_MAX_CONNECTIONS (%d), got %d",
			pg.MaxConnections, pg.MinConnections)
	}
	if strings.TrimSpace(c.Worker.ProgressTag) == "" {
		return fmt.Errorf("WORKER_PROGRESS_TAG must not be empty")
	}
	if c.Schedule.Cron != "" && c.Schedule.URL == "" {
		return fmt.Errorf("SCHEDULE_URL is required when SCHEDULE_CRON is set")
	}
	return nil
}

// Environment returns the parsed deployment environment
func (c *Config) Environment() (types.Environment, error) {
	return types.ParseEnvironment(c.Orchestrator.Environment)
}

// PostgresDSN builds the connection string for pgx
func (c PostgresConfig) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Addr returns host:port for the Redis client
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
