package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment selects which KIS credential/endpoint pair a request uses.
// Tokens, caches and claims are always partitioned by environment.
type Environment string

const (
	// EnvLive is the real-money KIS environment.
	EnvLive Environment = "live"
	// EnvPaper is the KIS paper-trading (mock) environment.
	EnvPaper Environment = "paper"
)

func (e Environment) String() string {
	return string(e)
}

// Default KIS endpoints. Overridable via env vars so tests and staging
// can point the broker at a mock server.
const (
	DefaultLiveBaseURL  = "https://openapi.koreainvestment.com:9443"
	DefaultPaperBaseURL = "https://openapivts.koreainvestment.com:29443"
)

// Credentials is one environment's KIS app key/secret pair plus its endpoint.
type Credentials struct {
	AppKey    string
	AppSecret string
	BaseURL   string
}

// Config holds application configuration
type Config struct {
	Port         int
	DevMode      bool
	DatabasePath string
	LogLevel     string

	LiveAppKey     string
	LiveAppSecret  string
	LiveBaseURL    string
	PaperAppKey    string
	PaperAppSecret string
	PaperBaseURL   string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8090),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		DatabasePath: getEnv("DATABASE_PATH", "./data/broker.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		LiveAppKey:     getEnv("KIS_APP_KEY", ""),
		LiveAppSecret:  getEnv("KIS_APP_SECRET", ""),
		LiveBaseURL:    getEnv("KIS_BASE_URL", DefaultLiveBaseURL),
		PaperAppKey:    getEnv("MOK_KIS_APP_KEY", ""),
		PaperAppSecret: getEnv("MOK_KIS_APP_SECRET", ""),
		PaperBaseURL:   getEnv("MOK_KIS_BASE_URL", DefaultPaperBaseURL),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}

	// KIS credentials are validated per-request so that a broker deployed
	// with only one environment configured still serves that environment.
	return nil
}

// CredentialsFor returns the credential pair for an environment. The error
// names the unset variables so a misconfigured deployment is diagnosable
// from the response body alone.
func (c *Config) CredentialsFor(env Environment) (Credentials, error) {
	switch env {
	case EnvPaper:
		if c.PaperAppKey == "" || c.PaperAppSecret == "" {
			return Credentials{}, fmt.Errorf("MOK_KIS_APP_KEY / MOK_KIS_APP_SECRET not set")
		}
		return Credentials{AppKey: c.PaperAppKey, AppSecret: c.PaperAppSecret, BaseURL: c.PaperBaseURL}, nil
	default:
		if c.LiveAppKey == "" || c.LiveAppSecret == "" {
			return Credentials{}, fmt.Errorf("KIS_APP_KEY / KIS_APP_SECRET not set")
		}
		return Credentials{AppKey: c.LiveAppKey, AppSecret: c.LiveAppSecret, BaseURL: c.LiveBaseURL}, nil
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
