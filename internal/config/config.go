package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// AuthConfig configures owner-token verification. Either a shared
// HS256 secret (self-issued tokens) or a JWKS URL of an external
// provider must be set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWKSURL   string `yaml:"jwks_url"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// AdminConfig holds configuration for the admin surface.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// UpstreamsConfig lists the metered backend services the proxy
// forwards to. An empty entry disables that endpoint with a 503.
type UpstreamsConfig struct {
	Generate string `yaml:"generate"`
	Analyze  string `yaml:"analyze"`
	Voice    string `yaml:"voice"`
}

// UsageLogConfig tunes the async usage writer and the retention job.
type UsageLogConfig struct {
	QueueSize     int `yaml:"queue_size"`
	RetentionDays int `yaml:"retention_days"`
}

// Config holds the configuration for the metering service.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Admin     AdminConfig     `yaml:"admin"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	UsageLog  UsageLogConfig  `yaml:"usage_log"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
}

// LoadConfig reads and parses the configuration file. It returns the
// config and a list of non-fatal warnings.
var LoadConfig = func(path string) (*Config, []string, error) {
	var config Config
	var warnings []string

	// Best-effort .env load so local development doesn't need exported
	// variables. A missing .env is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// If the file does not exist we continue with an empty config and
	// rely on environment variables.

	// Override with environment variables if they exist.
	if dsn := os.Getenv("KEYMETER_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("KEYMETER_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port := os.Getenv("KEYMETER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if password := os.Getenv("KEYMETER_ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if secret := os.Getenv("KEYMETER_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if debug := os.Getenv("KEYMETER_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}

	// Defaults.
	if config.Port == 0 {
		config.Port = 8080
		warnings = append(warnings, "port not set, using default 8080")
	}
	if config.UsageLog.QueueSize == 0 {
		config.UsageLog.QueueSize = 256
		warnings = append(warnings, "usage_log.queue_size not set, using default 256")
	}
	if config.UsageLog.RetentionDays == 0 {
		config.UsageLog.RetentionDays = 90
		warnings = append(warnings, "usage_log.retention_days not set, using default 90")
	}

	// Final validation after overrides.
	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	if config.Auth.JWTSecret == "" && config.Auth.JWKSURL == "" {
		return nil, nil, fmt.Errorf("auth.jwt_secret or auth.jwks_url must be configured")
	}

	return &config, warnings, nil
}
