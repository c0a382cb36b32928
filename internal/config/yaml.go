package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level parkdeck configuration file.
type YAMLConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// AuthConfig controls administrator authentication. BootstrapEmail and
// BootstrapPassword seed the first admin account lazily on its first login;
// they are trusted deployment configuration, not user input.
type AuthConfig struct {
	JWTSecret         string `yaml:"jwt_secret"`
	JWTExpiry         string `yaml:"jwt_expiry"`
	JWTIssuer         string `yaml:"jwt_issuer"`
	JWTAudience       string `yaml:"jwt_audience"`
	BootstrapEmail    string `yaml:"bootstrap_email"`
	BootstrapPassword string `yaml:"bootstrap_password"`
	Production        bool   `yaml:"production"`
	LoginRateLimit    int    `yaml:"login_rate_limit"`
	LoginRateWindow   string `yaml:"login_rate_window"`
}

// StorageConfig controls where the SQLite database lives.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
// The JWT secret and bootstrap credentials have no defaults on purpose.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Auth: AuthConfig{
			JWTExpiry:       "1h",
			JWTIssuer:       "parkdeck",
			JWTAudience:     "parkdeck-admin",
			LoginRateLimit:  5,
			LoginRateWindow: "15m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
