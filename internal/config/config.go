package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// DefaultPollInterval is used by backends without push notifications when
// no interval is configured
const DefaultPollInterval = 2 * time.Second

// StoreConfig selects and configures the shared key-value store
type StoreConfig struct {
	Backend        string        `yaml:"backend" validate:"required,oneof=memory sqlite postgres dynamodb"`
	SQLitePath     string        `yaml:"sqlitePath,omitempty" validate:"required_if=Backend sqlite"`
	PostgresURL    string        `yaml:"postgresURL,omitempty" validate:"required_if=Backend postgres"`
	DynamoTable    string        `yaml:"dynamoTable,omitempty" validate:"required_if=Backend dynamodb"`
	AWSRegion      string        `yaml:"awsRegion,omitempty"`
	DynamoEndpoint string        `yaml:"dynamoEndpoint,omitempty" validate:"omitempty,url"`
	PollInterval   time.Duration `yaml:"pollInterval,omitempty" validate:"min=0"`
}

// BoardConfig bounds the dashboard sections; zero means unbounded
type BoardConfig struct {
	AvailableLimit int `yaml:"availableLimit,omitempty" validate:"min=0"`
	MineLimit      int `yaml:"mineLimit,omitempty" validate:"min=0"`
}

// DigestConfig schedules the stale-need digest
type DigestConfig struct {
	RRule      string        `yaml:"rrule" validate:"required"`
	StaleAfter time.Duration `yaml:"staleAfter" validate:"required,min=1m"`
	UrgentOnly bool          `yaml:"urgentOnly,omitempty"`
	Recipients []string      `yaml:"recipients,omitempty" validate:"dive,email"`
}

// Config represents the application configuration
type Config struct {
	Store            StoreConfig   `yaml:"store"`
	NotificationLink string        `yaml:"notificationLink,omitempty"`
	Board            BoardConfig   `yaml:"board,omitempty"`
	Digest           *DigestConfig `yaml:"digest,omitempty"`
	GmailSender      string        `yaml:"gmailSender,omitempty" validate:"omitempty,email"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// PollInterval returns the configured poll interval or the default
func (c *Config) PollInterval() time.Duration {
	if c.Store.PollInterval > 0 {
		return c.Store.PollInterval
	}
	return DefaultPollInterval
}

// LoadWithEnv loads relief_config.<env>.yaml, or relief_config.yaml when env
// is empty. It looks in the current directory first, then the home directory.
func LoadWithEnv(env string) (*Config, error) {
	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration struct and checks rrule syntax
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Digest != nil {
		if _, err := rrule.StrToRRule(cfg.Digest.RRule); err != nil {
			return fmt.Errorf("invalid rrule in digest: %w", err)
		}
	}

	return nil
}

func findConfigFile(env string) (string, error) {
	configFileName := "relief_config.yaml"
	if env != "" {
		configFileName = "relief_config." + env + ".yaml"
	}
	return findFile(configFileName)
}

// findFile looks for name in the current directory, then the home directory
func findFile(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homePath := filepath.Join(homeDir, name)
	if _, err := os.Stat(homePath); err == nil {
		return homePath, nil
	}

	return "", fmt.Errorf("%s not found in current directory or home directory", name)
}
