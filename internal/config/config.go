package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration, unmarshalled from the
// config file merged with environment overrides. Fields carry both
// tags: yaml for the file format, mapstructure for viper's decoder.
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Database     DatabaseConfig     `yaml:"database" mapstructure:"database"`
	Queue        QueueConfig        `yaml:"queue" mapstructure:"queue"`
	Reasoning    ReasoningConfig    `yaml:"reasoning" mapstructure:"reasoning"`
	Jira         JiraConfig         `yaml:"jira" mapstructure:"jira"`
	Policy       PolicyConfig       `yaml:"policy" mapstructure:"policy"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path   string `yaml:"path" mapstructure:"path"`
	Silent bool   `yaml:"silent" mapstructure:"silent"`
}

type QueueConfig struct {
	MaxDeliveryCount int `yaml:"max_delivery_count" mapstructure:"max_delivery_count"`
	MaxBatchBytes    int `yaml:"max_batch_bytes" mapstructure:"max_batch_bytes"`
}

type ReasoningConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type JiraConfig struct {
	BaseURL  string        `yaml:"base_url" mapstructure:"base_url"`
	Email    string        `yaml:"email" mapstructure:"email"`
	APIToken string        `yaml:"api_token" mapstructure:"api_token"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type PolicyConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	InternalDomains     []string `yaml:"internal_domains" mapstructure:"internal_domains"`
}

type OrchestratorConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // json, text
	Output     string `yaml:"output" mapstructure:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`          // MB
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`           // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`   // number of backup files
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// Load unmarshals the viper state into a Config, filling gaps with
// defaults.
func Load() *Config {
	config := GetDefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		panic(err)
	}
	return config
}

// GetDefaultConfig returns the baseline configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path:   "./data/triage.db",
			Silent: true,
		},
		Queue: QueueConfig{
			MaxDeliveryCount: 3,
			MaxBatchBytes:    256 << 10,
		},
		Reasoning: ReasoningConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Jira: JiraConfig{
			Timeout: 30 * time.Second,
		},
		Policy: PolicyConfig{
			ConfidenceThreshold: 0.7,
			InternalDomains:     []string{"company.com", "internal.company.com", "corp.company.com"},
		},
		Orchestrator: OrchestratorConfig{
			Workers: 4,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/triage.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}
