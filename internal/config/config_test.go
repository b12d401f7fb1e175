package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	cfg := Load()
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port got %d", cfg.Server.Port)
	}
	if cfg.Policy.ConfidenceThreshold != 0.7 {
		t.Fatalf("expected default threshold got %v", cfg.Policy.ConfidenceThreshold)
	}
	if cfg.Jira.BaseURL != "" || cfg.Jira.Timeout != 30*time.Second {
		t.Fatalf("unexpected jira defaults %+v", cfg.Jira)
	}
	if cfg.Queue.MaxDeliveryCount != 3 || cfg.Queue.MaxBatchBytes != 256<<10 {
		t.Fatalf("unexpected queue defaults %+v", cfg.Queue)
	}
}

func TestLoadBindsSnakeCaseKeys(t *testing.T) {
	resetViper(t)

	viper.Set("jira.base_url", "https://jira.example.com")
	viper.Set("jira.api_token", "secret-token")
	viper.Set("jira.email", "bot@example.com")
	viper.Set("policy.confidence_threshold", 0.9)
	viper.Set("queue.max_delivery_count", 5)
	viper.Set("queue.max_batch_bytes", 1024)
	viper.Set("server.allowed_origins", []string{"https://ui.example.com"})
	viper.Set("reasoning.base_url", "http://reasoner:8000")
	viper.Set("log.max_backups", 9)
	viper.Set("log.file_path", "/var/log/triage.log")

	cfg := Load()
	if cfg.Jira.BaseURL != "https://jira.example.com" {
		t.Fatalf("jira.base_url did not bind: %q", cfg.Jira.BaseURL)
	}
	if cfg.Jira.APIToken != "secret-token" {
		t.Fatalf("jira.api_token did not bind: %q", cfg.Jira.APIToken)
	}
	if cfg.Jira.Email != "bot@example.com" {
		t.Fatalf("jira.email did not bind: %q", cfg.Jira.Email)
	}
	if cfg.Policy.ConfidenceThreshold != 0.9 {
		t.Fatalf("confidence_threshold did not bind: %v", cfg.Policy.ConfidenceThreshold)
	}
	if cfg.Queue.MaxDeliveryCount != 5 {
		t.Fatalf("max_delivery_count did not bind: %d", cfg.Queue.MaxDeliveryCount)
	}
	if cfg.Queue.MaxBatchBytes != 1024 {
		t.Fatalf("max_batch_bytes did not bind: %d", cfg.Queue.MaxBatchBytes)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://ui.example.com" {
		t.Fatalf("allowed_origins did not bind: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Reasoning.BaseURL != "http://reasoner:8000" {
		t.Fatalf("reasoning.base_url did not bind: %q", cfg.Reasoning.BaseURL)
	}
	if cfg.Log.MaxBackups != 9 {
		t.Fatalf("log.max_backups did not bind: %d", cfg.Log.MaxBackups)
	}
	if cfg.Log.FilePath != "/var/log/triage.log" {
		t.Fatalf("log.file_path did not bind: %q", cfg.Log.FilePath)
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	resetViper(t)

	raw := `jira:
  base_url: https://jira.internal.example.com
  email: triage-bot@example.com
  api_token: file-token
  timeout: 45s
reasoning:
  timeout: 90s
policy:
  internal_domains:
    - example.com
log:
  output: both
  compress: false
`
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	viper.AddConfigPath(dir)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("read config: %v", err)
	}

	cfg := Load()
	if cfg.Jira.BaseURL != "https://jira.internal.example.com" || cfg.Jira.APIToken != "file-token" {
		t.Fatalf("jira section did not bind from file: %+v", cfg.Jira)
	}
	if cfg.Jira.Timeout != 45*time.Second {
		t.Fatalf("jira.timeout did not bind: %v", cfg.Jira.Timeout)
	}
	if cfg.Reasoning.Timeout != 90*time.Second {
		t.Fatalf("reasoning.timeout did not bind: %v", cfg.Reasoning.Timeout)
	}
	if len(cfg.Policy.InternalDomains) != 1 || cfg.Policy.InternalDomains[0] != "example.com" {
		t.Fatalf("internal_domains did not bind: %v", cfg.Policy.InternalDomains)
	}
	if cfg.Log.Output != "both" || cfg.Log.Compress {
		t.Fatalf("log section did not bind: %+v", cfg.Log)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("unset key lost its default: %d", cfg.Server.Port)
	}
}
