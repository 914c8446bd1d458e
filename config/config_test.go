package config

import (
	"os"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `storeflow:
  name: "TestApp"
  version: "1.0"
storage:
  dynamodb:
    region: "us-east-1"
`

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_REGION", "")
	t.Setenv("DYNAMODB_ENDPOINT", "")

	path := writeTempConfig(t, minimalConfig)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Intake.MaxQueryWorkers != 8 {
		t.Fatalf("expected default max_query_workers 8, got %d", cfg.Intake.MaxQueryWorkers)
	}
	if cfg.Intake.BatchRetry.MaxAttempts != 5 {
		t.Fatalf("expected default batch retry attempts 5, got %d", cfg.Intake.BatchRetry.MaxAttempts)
	}
	if cfg.Storage.DynamoDB.Tables.Orders != "orders" {
		t.Fatalf("expected default orders table, got %q", cfg.Storage.DynamoDB.Tables.Orders)
	}
	if cfg.Usage.DefaultRangeDays != 30 {
		t.Fatalf("expected default range days 30, got %d", cfg.Usage.DefaultRangeDays)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeTempConfig(t, `storeflow:
  version: "1.0"
storage:
  dynamodb:
    region: "us-east-1"
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing name")
	}
}

func TestLoadConfigMissingRegionAndEndpoint(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("DYNAMODB_ENDPOINT", "")

	path := writeTempConfig(t, `storeflow:
  name: "TestApp"
  version: "1.0"
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error when region and endpoint are both empty")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("DYNAMODB_ENDPOINT", "http://localhost:8000")

	path := writeTempConfig(t, minimalConfig)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.DynamoDB.Region != "eu-west-1" {
		t.Fatalf("expected env region override, got %q", cfg.Storage.DynamoDB.Region)
	}
	if cfg.Storage.DynamoDB.Endpoint != "http://localhost:8000" {
		t.Fatalf("expected env endpoint override, got %q", cfg.Storage.DynamoDB.Endpoint)
	}
}

func TestLoadConfigInvalidRetry(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`intake:
  batch_retry:
    max_attempts: 3
    base_delay: 1s
    max_delay: 100ms
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error when max_delay < base_delay")
	}
}
