package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("Database.SSLMode = %s, want require", cfg.Database.SSLMode)
	}
	if cfg.Storage.DefaultBackend != "local" {
		t.Errorf("Storage.DefaultBackend = %s, want local", cfg.Storage.DefaultBackend)
	}
	if cfg.Auth.RevokerBackend != "memory" {
		t.Errorf("Auth.RevokerBackend = %s, want memory", cfg.Auth.RevokerBackend)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 1h", cfg.Auth.TokenTTL)
	}
	if cfg.Compliance.ReportRecordCap != 10000 {
		t.Errorf("Compliance.ReportRecordCap = %d, want 10000", cfg.Compliance.ReportRecordCap)
	}
	if len(cfg.Compliance.Modules) != 5 {
		t.Errorf("Compliance.Modules = %v, want 5 modules", cfg.Compliance.Modules)
	}
	if cfg.Audit.Export.Enabled {
		t.Error("Audit.Export.Enabled = true, want false by default")
	}
	if cfg.Audit.Export.Interval != 10*time.Second {
		t.Errorf("Audit.Export.Interval = %v, want 10s", cfg.Audit.Export.Interval)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  port: 9999
  base_url: https://qms.example.com
database:
  host: db.internal
  name: qmsdb
  user: qmsuser
logging:
  level: debug
compliance:
  modules: ["EDMS", "TRM"]
  report_record_cap: 500
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %s, want db.internal", cfg.Database.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if got := cfg.Compliance.ReportRecordCap; got != 500 {
		t.Errorf("Compliance.ReportRecordCap = %d, want 500", got)
	}
	if len(cfg.Compliance.Modules) != 2 {
		t.Errorf("Compliance.Modules = %v, want [EDMS TRM]", cfg.Compliance.Modules)
	}
	// Values not in the file fall back to defaults.
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", cfg.Database.Port)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("QMS_DATABASE_HOST", "env-host")
	t.Setenv("QMS_DATABASE_PASSWORD", "env-secret")
	t.Setenv("QMS_AUTH_REVOKER_BACKEND", "redis")
	t.Setenv("QMS_AUTH_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Host != "env-host" {
		t.Errorf("Database.Host = %s, want env-host", cfg.Database.Host)
	}
	if cfg.Database.Password != "env-secret" {
		t.Errorf("Database.Password = %s, want env-secret", cfg.Database.Password)
	}
	if cfg.Auth.RevokerBackend != "redis" {
		t.Errorf("Auth.RevokerBackend = %s, want redis", cfg.Auth.RevokerBackend)
	}
	if cfg.Auth.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Auth.Redis.Addr = %s, want redis.internal:6379", cfg.Auth.Redis.Addr)
	}
}

func TestExpandEnvSecrets(t *testing.T) {
	t.Setenv("DB_PASS_FROM_VAULT", "s3cret")
	t.Setenv("QMS_DATABASE_PASSWORD", "${DB_PASS_FROM_VAULT}")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("Database.Password = %s, want s3cret", cfg.Database.Password)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"missing base url", func(c *Config) { c.Server.BaseURL = "" }, true},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, true},
		{"unknown storage backend", func(c *Config) { c.Storage.DefaultBackend = "ftp" }, true},
		{"s3 without bucket", func(c *Config) {
			c.Storage.DefaultBackend = "s3"
			c.Storage.S3.Region = "us-east-1"
		}, true},
		{"s3 complete", func(c *Config) {
			c.Storage.DefaultBackend = "s3"
			c.Storage.S3.Bucket = "qms-docs"
			c.Storage.S3.Region = "us-east-1"
		}, false},
		{"redis revoker without addr", func(c *Config) {
			c.Auth.RevokerBackend = "redis"
			c.Auth.Redis.Addr = ""
		}, true},
		{"unknown revoker backend", func(c *Config) { c.Auth.RevokerBackend = "etcd" }, true},
		{"tls without cert", func(c *Config) { c.Security.TLS.Enabled = true }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"zero record cap", func(c *Config) { c.Compliance.ReportRecordCap = 0 }, true},
		{"export enabled without sink", func(c *Config) { c.Audit.Export.Enabled = true }, true},
		{"export enabled with file sink", func(c *Config) {
			c.Audit.Export.Enabled = true
			c.Audit.Export.FilePath = "/var/log/qms/audit-export.jsonl"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "qms", Password: "pw",
		Name: "qmsdb", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=qms password=pw dbname=qmsdb sslmode=disable"
	if got := db.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}

func TestGetAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8081}
	if got := s.GetAddress(); got != "127.0.0.1:8081" {
		t.Errorf("GetAddress() = %q, want 127.0.0.1:8081", got)
	}
}
