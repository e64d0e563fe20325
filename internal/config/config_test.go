package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  keepa:
    api_key: keepa-key
  ads:
    client_id: ads-client
    refresh_token: ads-refresh
    profile_id: "123"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 || cfg.Database.Driver != "sqlite" {
		t.Errorf("server/database defaults = %d %q", cfg.Server.Port, cfg.Database.Driver)
	}
	id := cfg.Pipeline.IdentifierBatch
	if id.Size != 1 || id.Delay != 2*time.Second || id.CallTimeout != 2*time.Minute {
		t.Errorf("identifier batch = %+v", id)
	}
	if cfg.Pipeline.BidBatch.Size != 33 || cfg.Pipeline.KeywordUpsertBatch != 100 {
		t.Errorf("bid batch = %+v, keyword batch = %d", cfg.Pipeline.BidBatch, cfg.Pipeline.KeywordUpsertBatch)
	}
	if got := strings.Join(cfg.Pipeline.DefaultSources, ","); got != "keepa,amazon_ads" {
		t.Errorf("default sources = %q", got)
	}
	if cfg.Providers.Keepa.APIKey != "keepa-key" || cfg.Providers.Ads.ProfileID != "123" {
		t.Errorf("provider credentials not read: %+v", cfg.Providers)
	}
	if cfg.Pipeline.StaleAfter != 30*time.Minute || cfg.Cache.StatusSize != 256 {
		t.Errorf("stale after = %v, cache = %d", cfg.Pipeline.StaleAfter, cfg.Cache.StatusSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
providers:
  keepa:
    api_key: from-file
  ads:
    enabled: false
pipeline:
  identifier_batch:
    delay: 5s
`)
	t.Setenv("KEEPA_API_KEY", "from-env")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/niches")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Keepa.APIKey != "from-env" {
		t.Errorf("keepa api key = %q, want env value", cfg.Providers.Keepa.APIKey)
	}
	if cfg.Pipeline.IdentifierBatch.Delay != 5*time.Second {
		t.Errorf("identifier delay = %v, want 5s", cfg.Pipeline.IdentifierBatch.Delay)
	}
	if cfg.Database.URL != "postgres://u:p@db:5432/niches" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want credential errors")
	}
	for _, want := range []string{"providers.keepa", "providers.ads"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestBatchConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BatchConfig
		wantErr bool
	}{
		{name: "valid", cfg: BatchConfig{Size: 33, Delay: time.Second, MaxRetries: 2}},
		{name: "zero size", cfg: BatchConfig{Size: 0}, wantErr: true},
		{name: "negative delay", cfg: BatchConfig{Size: 1, Delay: -time.Second}, wantErr: true},
		{name: "negative retries", cfg: BatchConfig{Size: 1, MaxRetries: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data/x.db"}
	if got := sqlite.DSN(); got != "./data/x.db" {
		t.Errorf("sqlite DSN = %q", got)
	}
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "niches", SSLMode: "disable"}
	if got := pg.DSN(); got != "postgres://u:p@db:5432/niches?sslmode=disable" {
		t.Errorf("postgres DSN = %q", got)
	}
}
