package config

import (
	"strings"
	"testing"
)

func TestEnsureDSNKeepsExplicitDSN(t *testing.T) {
	cfg := DBConfig{DSN: "postgres://user:pass@db:5432/examdesk"}
	if err := cfg.ensureDSN(); err != nil {
		t.Fatalf("ensureDSN returned error: %v", err)
	}
	if cfg.DSN != "postgres://user:pass@db:5432/examdesk" {
		t.Fatalf("expected DSN untouched, got %s", cfg.DSN)
	}
}

func TestEnsureDSNBuildsFromLegacyVars(t *testing.T) {
	cfg := DBConfig{
		LegacyHost:     "db.internal",
		LegacyPort:     5432,
		LegacyUser:     "examdesk",
		LegacyPassword: "secret",
		LegacyName:     "entitlements",
		LegacySSLMode:  "require",
	}
	if err := cfg.ensureDSN(); err != nil {
		t.Fatalf("ensureDSN returned error: %v", err)
	}
	for _, want := range []string{"postgres://", "examdesk:secret@", "db.internal:5432", "entitlements", "sslmode=require"} {
		if !strings.Contains(cfg.DSN, want) {
			t.Fatalf("expected DSN to contain %q, got %s", want, cfg.DSN)
		}
	}
}

func TestEnsureDSNReportsMissingLegacyVars(t *testing.T) {
	cfg := DBConfig{LegacyHost: "db.internal"}
	err := cfg.ensureDSN()
	if err == nil {
		t.Fatal("expected error for missing legacy vars")
	}
	if !strings.Contains(err.Error(), EnvDBUser) || !strings.Contains(err.Error(), EnvDBName) {
		t.Fatalf("expected missing vars named, got %v", err)
	}
}

func TestAppEnvHelpers(t *testing.T) {
	if !(AppConfig{Env: "dev"}).IsDev() {
		t.Fatal("expected dev env")
	}
	if !(AppConfig{Env: "PROD"}).IsProd() {
		t.Fatal("expected prod env, case-insensitive")
	}
	if (AppConfig{Env: "staging"}).IsDev() {
		t.Fatal("expected staging to not be dev")
	}
}
