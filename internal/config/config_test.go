package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigTree(t *testing.T, setting, env string) string {
	t.Helper()
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	if env != "" {
		if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "bot.ini"), []byte(env), 0o644); err != nil {
			t.Fatalf("write env config: %v", err)
		}
	}
	return tmp
}

func TestLoadMergesBaseAndEnv(t *testing.T) {
	setting := "environment=dev\nlog_level=debug\nport=9000\napp_secret=base-secret\n"
	env := "port=9090\nquestion_cooldown=90s\nledger_path=/tmp/credits.db\nworker_count=4\n"
	tmp := writeConfigTree(t, setting, env)

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 9090 {
		t.Fatalf("expected env port override, got %d", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.QuestionCooldown != 90*time.Second {
		t.Fatalf("unexpected question cooldown %v", cfg.QuestionCooldown)
	}
	if cfg.LedgerPath != "/tmp/credits.db" {
		t.Fatalf("unexpected ledger path %s", cfg.LedgerPath)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("unexpected worker count %d", cfg.WorkerCount)
	}
	if cfg.RepetitionWindow != 7*24*time.Hour {
		t.Fatalf("expected default repetition window, got %v", cfg.RepetitionWindow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	tmp := writeConfigTree(t, "environment=dev\napp_secret=file-secret\n", "")
	t.Setenv("NERDX_APP_SECRET", "env-secret")
	t.Setenv("NERDX_KV_DRIVER", "redis")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppSecret != "env-secret" {
		t.Fatalf("unexpected app secret %s", cfg.AppSecret)
	}
	if cfg.KVDriver != "redis" {
		t.Fatalf("unexpected kv driver %s", cfg.KVDriver)
	}
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	tmp := writeConfigTree(t, "environment=dev\n", "")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error when signature required without app_secret")
	}
}

func TestLoadRejectsBadDriver(t *testing.T) {
	tmp := writeConfigTree(t, "environment=dev\napp_secret=s\nkv_driver=etcd\n", "")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error for unknown kv_driver")
	}
}

func TestLoadPostgresNeedsDSN(t *testing.T) {
	tmp := writeConfigTree(t, "environment=dev\napp_secret=s\nledger_driver=postgres\n", "")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error for postgres without dsn")
	}
}

func TestLoadBadDuration(t *testing.T) {
	tmp := writeConfigTree(t, "environment=dev\napp_secret=s\ndedup_ttl=soon\n", "")
	if _, err := Load(tmp); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}
