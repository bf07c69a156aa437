package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tutor.ContextWindow != 10 {
		t.Errorf("expected context window 10, got %d", cfg.Tutor.ContextWindow)
	}
	if cfg.Tutor.ReminderThreshold != 20 {
		t.Errorf("expected reminder threshold 20, got %d", cfg.Tutor.ReminderThreshold)
	}
	if cfg.Provider.Timeout != 60*time.Second {
		t.Errorf("expected provider timeout 60s, got %s", cfg.Provider.Timeout)
	}
	if cfg.Lock.Driver != "memory" {
		t.Errorf("expected memory lock driver, got %q", cfg.Lock.Driver)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONTEXT_WINDOW", "4")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("DB_BUSY_TIMEOUT", "10s")
	t.Setenv("ANALYTICS_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tutor.ContextWindow != 4 {
		t.Errorf("expected context window 4, got %d", cfg.Tutor.ContextWindow)
	}
	if cfg.Provider.Timeout != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.Provider.Timeout)
	}
	if cfg.Analytics.Enabled {
		t.Error("expected analytics to be disabled")
	}
}

func TestValidateRejectsZeroBusyTimeout(t *testing.T) {
	t.Setenv("DB_BUSY_TIMEOUT", "0s")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "DB_BUSY_TIMEOUT") {
		t.Fatalf("expected busy timeout error, got %v", err)
	}
}

func TestValidateRejectsUnknownLockDriver(t *testing.T) {
	t.Setenv("LOCK_DRIVER", "etcd")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown lock driver")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{FrontendURL: "https://tutor.example.com"}
	if cfg.IsDevelopment() {
		t.Fatal("expected production frontend to not be development")
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "https://tutor.example.com" {
		t.Fatalf("unexpected origins %v", got)
	}
}
