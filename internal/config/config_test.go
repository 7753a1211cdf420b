package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("MEILI_LISTINGS_INDEX", "")
	t.Setenv("INDEX_OUTBOX_INTERVAL", "")

	cfg := Load()
	if cfg.Addr != ":5000" {
		t.Fatalf("expected default addr :5000, got %q", cfg.Addr)
	}
	if cfg.MeiliIndex != "reparts_listings" {
		t.Fatalf("expected default index reparts_listings, got %q", cfg.MeiliIndex)
	}
	if cfg.IndexOutboxInterval != 15*time.Second {
		t.Fatalf("expected default outbox interval 15s, got %s", cfg.IndexOutboxInterval)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	t.Setenv("CHAT_LOCK_TTL", "2s")
	t.Setenv("UPLOAD_URL_TTL", "120")
	t.Setenv("INDEX_OUTBOX_INTERVAL", "not-a-duration")

	cfg := Load()
	if cfg.ChatLockTTL != 2*time.Second {
		t.Fatalf("expected chat lock ttl 2s, got %s", cfg.ChatLockTTL)
	}
	if cfg.UploadURLTTL != 2*time.Minute {
		t.Fatalf("expected upload ttl 2m, got %s", cfg.UploadURLTTL)
	}
	if cfg.IndexOutboxInterval != 15*time.Second {
		t.Fatalf("expected fallback outbox interval, got %s", cfg.IndexOutboxInterval)
	}
}

func TestLoadParsesBool(t *testing.T) {
	t.Setenv("S3_USE_SSL", "false")
	if Load().S3UseSSL {
		t.Fatal("expected S3_USE_SSL=false to disable ssl")
	}
	t.Setenv("S3_USE_SSL", "maybe")
	if !Load().S3UseSSL {
		t.Fatal("expected invalid S3_USE_SSL to fall back to true")
	}
}
