package config

import (
	"testing"
	"time"
)

func TestLoadIncludesProgressDefaults(t *testing.T) {
	t.Setenv("PROGRESS_POLL_INTERVAL", "")
	t.Setenv("PROGRESS_POLL_CONCURRENCY", "")
	t.Setenv("PERSON_SEARCH_BACKEND", "")

	cfg := Load()
	if cfg.ProgressPollInterval != 3*time.Second {
		t.Fatalf("expected default poll interval 3s, got %v", cfg.ProgressPollInterval)
	}
	if cfg.ProgressPollConcurrency != 8 {
		t.Fatalf("expected default poll concurrency 8, got %d", cfg.ProgressPollConcurrency)
	}
	if cfg.PersonSearchBackend != PersonSearchHTTP {
		t.Fatalf("expected http person search by default, got %q", cfg.PersonSearchBackend)
	}
	if cfg.NATSJobStartedSubject != "ocr.jobs.started" {
		t.Fatalf("expected default job subject, got %q", cfg.NATSJobStartedSubject)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("PROGRESS_POLL_INTERVAL", "1500ms")
	t.Setenv("PROGRESS_POLL_TIMEOUT", "2")
	t.Setenv("PERSON_SEARCH_BACKEND", "Postgres")
	t.Setenv("API_RATE_LIMIT_RPS", "2.5")
	t.Setenv("RESILIENCE_BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.ProgressPollInterval != 1500*time.Millisecond {
		t.Fatalf("expected poll interval 1.5s, got %v", cfg.ProgressPollInterval)
	}
	if cfg.ProgressPollTimeout != 2*time.Second {
		t.Fatalf("expected poll timeout 2s from plain seconds, got %v", cfg.ProgressPollTimeout)
	}
	if cfg.PersonSearchBackend != PersonSearchPostgres {
		t.Fatalf("expected postgres backend, got %q", cfg.PersonSearchBackend)
	}
	if cfg.APIRateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.ResilienceBreakerEnabled {
		t.Fatalf("expected breaker disabled")
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("PROGRESS_POLL_INTERVAL", "soon")
	t.Setenv("PROGRESS_POLL_CONCURRENCY", "many")

	cfg := Load()
	if cfg.ProgressPollInterval != 3*time.Second || cfg.ProgressPollConcurrency != 8 {
		t.Fatalf("expected fallbacks, got %v / %d", cfg.ProgressPollInterval, cfg.ProgressPollConcurrency)
	}
}
