package config

import (
	"testing"
	"time"
)

func TestLoadIncludesSearchDefaults(t *testing.T) {
	t.Setenv("SEARCH_TIMEOUT", "")
	t.Setenv("SEARCH_CANDIDATE_MULTIPLIER", "")
	t.Setenv("SEARCH_MAX_CANDIDATES", "")
	t.Setenv("SEARCH_RETRY_MAX_ATTEMPTS", "")
	t.Setenv("QDRANT_TRANSPORT", "")

	cfg := Load()
	if cfg.SearchTimeout != 5*time.Second {
		t.Fatalf("expected default search timeout 5s, got %s", cfg.SearchTimeout)
	}
	if cfg.SearchCandidateMultiplier != 3 {
		t.Fatalf("expected default candidate multiplier 3, got %d", cfg.SearchCandidateMultiplier)
	}
	if cfg.SearchMaxCandidates != 1000 {
		t.Fatalf("expected default max candidates 1000, got %d", cfg.SearchMaxCandidates)
	}
	if cfg.SearchRetryMaxAttempts != 2 {
		t.Fatalf("expected search to retry once by default, got %d attempts", cfg.SearchRetryMaxAttempts)
	}
	if cfg.QdrantTransport != "rest" {
		t.Fatalf("expected rest transport by default, got %q", cfg.QdrantTransport)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("SEARCH_TIMEOUT", "750ms")
	t.Setenv("SEARCH_MAX_CANDIDATES", "200")
	t.Setenv("API_RATE_LIMIT_RPS", "12.5")
	t.Setenv("RESILIENCE_BREAKER_ENABLED", "false")
	t.Setenv("WORKER_TASK_TIMEOUT", "90")

	cfg := Load()
	if cfg.SearchTimeout != 750*time.Millisecond {
		t.Fatalf("expected search timeout 750ms, got %s", cfg.SearchTimeout)
	}
	if cfg.SearchMaxCandidates != 200 {
		t.Fatalf("expected max candidates 200, got %d", cfg.SearchMaxCandidates)
	}
	if cfg.APIRateLimitRPS != 12.5 {
		t.Fatalf("expected rate limit 12.5, got %v", cfg.APIRateLimitRPS)
	}
	if cfg.ResilienceBreakerEnabled {
		t.Fatalf("expected breaker to be disabled")
	}
	if cfg.WorkerTaskTimeout != 90*time.Second {
		t.Fatalf("expected bare integers to be read as seconds, got %s", cfg.WorkerTaskTimeout)
	}
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("SEARCH_CANDIDATE_MULTIPLIER", "many")
	t.Setenv("SEARCH_TIMEOUT", "soon")

	cfg := Load()
	if cfg.SearchCandidateMultiplier != 3 || cfg.SearchTimeout != 5*time.Second {
		t.Fatalf("expected defaults for invalid values, got %d %s", cfg.SearchCandidateMultiplier, cfg.SearchTimeout)
	}
}
