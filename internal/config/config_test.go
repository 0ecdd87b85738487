package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultPassesValidate(t *testing.T) {
	if err := Default().validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidateRejectsZeroMaxConcurrentRequests(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrentRequests = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error for zero max_concurrent_requests")
	}
}

func TestValidateRejectsUnknownTLSVersion(t *testing.T) {
	cfg := Default()
	cfg.TLS.MinVersion = "0.9"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error for unrecognized tls.min_version")
	}
}

func TestMergeFileOverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/gofetch.yaml"
	contents := "max_concurrent_requests: 42\nrate_limit:\n  global_rate: 77\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg := Default()
	originalPerHostRate := cfg.RateLimit.PerHostRate
	if err := mergeFile(&cfg, path); err != nil {
		t.Fatalf("mergeFile: %v", err)
	}
	if cfg.MaxConcurrentRequests != 42 {
		t.Fatalf("expected max_concurrent_requests=42, got %d", cfg.MaxConcurrentRequests)
	}
	if cfg.RateLimit.GlobalRate != 77 {
		t.Fatalf("expected rate_limit.global_rate=77, got %v", cfg.RateLimit.GlobalRate)
	}
	if cfg.RateLimit.PerHostRate != originalPerHostRate {
		t.Fatalf("expected untouched per_host_rate to survive merge, got %v", cfg.RateLimit.PerHostRate)
	}
}

func TestMergeFileMissingFileReturnsError(t *testing.T) {
	cfg := Default()
	if err := mergeFile(&cfg, "/nonexistent/gofetch.yaml"); err == nil {
		t.Fatal("expected an error reading a missing config file")
	}
}

func TestMergeEnvOverridesScalars(t *testing.T) {
	cfg := Default()
	t.Setenv("GOFETCH_MAX_CONCURRENT_REQUESTS", "500")
	t.Setenv("GOFETCH_CACHE_DEFAULT_TTL", "10m")
	t.Setenv("GOFETCH_SECURITY_ALLOW_PRIVATE_IPS", "true")

	mergeEnv(&cfg)

	if cfg.MaxConcurrentRequests != 500 {
		t.Fatalf("expected 500, got %d", cfg.MaxConcurrentRequests)
	}
	if cfg.Cache.DefaultTTL != 10*time.Minute {
		t.Fatalf("expected 10m, got %v", cfg.Cache.DefaultTTL)
	}
	if !cfg.Security.AllowPrivateIPs {
		t.Fatal("expected allow_private_ips=true from env")
	}
}

func TestMergeEnvIgnoresMalformedValues(t *testing.T) {
	cfg := Default()
	original := cfg.MaxConcurrentRequests
	t.Setenv("GOFETCH_MAX_CONCURRENT_REQUESTS", "not-a-number")

	mergeEnv(&cfg)

	if cfg.MaxConcurrentRequests != original {
		t.Fatalf("expected malformed env var to be ignored, got %d", cfg.MaxConcurrentRequests)
	}
}

func TestAdmissionPolicyMapsSecurityGroup(t *testing.T) {
	cfg := Default()
	cfg.Security.BlockedHosts = []string{"169.254.0.0/16"}
	policy := cfg.AdmissionPolicy()
	if len(policy.BlockedHosts) != 1 || policy.BlockedHosts[0] != "169.254.0.0/16" {
		t.Fatalf("expected blocked host to round-trip, got %v", policy.BlockedHosts)
	}
	if policy.MaxURLLength != cfg.Security.MaxURLLength {
		t.Fatalf("expected MaxURLLength to round-trip")
	}
}

func TestDialerConfigMapsTLSVersions(t *testing.T) {
	cfg := Default()
	cfg.TLS.MinVersion = "1.3"
	cfg.TLS.MaxVersion = "1.3"
	d := cfg.DialerConfig()
	if d.TLSMinVersion != d.TLSMaxVersion {
		t.Fatalf("expected matching min/max TLS version, got %d/%d", d.TLSMinVersion, d.TLSMaxVersion)
	}
}

func TestBreakerConfigMapsThresholds(t *testing.T) {
	cfg := Default()
	cfg.Breaker.FailureThreshold = 9
	b := cfg.BreakerConfig()
	if b.FailureThreshold != 9 {
		t.Fatalf("expected FailureThreshold=9, got %d", b.FailureThreshold)
	}
}

func TestCacheCapacityMatchesMaxMemorySize(t *testing.T) {
	cfg := Default()
	cfg.Cache.MaxMemorySize = 256
	if got := cfg.CacheCapacity(); got != 256 {
		t.Fatalf("expected capacity 256, got %d", got)
	}
}
