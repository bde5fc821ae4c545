package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Executor.MaxConcurrentExecutions != 10 {
		t.Fatalf("default capacity: %d", cfg.Executor.MaxConcurrentExecutions)
	}
	if cfg.Executor.DefaultExecutionTimeout.Std() != 5*time.Second {
		t.Fatalf("default timeout: %v", cfg.Executor.DefaultExecutionTimeout)
	}
	if cfg.Executor.SubscribeGracePeriod.Std() != 300*time.Millisecond {
		t.Fatalf("default grace: %v", cfg.Executor.SubscribeGracePeriod)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9999"
executor:
  max_concurrent_executions: 3
  default_execution_timeout: 2s
storage:
  backend: fs
  dir: /tmp/vortex-test
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := Default()
	if err := LoadFromFile(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Executor.MaxConcurrentExecutions != 3 {
		t.Fatalf("capacity: %d", cfg.Executor.MaxConcurrentExecutions)
	}
	if cfg.Executor.DefaultExecutionTimeout.Std() != 2*time.Second {
		t.Fatalf("timeout: %v", cfg.Executor.DefaultExecutionTimeout)
	}
	// File overlays, not replaces: untouched fields keep defaults.
	if cfg.Executor.SubscribeGracePeriod.Std() != 300*time.Millisecond {
		t.Fatalf("grace lost on overlay: %v", cfg.Executor.SubscribeGracePeriod)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VORTEX_ADDR", ":7777")
	t.Setenv("VORTEX_MAX_CONCURRENT_EXECUTIONS", "42")
	t.Setenv("VORTEX_DEFAULT_EXECUTION_TIMEOUT", "750ms")

	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.Server.Addr != ":7777" {
		t.Fatalf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Executor.MaxConcurrentExecutions != 42 {
		t.Fatalf("capacity: %d", cfg.Executor.MaxConcurrentExecutions)
	}
	if cfg.Executor.DefaultExecutionTimeout.Std() != 750*time.Millisecond {
		t.Fatalf("timeout: %v", cfg.Executor.DefaultExecutionTimeout)
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cfg := Default()
	cfg.Executor.RuntimeMode = "vm"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown runtime mode must be rejected")
	}

	cfg = Default()
	cfg.Executor.RuntimeMode = "process"
	if err := cfg.Validate(); err == nil {
		t.Fatal("process mode without binary path must be rejected")
	}

	cfg = Default()
	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("s3 backend without bucket must be rejected")
	}

	cfg = Default()
	cfg.Redis.BusBroker = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("redis bus without addr must be rejected")
	}
}
