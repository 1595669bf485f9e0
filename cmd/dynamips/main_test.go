package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dynamips/dynamips-go/pkg/registry"
	"github.com/dynamips/dynamips-go/pkg/vm"
)

func TestParseFlagsDefaults(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := parseFlags(nil, &stderr)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.arch != "mips64" || cfg.ramSizeMB != 128 || cfg.hasIdlePC {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseFlagsIdlePC(t *testing.T) {
	var stderr bytes.Buffer
	cfg, err := parseFlags([]string{"--idle-pc=0xBFC00000"}, &stderr)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if !cfg.hasIdlePC || cfg.idlePC != 0xBFC00000 {
		t.Fatalf("idle-pc = %#x (has=%v), want 0xBFC00000", cfg.idlePC, cfg.hasIdlePC)
	}
}

func TestParseFlagsRejectsUnknownArch(t *testing.T) {
	var stderr bytes.Buffer
	if _, err := parseFlags([]string{"--arch=sparc"}, &stderr); err == nil {
		t.Fatal("expected an error for an unknown --arch")
	}
}

func TestParseFlagsRejectsBadRAMSize(t *testing.T) {
	var stderr bytes.Buffer
	if _, err := parseFlags([]string{"--ram-size=0"}, &stderr); err == nil {
		t.Fatal("expected an error for a zero --ram-size")
	}
}

// TestBootToRommon is a scaled-down version of spec.md §8 scenario 1:
// boot a VM with --idle-pc set to the MIPS64 reset vector, so RunCPU
// halts on its very first dispatcher iteration instead of spinning,
// and check the VM reaches StateRunning (the CPU goroutine then
// immediately self-halts), the registry holds exactly one VM entry,
// and shutdown tears everything down cleanly.
func TestBootToRommon(t *testing.T) {
	dir := t.TempDir()
	cfg := &config{
		name:                "r1",
		platform:            "c7200",
		arch:                "mips64",
		ramSizeMB:           4,
		idlePC:              0xFFFFFFFFBFC00000, // the MIPS64 reset vector
		hasIdlePC:           true,
		timerItvMS:          50,
		noctrl:              true,
		consoleBindingAddr:  "127.0.0.1:0",
	}
	os.Setenv("TMPDIR", dir)
	defer os.Unsetenv("TMPDIR")

	reg := registry.New()
	booted, err := bootVM(cfg, reg, nil)
	if err != nil {
		t.Fatalf("bootVM: %v", err)
	}
	if booted.vm.State() != vm.StateRunning {
		t.Fatalf("state = %v, want StateRunning", booted.vm.State())
	}
	if !reg.Exists("vm", "r1") {
		t.Fatal("expected the registry to hold the vm entry")
	}

	if err := booted.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if booted.vm.State() != vm.StateStopped {
		t.Fatalf("state after shutdown = %v, want StateStopped", booted.vm.State())
	}
}

func TestBootPushesStartupConfig(t *testing.T) {
	dir := t.TempDir()
	startupPath := filepath.Join(dir, "startup.cfg")
	if err := os.WriteFile(startupPath, []byte("hostname r1\n"), 0644); err != nil {
		t.Fatalf("write startup config: %v", err)
	}

	cfg := &config{
		name:               "r2",
		platform:           "c7200",
		arch:               "mips64",
		ramSizeMB:          4,
		idlePC:             0xFFFFFFFFBFC00000,
		hasIdlePC:          true,
		timerItvMS:         50,
		noctrl:             true,
		startupConfig:      startupPath,
		consoleBindingAddr: "127.0.0.1:0",
	}
	os.Setenv("TMPDIR", dir)
	defer os.Unsetenv("TMPDIR")

	reg := registry.New()
	booted, err := bootVM(cfg, reg, nil)
	if err != nil {
		t.Fatalf("bootVM: %v", err)
	}
	defer booted.shutdown()

	startup, _, err := booted.vm.NVRAM.ExtractConfig()
	if err != nil {
		t.Fatalf("ExtractConfig: %v", err)
	}
	if string(startup) != "hostname r1\n" {
		t.Errorf("startup config = %q, want %q", startup, "hostname r1\n")
	}
}
