// Command dynamips is the standalone-mode CLI front end of spec.md
// §6: one binary that boots a single router VM from the long options
// below and, unless --noctrl is given, exposes it through the
// pkg/hypervisor TCP control port. Goroutine/signal shape mirrors the
// teacher's cmd/mipsvm/main.go: the CPU runs in its own goroutine,
// and the main goroutine waits on an OS signal to drive shutdown.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dynamips/dynamips-go/pkg/cpu/mips64"
	"github.com/dynamips/dynamips-go/pkg/cpu/ppc32"
	"github.com/dynamips/dynamips-go/pkg/hypervisor"
	"github.com/dynamips/dynamips-go/pkg/mts"
	"github.com/dynamips/dynamips-go/pkg/registry"
	"github.com/dynamips/dynamips-go/pkg/tcb"
	"github.com/dynamips/dynamips-go/pkg/timer"
	"github.com/dynamips/dynamips-go/pkg/vm"
)

// Exit codes, per spec.md §6.
const (
	exitOK      = 0
	exitUsage   = 1
	exitBoot    = 2
	exitRuntime = 3
)

// defaultNVRAMSize is the classic Cisco NVRAM size modeled boards
// ship with; large enough for the startup/private config blobs this
// build's test vectors push.
const defaultNVRAMSize = 512 * 1024

// config is the parsed CLI surface, one struct never read back out of
// a global the way SPEC_FULL.md's ambient-stack section calls for.
type config struct {
	name     string
	platform string
	arch     string

	ramSizeMB int
	romPath   string

	disk0SizeMB, disk1SizeMB int
	execAreaMB               int

	idlePC    uint64
	hasIdlePC bool

	timerItvMS int64

	vmDebug, sparseMem, noctrl, notelmsg bool
	filePID                              string

	iomemSizeMB int

	startupConfig, privateConfig string
	consoleBindingAddr          string
}

func parseFlags(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("dynamips", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &config{}
	fs.StringVar(&cfg.name, "name", "r1", "VM name, the registry key the hypervisor protocol addresses it by")
	fs.StringVar(&cfg.platform, "platform", "c7200", "router platform identifier")
	fs.StringVar(&cfg.arch, "arch", "mips64", "guest CPU architecture: mips64 or ppc32")
	fs.IntVar(&cfg.ramSizeMB, "ram-size", 128, "RAM size in MB")
	fs.StringVar(&cfg.romPath, "rom", "", "ROM image path (raw blob); empty skips ROM mapping")
	fs.IntVar(&cfg.disk0SizeMB, "disk0-size", 0, "size of PCMCIA flash disk0 in MB")
	fs.IntVar(&cfg.disk1SizeMB, "disk1-size", 0, "size of PCMCIA flash disk1 in MB")
	fs.IntVar(&cfg.execAreaMB, "exec-area", 16, "executable-JIT area size in MB")
	idlePCFlag := fs.String("idle-pc", "", "halt the CPU while PC equals ADDR (hex, with or without 0x)")
	fs.Int64Var(&cfg.timerItvMS, "timer-itv", 1000, "timer-wheel tick interval in ms")
	fs.BoolVar(&cfg.vmDebug, "vm-debug", false, "enable verbose VM lifecycle logging")
	fs.BoolVar(&cfg.sparseMem, "sparse-mem", false, "accepted for compatibility; RAM is always a single Go-allocated region here")
	fs.BoolVar(&cfg.noctrl, "noctrl", false, "do not start the hypervisor TCP control port")
	fs.BoolVar(&cfg.notelmsg, "notelmsg", false, "suppress the console's startup banner")
	fs.StringVar(&cfg.filePID, "filepid", "", "write the process id to PATH on boot, remove it on clean exit")
	fs.IntVar(&cfg.iomemSizeMB, "iomem-size", 5, "IOMEM area size in MB")
	fs.StringVar(&cfg.startupConfig, "startup-config", "", "push this file into NVRAM as the startup-config on boot")
	fs.StringVar(&cfg.privateConfig, "private-config", "", "push this file into NVRAM as the private-config on boot")
	fs.StringVar(&cfg.consoleBindingAddr, "console-binding-addr", "127.0.0.1:0", "bind address for the hypervisor/console TCP listener")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *idlePCFlag != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(*idlePCFlag), "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("--idle-pc: %w", err)
		}
		cfg.idlePC, cfg.hasIdlePC = v, true
	}
	if cfg.arch != "mips64" && cfg.arch != "ppc32" {
		return nil, fmt.Errorf("--arch: unknown architecture %q (want mips64 or ppc32)", cfg.arch)
	}
	if cfg.ramSizeMB <= 0 {
		return nil, fmt.Errorf("--ram-size: must be positive, got %d", cfg.ramSizeMB)
	}
	return cfg, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	logger := log.New(stderr, "dynamips: ", log.LstdFlags)
	if f := os.Getenv("DYNAMIPS_LOG"); f != "" {
		file, err := os.OpenFile(f, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "dynamips: open DYNAMIPS_LOG %s: %v\n", f, err)
			return exitUsage
		}
		defer file.Close()
		logger.SetOutput(file)
	}

	cfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if cfg.filePID != "" {
		if err := os.WriteFile(cfg.filePID, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			logger.Printf("filepid: %v", err)
			return exitUsage
		}
		defer os.Remove(cfg.filePID)
	}

	reg := registry.New()
	boot, err := bootVM(cfg, reg, logger)
	if err != nil {
		logger.Printf("boot: %v", err)
		return exitBoot
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Printf("vm %s: signal received, shutting down", cfg.name)

	if err := boot.shutdown(); err != nil {
		logger.Printf("shutdown: %v", err)
		return exitRuntime
	}
	return exitOK
}

// bootedVM bundles the running VM and its collaborators so shutdown
// can tear them down in the right order regardless of whether it was
// reached through a real signal (run) or directly by a test.
type bootedVM struct {
	vm     *vm.VM
	wheel  *timer.PTaskManager
	hv     *hypervisor.Server
	logger *log.Logger
}

func (b *bootedVM) shutdown() error {
	if b.hv != nil {
		b.hv.Close()
	}
	b.wheel.Stop()
	if err := b.vm.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := b.vm.Free(); err != nil {
		return fmt.Errorf("free: %w", err)
	}
	return nil
}

// bootVM allocates RAM/ROM/NVRAM, constructs the guest CPU for
// cfg.arch, wires the timer wheel that drives its CP0/decrementer
// clock, starts the hypervisor control port unless --noctrl was
// given, registers the VM, and starts it running. It returns once the
// VM is in StateRunning (or an error explaining why boot failed),
// mirroring spec.md §3's "VM initialization ... runs the boot loader
// into guest memory" up through the point where a CPU thread exists.
func bootVM(cfg *config, reg *registry.Registry, logger *log.Logger) (*bootedVM, error) {
	var vmLogger *log.Logger
	if cfg.vmDebug {
		vmLogger = logger
	}
	v := vm.New(cfg.name, cfg.platform, vmLogger)

	nvram, err := vm.OpenPersistentNVRAM(os.TempDir(), cfg.name, defaultNVRAMSize)
	if err != nil {
		return nil, fmt.Errorf("nvram: %w", err)
	}

	if err := v.Init(vm.Config{
		RAMSizeBytes:        cfg.ramSizeMB << 20,
		ROMPath:             cfg.romPath,
		NVRAMBacking:        nvram.Addr,
		NVRAMChecksumStart:  0,
		NVRAMChecksumEnd:    defaultNVRAMSize - 2,
		NVRAMChecksumOffset: defaultNVRAMSize - 2,
	}); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	if err := reg.Add("vm", cfg.name, v); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	if cfg.startupConfig != "" || cfg.privateConfig != "" {
		startup, err := readFileOrEmpty(cfg.startupConfig)
		if err != nil {
			return nil, fmt.Errorf("startup-config: %w", err)
		}
		private, err := readFileOrEmpty(cfg.privateConfig)
		if err != nil {
			return nil, fmt.Errorf("private-config: %w", err)
		}
		if err := v.NVRAM.PushConfig(startup, private); err != nil {
			return nil, fmt.Errorf("push config: %w", err)
		}
	}

	cpu, tick, err := newGuestCPU(cfg, v.PhysMap())
	if err != nil {
		return nil, err
	}
	v.AddCPU(cpu, tcb.NewManager(decoderFor(cfg.arch), tcb.NewSharedGroup(), true))

	wheel := timer.NewPTaskManager(cfg.timerItvMS)
	wheel.Start()
	wheel.Add(func(object, arg interface{}) { tick() }, nil, nil)

	var hv *hypervisor.Server
	if !cfg.noctrl {
		hv = hypervisor.NewServer(reg, logger)
		if err := hv.Listen(cfg.consoleBindingAddr); err != nil {
			wheel.Stop()
			return nil, fmt.Errorf("hypervisor: %w", err)
		}
	}

	if err := v.Start(); err != nil {
		if hv != nil {
			hv.Close()
		}
		wheel.Stop()
		return nil, fmt.Errorf("start: %w", err)
	}

	return &bootedVM{vm: v, wheel: wheel, hv: hv, logger: logger}, nil
}

// decoderFor returns the tcb.Decoder matching cfg.arch; parseFlags
// already rejects any other value.
func decoderFor(arch string) tcb.Decoder {
	if arch == "ppc32" {
		return ppc32.NewDecoder()
	}
	return mips64.NewDecoder()
}

// newGuestCPU builds an MTS and CPU for cfg.arch and wires the CPU's
// own hardware-TLB state back into the MTS as its Walker via
// mts.MTS.SetWalker — the CPU must already exist to expose that state
// (CP0/MSR), but the MTS must already exist to construct the CPU, so
// construction happens in two passes.
func newGuestCPU(cfg *config, phys *mts.PhysMap) (vm.CPU, func(), error) {
	const tlbSizeLog2 = 6

	switch cfg.arch {
	case "ppc32":
		m := mts.New(nil, phys, tlbSizeLog2, nil)
		c := ppc32.New(m)
		m.SetWalker(ppc32.NewWalker(c.MSR()))
		if cfg.hasIdlePC {
			c.SetIdlePC(uint32(cfg.idlePC))
		}
		return c, c.Tick, nil
	default:
		m := mts.New(nil, phys, tlbSizeLog2, nil)
		c := mips64.New(m)
		m.SetWalker(mips64.NewWalker(c.CP0()))
		if cfg.hasIdlePC {
			c.SetIdlePC(cfg.idlePC)
		}
		return c, c.Tick, nil
	}
}

func readFileOrEmpty(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
