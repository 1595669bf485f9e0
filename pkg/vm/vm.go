// Package vm implements the VM container of spec.md §4.H: the object
// that owns a CPU group, RAM/ROM/NVRAM backing, the device graph, and
// the IRQ router, exposed through a uniform
// create -> init -> start -> suspend -> resume -> stop -> free
// lifecycle. It is the component the registry names and the
// hypervisor/CLI front ends drive.
package vm

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/dynamips/dynamips-go/internal/hostmem"
	"github.com/dynamips/dynamips-go/pkg/device"
	"github.com/dynamips/dynamips-go/pkg/mts"
	"github.com/dynamips/dynamips-go/pkg/tcb"
)

// State is the VM's own lifecycle state, distinct from any one CPU's
// RunState (a VM with three CPUs may have all three Running while the
// VM itself just reports Running as the aggregate).
type State int

const (
	StateNew State = iota
	StateInitialized
	StateRunning
	StateSuspended
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	ErrWrongState  = errors.New("vm: operation not valid in current state")
	ErrNoCPUs      = errors.New("vm: no CPUs attached")
	ErrBadRAMSize  = errors.New("vm: invalid RAM size")
)

// CPU is the subset of pkg/cpu/{mips64,ppc32}.CPU the VM drives
// generically, so this package need not import either architecture
// package. Both concrete CPU types satisfy it without any adapter.
type CPU interface {
	Reset()
	RunCPU(mgr *tcb.Manager)
	Suspend()
	Resume()
	Stop()
}

// cpuSlot pairs one CPU with the per-CPU translation-block manager
// spec.md §4.F requires ("TCB hashes: per-CPU, accessed only by the
// owning CPU thread").
type cpuSlot struct {
	cpu  CPU
	mgr  *tcb.Manager
	done chan struct{}
}

// VM is one emulated router instance: CPU group, memory backing,
// device graph, and IRQ routing, per spec.md §4.H.
type VM struct {
	mu sync.Mutex

	Name     string
	Platform string

	RAM   []byte
	rom   *hostmem.Region
	NVRAM *device.NVRAM

	Bus       *device.Bus
	IRQRouter *device.IRQRouter
	phys      *mts.PhysMap

	cpus []*cpuSlot

	state  State
	logger *log.Logger
}

// New creates a VM named name (the registry key the CLI/hypervisor
// use), in StateNew. logger may be nil, in which case lifecycle
// events are not logged.
func New(name, platform string, logger *log.Logger) *VM {
	return &VM{
		Name:      name,
		Platform:  platform,
		Bus:       device.NewBus(),
		IRQRouter: device.NewIRQRouter(),
		phys:      mts.NewPhysMap(),
		logger:    logger,
	}
}

// Config is the set of resources Init needs: RAM size, an optional
// ROM image to map read-only at physical address 0, and the NVRAM
// size plus the checksum range within it, matching the CLI surface's
// --ram-size/--rom/--nvram-size-like inputs (spec.md §6).
type Config struct {
	RAMSizeBytes int
	ROMPath      string // empty: no ROM region installed

	NVRAMBacking               []byte // nil: NVRAM allocated fresh in-memory
	NVRAMChecksumStart, NVRAMChecksumEnd, NVRAMChecksumOffset uint64
}

func (vm *VM) log(format string, args ...interface{}) {
	if vm.logger != nil {
		vm.logger.Printf(format, args...)
	}
}

// Init allocates RAM, maps the ROM image if given, constructs NVRAM,
// and installs both into the VM's physical address map at base 0
// (RAM) and 0x1FC00000 (ROM, the MIPS64/PPC32 boot-ROM convention
// dynamips-modeled boards use) — matching spec.md §3's "VM
// initialization allocates RAM, maps devices ... runs the boot loader
// into guest memory."  RegisterDevice calls for additional devices
// (NVRAM, UART, PIC, PCI bus) must happen after Init and before Start.
func (vm *VM) Init(cfg Config) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state != StateNew {
		return fmt.Errorf("%w: Init called in state %s", ErrWrongState, vm.state)
	}
	if cfg.RAMSizeBytes <= 0 {
		return ErrBadRAMSize
	}

	vm.RAM = make([]byte, cfg.RAMSizeBytes)
	vm.phys.Add(&mts.PhysRegion{
		Base: 0, Length: uint64(cfg.RAMSizeBytes),
		Perm: mts.PermRead | mts.PermWrite | mts.PermExec, Exec: true,
		HostBase: vm.RAM,
	})

	if cfg.ROMPath != "" {
		r, err := hostmem.MapFileRO(cfg.ROMPath)
		if err != nil {
			return fmt.Errorf("vm: map ROM %s: %w", cfg.ROMPath, err)
		}
		vm.rom = r
		vm.phys.Add(&mts.PhysRegion{
			Base: 0x1FC00000, Length: uint64(r.Len()),
			Perm: mts.PermRead | mts.PermExec, Exec: true,
			HostBase: r.Addr,
		})
	}

	backing := cfg.NVRAMBacking
	if backing == nil {
		backing = make([]byte, 0)
	}
	vm.NVRAM = device.NewNVRAM(backing, cfg.NVRAMChecksumStart, cfg.NVRAMChecksumEnd, cfg.NVRAMChecksumOffset)

	vm.state = StateInitialized
	vm.log("vm %s: initialized, ram=%d rom=%v", vm.Name, cfg.RAMSizeBytes, cfg.ROMPath != "")
	return nil
}

// RegisterDevice adds d to both the VM's Bus (for CLI/debug address
// lookup) and its physical address map (so CPUs actually dispatch to
// it). Must be called before Start; the physical map is only
// consulted lazily on soft-TLB misses, but installing devices after
// CPUs have begun executing would race with their MTS reads of phys.
func (vm *VM) RegisterDevice(d *device.VDevice) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.Bus.Register(d)
	vm.phys.Add(&mts.PhysRegion{
		Base: d.Base, Length: d.Length,
		Perm: mts.PermRead | mts.PermWrite,
		Handler: d.Handler,
	})
}

// PhysMap exposes the VM's physical address map so architecture
// packages can construct each CPU's mts.MTS against the same regions
// (RAM, ROM, and every device registered so far).
func (vm *VM) PhysMap() *mts.PhysMap {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.phys
}

// AddCPU attaches cpu (already constructed against vm.PhysMap()) and
// its private translation-block manager to the CPU group.
func (vm *VM) AddCPU(cpu CPU, mgr *tcb.Manager) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.cpus = append(vm.cpus, &cpuSlot{cpu: cpu, mgr: mgr})
}

// Start resets every CPU and launches its dispatcher goroutine, per
// spec.md §5's "one thread per virtual CPU." Returns ErrNoCPUs if no
// CPU has been attached, and ErrWrongState outside StateInitialized.
func (vm *VM) Start() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state != StateInitialized {
		return fmt.Errorf("%w: Start called in state %s", ErrWrongState, vm.state)
	}
	if len(vm.cpus) == 0 {
		return ErrNoCPUs
	}

	for _, slot := range vm.cpus {
		slot.cpu.Reset()
		slot.done = make(chan struct{})
		go func(s *cpuSlot) {
			defer close(s.done)
			s.cpu.RunCPU(s.mgr)
		}(slot)
	}

	vm.state = StateRunning
	vm.log("vm %s: started %d cpu(s)", vm.Name, len(vm.cpus))
	return nil
}

// Suspend transitions every CPU out of Running without tearing down
// any state, the VM-level analogue of a single CPU's Suspend.
func (vm *VM) Suspend() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state != StateRunning {
		return fmt.Errorf("%w: Suspend called in state %s", ErrWrongState, vm.state)
	}
	for _, slot := range vm.cpus {
		slot.cpu.Suspend()
	}
	vm.state = StateSuspended
	vm.log("vm %s: suspended", vm.Name)
	return nil
}

// Resume transitions every CPU back to Running. The dispatcher
// goroutines launched by Start are still alive (RunCPU's loop exits
// only on Halted, not Suspended... they simply park in WaitForWork),
// so Resume does not relaunch any goroutine.
func (vm *VM) Resume() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state != StateSuspended {
		return fmt.Errorf("%w: Resume called in state %s", ErrWrongState, vm.state)
	}
	for _, slot := range vm.cpus {
		slot.cpu.Resume()
	}
	vm.state = StateRunning
	vm.log("vm %s: resumed", vm.Name)
	return nil
}

// Stop halts every CPU and waits for its dispatcher goroutine to
// finish its current block and exit. It does not tear down the
// registered devices; they stay on the Bus and in the physical map.
// Stop is valid from either StateRunning or StateSuspended.
func (vm *VM) Stop() error {
	vm.mu.Lock()
	if vm.state != StateRunning && vm.state != StateSuspended {
		vm.mu.Unlock()
		return fmt.Errorf("%w: Stop called in state %s", ErrWrongState, vm.state)
	}
	slots := append([]*cpuSlot(nil), vm.cpus...)
	vm.mu.Unlock()

	for _, slot := range slots {
		slot.cpu.Stop()
	}
	for _, slot := range slots {
		<-slot.done
	}

	vm.mu.Lock()
	vm.state = StateStopped
	vm.mu.Unlock()
	vm.log("vm %s: stopped", vm.Name)
	return nil
}

// Free releases host resources: unmaps the ROM region and every
// attached CPU's translation caches. The VM object itself is not
// reusable afterward.
func (vm *VM) Free() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	for _, slot := range vm.cpus {
		slot.mgr.Unbind()
	}
	if vm.rom != nil {
		if err := hostmem.Unmap(vm.rom); err != nil {
			return fmt.Errorf("vm: unmap rom: %w", err)
		}
		vm.rom = nil
	}
	vm.log("vm %s: freed", vm.Name)
	return nil
}

// State reports the VM's current lifecycle state.
func (vm *VM) State() State {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.state
}

// NVRAMPath derives the on-disk NVRAM path from the VM's name, the
// file-naming convention spec.md §4.H calls for ("A file-naming
// convention derives on-disk paths from VM name").
func NVRAMPath(dir, name string) string {
	return fmt.Sprintf("%s/%s_nvram", dir, name)
}

// OpenPersistentNVRAM maps (creating if absent) the NVRAM backing file
// at NVRAMPath(dir, name), sized size bytes, for a VM whose NVRAM must
// survive process restarts. The returned Region's Addr is suitable as
// Config.NVRAMBacking.
func OpenPersistentNVRAM(dir, name string, size int64) (*hostmem.Region, error) {
	path := NVRAMPath(dir, name)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("vm: nvram dir %s: %w", dir, err)
	}
	return hostmem.MapFileCreate(path, size)
}
