// Package device implements the VDevice framework of spec.md §4.I: a
// sorted address map of memory-mapped devices, a PCI configuration
// bus, and IRQ routing, plus the minimal concrete device models needed
// to exercise that framework end-to-end (NVRAM, a UART-shaped serial
// console, and a PIC-shaped interrupt controller). Concrete device
// *models* beyond these are out of core scope per spec.md §1.
package device

import (
	"sort"
	"sync"

	"github.com/dynamips/dynamips-go/pkg/mts"
)

// VDevice is one memory-mapped device: a name, the physical window it
// answers to, and the mts.MMIOHandler spec.md §4.I's VDevice wraps.
type VDevice struct {
	Name    string
	Base    uint64
	Length  uint64
	Handler mts.MMIOHandler
}

// Bus is the VM's sorted device map: devices are kept ordered by Base
// so a physical address can be resolved to its owning device with a
// binary search, the same shape spec.md §4.I calls out ("VDevice
// sorted address map").
type Bus struct {
	mu      sync.RWMutex
	devices []*VDevice
}

func NewBus() *Bus { return &Bus{} }

// Register inserts d into the sorted device list. Overlap with an
// existing device's window is a programming error in the VM's device
// graph construction, not a runtime condition devices need to handle,
// so it panics rather than returning an error a caller could ignore.
func (b *Bus) Register(d *VDevice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := sort.Search(len(b.devices), func(i int) bool { return b.devices[i].Base >= d.Base })
	if i < len(b.devices) && overlaps(b.devices[i], d) {
		panic("device: overlapping registration for " + d.Name + " and " + b.devices[i].Name)
	}
	if i > 0 && overlaps(b.devices[i-1], d) {
		panic("device: overlapping registration for " + d.Name + " and " + b.devices[i-1].Name)
	}

	b.devices = append(b.devices, nil)
	copy(b.devices[i+1:], b.devices[i:])
	b.devices[i] = d
}

func overlaps(a, b *VDevice) bool {
	return a.Base < b.Base+b.Length && b.Base < a.Base+a.Length
}

// Lookup resolves addr to the device whose window contains it, or nil
// if no device answers there.
func (b *Bus) Lookup(addr uint64) *VDevice {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := sort.Search(len(b.devices), func(i int) bool { return b.devices[i].Base > addr })
	if i == 0 {
		return nil
	}
	d := b.devices[i-1]
	if addr >= d.Base && addr < d.Base+d.Length {
		return d
	}
	return nil
}

// AsPhysRegions turns every registered device into an mts.PhysRegion,
// the form pkg/vm installs into a CPU's mts.PhysMap.
func (b *Bus) AsPhysRegions() []*mts.PhysRegion {
	b.mu.RLock()
	defer b.mu.RUnlock()

	regions := make([]*mts.PhysRegion, len(b.devices))
	for i, d := range b.devices {
		regions[i] = &mts.PhysRegion{
			Base:    d.Base,
			Length:  d.Length,
			Perm:    mts.PermRead | mts.PermWrite,
			Handler: d.Handler,
		}
	}
	return regions
}

// IRQRouter delivers device-raised IRQ lines to the VM's CPUs. A
// device calls Raise/Clear with its own logical line number; Router
// maps each line to a single sink (see Connect), per spec.md §4.H's VM
// container carrying an IRQRouter alongside the CPU group.
type IRQRouter struct {
	mu       sync.Mutex
	handlers map[uint]func(assert bool)
}

func NewIRQRouter() *IRQRouter {
	return &IRQRouter{handlers: make(map[uint]func(assert bool))}
}

// Connect wires line to a CPU's SetIRQ/ClearIRQ pair (or any other
// sink matching this shape), replacing whatever was wired before.
func (r *IRQRouter) Connect(line uint, sink func(assert bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[line] = sink
}

func (r *IRQRouter) Raise(line uint) {
	r.mu.Lock()
	sink := r.handlers[line]
	r.mu.Unlock()
	if sink != nil {
		sink(true)
	}
}

func (r *IRQRouter) Clear(line uint) {
	r.mu.Lock()
	sink := r.handlers[line]
	r.mu.Unlock()
	if sink != nil {
		sink(false)
	}
}
