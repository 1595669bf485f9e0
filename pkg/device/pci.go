package device

import (
	"sync"

	"github.com/dynamips/dynamips-go/pkg/mts"
)

// PCIFunction is one function's 256-byte configuration space plus its
// own BAR-mapped MMIO regions, the minimal shape spec.md §4.I's "PCI
// bus tree" requires to be exercised: config space read/write and BAR
// decode, not the full enumeration/capability machinery real PCI has.
type PCIFunction struct {
	VendorID, DeviceID uint16
	ClassCode          uint32 // class/subclass/prog-if packed as in real config space offset 0x08

	config [256]byte
	bars   [6]uint32
}

// NewPCIFunction seeds the identification fields of config space the
// way real firmware/OS probing expects to find them at offsets 0x00
// and 0x08.
func NewPCIFunction(vendor, device uint16, class uint32) *PCIFunction {
	f := &PCIFunction{VendorID: vendor, DeviceID: device, ClassCode: class}
	f.config[0], f.config[1] = byte(vendor), byte(vendor>>8)
	f.config[2], f.config[3] = byte(device), byte(device>>8)
	f.config[8] = byte(class)
	f.config[9] = byte(class >> 8)
	f.config[10] = byte(class >> 16)
	return f
}

func (f *PCIFunction) readConfig(off uint8, width mts.AccessWidth) uint32 {
	var v uint32
	for i := mts.AccessWidth(0); i < width && int(off)+int(i) < len(f.config); i++ {
		v |= uint32(f.config[int(off)+int(i)]) << (8 * i)
	}
	return v
}

func (f *PCIFunction) writeConfig(off uint8, width mts.AccessWidth, val uint32) {
	// BAR registers (offsets 0x10-0x27) are held in bars[]: a write
	// stores the value as given (no size probing is modeled) and is read
	// back through BAR, not through config space. Every other offset,
	// identification and class fields included, is written as plain bytes.
	if off >= 0x10 && off < 0x28 {
		idx := (off - 0x10) / 4
		f.bars[idx] = val
		return
	}
	for i := mts.AccessWidth(0); i < width && int(off)+int(i) < len(f.config); i++ {
		f.config[int(off)+int(i)] = byte(val >> (8 * i))
	}
}

// BAR returns the current value of base-address register n (0-5).
func (f *PCIFunction) BAR(n int) uint32 { return f.bars[n] }

// PCIBus implements the CONFIG_ADDRESS/CONFIG_DATA window protocol of
// spec.md §4.I: one MMIO handler registered at the bus's I/O window,
// decoding bus/device/function/register from CONFIG_ADDRESS and
// routing CONFIG_DATA accesses to the selected function.
type PCIBus struct {
	mu        sync.Mutex
	functions map[uint32]*PCIFunction // key: (dev<<3)|fn
	address   uint32
}

func NewPCIBus() *PCIBus { return &PCIBus{functions: make(map[uint32]*PCIFunction)} }

// Attach registers fn at PCI device/function address (dev, function).
func (p *PCIBus) Attach(dev, function uint8, fn *PCIFunction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.functions[uint32(dev)<<3|uint32(function)] = fn
}

var _ mts.MMIOHandler = (*PCIBus)(nil)

// MMIORead/MMIOWrite implement the CONFIG_ADDRESS (offset 0) /
// CONFIG_DATA (offset 4) pair of the standard PCI 0xCF8/0xCFC
// mechanism, relative to wherever pkg/vm maps this bus's MMIO window.
func (p *PCIBus) MMIORead(offset uint64, width mts.AccessWidth) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch offset {
	case 0:
		return uint64(p.address)
	case 4:
		fn, reg, ok := p.decode()
		if !ok {
			return 0xFFFFFFFF
		}
		return uint64(fn.readConfig(reg, width))
	default:
		return 0
	}
}

func (p *PCIBus) MMIOWrite(offset uint64, width mts.AccessWidth, value uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch offset {
	case 0:
		p.address = uint32(value)
	case 4:
		fn, reg, ok := p.decode()
		if ok {
			fn.writeConfig(reg, width, uint32(value))
		}
	}
}

// decode splits the latched CONFIG_ADDRESS into the target function
// and register offset, per the standard bit layout: bit31 enable,
// bits23-16 bus (ignored, single-bus model), bits15-11 device, bits10-8
// function, bits7-0 register.
func (p *PCIBus) decode() (*PCIFunction, uint8, bool) {
	if p.address&0x80000000 == 0 {
		return nil, 0, false
	}
	dev := uint8((p.address >> 11) & 0x1F)
	fn := uint8((p.address >> 8) & 0x7)
	reg := uint8(p.address & 0xFC)
	f, ok := p.functions[uint32(dev)<<3|uint32(fn)]
	return f, reg, ok
}
