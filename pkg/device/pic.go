package device

import "sync"

// PIC is a PIC-shaped interrupt controller: up to 8 input lines with a
// mask register and priority-ordered resolution to a single output
// line, the same mask/request/service register triad
// BigBossBoolingB-VDATABPro/core_engine/devices/pic.go implements for
// a real 8259A, reduced to the single-controller, no-cascade case a
// dynamips-style board needs (spec.md §4.I's "IRQRouter decouples
// devices from CPUs"; PIC sits between device lines and that router).
type PIC struct {
	mu sync.Mutex

	irr byte // interrupt request register: lines currently asserted
	imr byte // interrupt mask register: 1 bit masks that line
	isr byte // in-service register: line currently being serviced

	notify func(assert bool) // wired to the CPU's external-interrupt line
}

// NewPIC creates a PIC whose output is delivered through notify
// whenever the set of unmasked pending lines becomes non-empty or
// empty.
func NewPIC(notify func(assert bool)) *PIC {
	return &PIC{notify: notify}
}

// RaiseLine asserts input line n (0-7).
func (p *PIC) RaiseLine(n uint) {
	p.mu.Lock()
	p.irr |= 1 << n
	p.mu.Unlock()
	p.update()
}

// ClearLine deasserts input line n.
func (p *PIC) ClearLine(n uint) {
	p.mu.Lock()
	p.irr &^= 1 << n
	p.mu.Unlock()
	p.update()
}

// SetMask replaces the mask register wholesale; a set bit disables
// that line from reaching the output.
func (p *PIC) SetMask(mask byte) {
	p.mu.Lock()
	p.imr = mask
	p.mu.Unlock()
	p.update()
}

// Mask returns the current mask register.
func (p *PIC) Mask() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.imr
}

// Acknowledge resolves the highest-priority pending unmasked line
// (lowest line number wins, matching the 8259A's fixed-priority mode),
// moves it into service, and returns its line number and true. If no
// line is pending it returns false.
func (p *PIC) Acknowledge() (uint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := p.irr &^ p.imr
	if pending == 0 {
		return 0, false
	}
	var line uint
	for line = 0; line < 8; line++ {
		if pending&(1<<line) != 0 {
			break
		}
	}
	p.isr |= 1 << line
	p.irr &^= 1 << line
	return line, true
}

// EndOfInterrupt retires line n from the in-service register,
// equivalent to a specific EOI write for line n on a real 8259A.
func (p *PIC) EndOfInterrupt(n uint) {
	p.mu.Lock()
	p.isr &^= 1 << n
	p.mu.Unlock()
	p.update()
}

// update recomputes whether any unmasked line is pending and drives
// the wired CPU line accordingly, level-triggered the way dynamips
// boards wire their PIC to a MIPS/PowerPC external-interrupt input.
func (p *PIC) update() {
	p.mu.Lock()
	assert := p.irr&^p.imr != 0
	p.mu.Unlock()
	if p.notify != nil {
		p.notify(assert)
	}
}
