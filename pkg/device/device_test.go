package device

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dynamips/dynamips-go/pkg/mts"
)

type stubHandler struct{ reads, writes int }

func (h *stubHandler) MMIORead(offset uint64, width mts.AccessWidth) uint64 {
	h.reads++
	return 0
}
func (h *stubHandler) MMIOWrite(offset uint64, width mts.AccessWidth, value uint64) { h.writes++ }

func TestBusLookupResolvesWindow(t *testing.T) {
	b := NewBus()
	h1, h2 := &stubHandler{}, &stubHandler{}
	b.Register(&VDevice{Name: "a", Base: 0x1000, Length: 0x100, Handler: h1})
	b.Register(&VDevice{Name: "b", Base: 0x2000, Length: 0x100, Handler: h2})

	if d := b.Lookup(0x1050); d == nil || d.Name != "a" {
		t.Fatalf("expected device a, got %v", d)
	}
	if d := b.Lookup(0x2099); d == nil || d.Name != "b" {
		t.Fatalf("expected device b, got %v", d)
	}
	if d := b.Lookup(0x1500); d != nil {
		t.Fatalf("expected no device in the gap, got %v", d)
	}
}

func TestBusRegisterPanicsOnOverlap(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overlapping registration")
		}
	}()
	b := NewBus()
	b.Register(&VDevice{Name: "a", Base: 0x1000, Length: 0x200, Handler: &stubHandler{}})
	b.Register(&VDevice{Name: "b", Base: 0x1100, Length: 0x100, Handler: &stubHandler{}})
}

func TestAsPhysRegionsPreservesWindows(t *testing.T) {
	b := NewBus()
	h := &stubHandler{}
	b.Register(&VDevice{Name: "a", Base: 0x4000, Length: 0x10, Handler: h})
	regions := b.AsPhysRegions()
	if len(regions) != 1 || regions[0].Base != 0x4000 || regions[0].Length != 0x10 {
		t.Fatalf("unexpected regions: %+v", regions)
	}
}

func TestIRQRouterDeliversAssertAndClear(t *testing.T) {
	r := NewIRQRouter()
	var asserted bool
	r.Connect(3, func(a bool) { asserted = a })
	r.Raise(3)
	if !asserted {
		t.Fatal("expected Raise to assert")
	}
	r.Clear(3)
	if asserted {
		t.Fatal("expected Clear to deassert")
	}
}

func TestPCIConfigSpaceRoundTrip(t *testing.T) {
	bus := NewPCIBus()
	fn := NewPCIFunction(0x1234, 0x5678, 0x020000)
	bus.Attach(1, 0, fn)

	addr := uint32(0x80000000) | (1 << 11) | 0x00
	bus.MMIOWrite(0, mts.Width32, uint64(addr))
	got := bus.MMIORead(4, mts.Width32)
	if uint16(got) != 0x1234 {
		t.Errorf("vendor id = %#x, want 0x1234", got)
	}

	bus.MMIOWrite(0, mts.Width32, uint64(addr|0x10))
	bus.MMIOWrite(4, mts.Width32, 0xF0000000)
	if bar := fn.BAR(0); bar != 0xF0000000 {
		t.Errorf("BAR0 = %#x, want 0xF0000000", bar)
	}
}

func TestPCIConfigSpaceDisabledReadsAllOnes(t *testing.T) {
	bus := NewPCIBus()
	bus.MMIOWrite(0, mts.Width32, 0)
	if got := bus.MMIORead(4, mts.Width32); got != 0xFFFFFFFF {
		t.Errorf("got %#x, want all-ones for disabled/unmapped config access", got)
	}
}

func TestNVRAMChecksumRoundTrip(t *testing.T) {
	n := NewNVRAMSize(64, 0, 62, 62)
	n.MMIOWrite(0, mts.Width32, 0xDEADBEEF)
	n.MMIOWrite(8, mts.Width16, 0x1234)
	if !n.VerifyChecksum() {
		t.Fatal("expected checksum to verify after writes")
	}
	n.Bytes()[4] ^= 0xFF
	if n.VerifyChecksum() {
		t.Fatal("expected checksum to fail after out-of-band corruption")
	}
}

func TestNVRAMLoadStore(t *testing.T) {
	n := NewNVRAMSize(16, 0, 14, 14)
	n.MMIOWrite(0, mts.Width32, 0x11223344)
	if got := n.MMIORead(0, mts.Width32); got != 0x11223344 {
		t.Errorf("got %#x, want 0x11223344", got)
	}
}

func TestNVRAMPushExtractConfigRoundTrip(t *testing.T) {
	n := NewNVRAMSize(256, 0, 254, 254)
	startup := []byte("hello\n")
	private := []byte("world\n")

	if err := n.PushConfig(startup, private); err != nil {
		t.Fatalf("PushConfig: %v", err)
	}
	if !n.VerifyChecksum() {
		t.Fatal("expected checksum to verify after PushConfig")
	}

	gotStartup, gotPrivate, err := n.ExtractConfig()
	if err != nil {
		t.Fatalf("ExtractConfig: %v", err)
	}
	if string(gotStartup) != string(startup) {
		t.Errorf("startup = %q, want %q", gotStartup, startup)
	}
	if string(gotPrivate) != string(private) {
		t.Errorf("private = %q, want %q", gotPrivate, private)
	}
}

func TestSerialTransmitAndReceive(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("A")
	s := NewSerial(&out, in, nil)

	s.MMIOWrite(uartTHR, mts.Width8, uint64('x'))
	if out.String() != "x" {
		t.Errorf("transmitted %q, want %q", out.String(), "x")
	}

	if lsr := s.MMIORead(uartLSR, mts.Width8); lsr&lsrDR == 0 {
		t.Fatal("expected LSR.DR set with a byte pending")
	}
	if got := s.MMIORead(uartRHR, mts.Width8); got != 'A' {
		t.Errorf("received %q, want %q", got, 'A')
	}
	if lsr := s.MMIORead(uartLSR, mts.Width8); lsr&lsrDR != 0 {
		t.Fatal("expected LSR.DR clear after the byte was consumed")
	}
}

func TestSerialPollIRQFiresOnlyWhenEnabledAndPending(t *testing.T) {
	in := strings.NewReader("z")
	var out bytes.Buffer
	fired := false
	s := NewSerial(&out, in, func() { fired = true })

	s.PollIRQ()
	if fired {
		t.Fatal("did not expect IRQ before RDA interrupt is enabled")
	}

	s.MMIOWrite(uartIER, mts.Width8, ierRDA)
	s.PollIRQ()
	if !fired {
		t.Fatal("expected IRQ once RDA is enabled and a byte is pending")
	}
}

func TestPICAcknowledgeRespectsPriorityAndMask(t *testing.T) {
	var asserted bool
	p := NewPIC(func(a bool) { asserted = a })

	p.RaiseLine(3)
	p.RaiseLine(1)
	if !asserted {
		t.Fatal("expected notify(true) once a line is pending")
	}

	line, ok := p.Acknowledge()
	if !ok || line != 1 {
		t.Fatalf("expected line 1 (higher priority), got %d ok=%v", line, ok)
	}

	p.SetMask(1 << 3)
	if _, ok := p.Acknowledge(); ok {
		t.Fatal("expected masked line 3 to not be acknowledged")
	}

	p.EndOfInterrupt(1)
	p.ClearLine(3)
	if asserted {
		t.Fatal("expected notify(false) once no lines remain pending")
	}
}
