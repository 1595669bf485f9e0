package device

import (
	"bufio"
	"io"
	"sync"

	"github.com/dynamips/dynamips-go/pkg/mts"
)

// UART register offsets, the same layout a real 16550A exposes and
// that BigBossBoolingB-VDATABPro/core_engine/devices/serial.go models
// in full. Only the console-relevant subset (THR/RHR, LSR, and the
// interrupt-enable/identification pair) is implemented; baud-rate
// divisor latches are accepted and stored but never change timing
// since this is a byte-oriented virtual console, not a real line.
const (
	uartTHR = 0 // write: transmit holding register
	uartRHR = 0 // read: receive holding register
	uartIER = 1 // interrupt enable
	uartIIR = 2 // interrupt identification (read-only)
	uartLCR = 3 // line control (DLAB lives in bit 7)
	uartMCR = 4 // modem control
	uartLSR = 5 // line status
	uartMSR = 6 // modem status
	uartSCR = 7 // scratch

	lsrTHRE = 1 << 5 // transmitter holding register empty
	lsrDR   = 1 << 0 // data ready

	ierRDA = 1 << 0 // receive-data-available interrupt enable
)

// Serial is a UART-shaped console device: output bytes go to an
// io.Writer (the VM's console sink), input bytes are pulled from a
// buffered io.Reader and surfaced through RHR/LSR, and an IRQ line is
// raised through an IRQRouter when input is pending, mirroring the
// register-driven HandleIO shape of a real 16550A without its full
// FIFO/baud-rate machinery.
type Serial struct {
	mu sync.Mutex

	out io.Writer
	in  *bufio.Reader

	ier, mcr, lcr, scr byte
	dlabLo, dlabHi     byte

	raiseIRQ func()
}

// NewSerial wires out as the byte sink for transmitted characters and
// in as the source of received characters. raiseIRQ, if non-nil, is
// called whenever a byte becomes available for read and RDA
// interrupts are enabled, the same edge a real UART would signal on
// its IRQ line.
func NewSerial(out io.Writer, in io.Reader, raiseIRQ func()) *Serial {
	return &Serial{out: out, in: bufio.NewReader(in), raiseIRQ: raiseIRQ}
}

var _ mts.MMIOHandler = (*Serial)(nil)

func (s *Serial) MMIORead(offset uint64, width mts.AccessWidth) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch offset {
	case uartRHR:
		if s.lcr&0x80 != 0 {
			return uint64(s.dlabLo)
		}
		b, err := s.in.ReadByte()
		if err != nil {
			return 0
		}
		return uint64(b)
	case uartIER:
		if s.lcr&0x80 != 0 {
			return uint64(s.dlabHi)
		}
		return uint64(s.ier)
	case uartIIR:
		if s.pending() {
			return 0x04 // RDA interrupt pending
		}
		return 0x01 // no interrupt pending
	case uartLCR:
		return uint64(s.lcr)
	case uartMCR:
		return uint64(s.mcr)
	case uartLSR:
		lsr := byte(lsrTHRE)
		if s.pending() {
			lsr |= lsrDR
		}
		return uint64(lsr)
	case uartMSR:
		return 0
	case uartSCR:
		return uint64(s.scr)
	default:
		return 0
	}
}

func (s *Serial) MMIOWrite(offset uint64, width mts.AccessWidth, value uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch offset {
	case uartTHR:
		if s.lcr&0x80 != 0 {
			s.dlabLo = byte(value)
			return
		}
		_, _ = s.out.Write([]byte{byte(value)})
	case uartIER:
		if s.lcr&0x80 != 0 {
			s.dlabHi = byte(value)
			return
		}
		s.ier = byte(value)
	case uartLCR:
		s.lcr = byte(value)
	case uartMCR:
		s.mcr = byte(value)
	case uartSCR:
		s.scr = byte(value)
	}
}

// pending reports whether a byte is available to read without
// consuming it.
func (s *Serial) pending() bool {
	_, err := s.in.Peek(1)
	return err == nil
}

// PollIRQ checks for pending input and, if the caller's RDA-enable
// state allows it, invokes the wired IRQ raiser. This console model
// has no background goroutine of its own pushing interrupts
// asynchronously, so an RDA interrupt is raised only when this is called.
func (s *Serial) PollIRQ() {
	s.mu.Lock()
	fire := s.raiseIRQ != nil && s.ier&ierRDA != 0 && s.pending()
	s.mu.Unlock()
	if fire {
		s.raiseIRQ()
	}
}
