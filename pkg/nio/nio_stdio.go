package nio

import (
	"fmt"
	"os"

	"github.com/eiannone/keyboard"
	"golang.org/x/term"
)

// StdioNIO bridges the guest console UART to the host terminal: Send
// writes guest output straight to stdout, Recv polls host keystrokes
// the way the teacher's lc3 KBSR/KBDR memory-mapped registers do, one
// key at a time via github.com/eiannone/keyboard.
type StdioNIO struct {
	base
	oldState *term.State
	opened   bool
	closed   chan struct{}
}

// NewStdioNIO puts the controlling terminal into raw mode (if it is a
// terminal) and opens the keyboard event stream.
func NewStdioNIO() (*StdioNIO, error) {
	s := &StdioNIO{closed: make(chan struct{})}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		old, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return nil, fmt.Errorf("nio: stdio raw mode: %w", err)
		}
		s.oldState = old
	}
	if err := keyboard.Open(); err != nil {
		if s.oldState != nil {
			term.Restore(int(os.Stdin.Fd()), s.oldState)
		}
		return nil, fmt.Errorf("nio: stdio keyboard open: %w", err)
	}
	s.opened = true
	return s, nil
}

func (s *StdioNIO) Send(pkt []byte) (int, error) {
	select {
	case <-s.closed:
		return -1, ErrClosed
	default:
	}
	n, err := os.Stdout.Write(pkt)
	if err != nil {
		s.recordSend(0, true)
		return -1, fmt.Errorf("nio: stdio write: %w", err)
	}
	s.recordSend(n, false)
	return n, nil
}

// Recv blocks for a single keystroke and returns it as a one-byte
// packet, mirroring the teacher's MR_KBSR/MR_KBDR poll but pushed
// rather than polled: the RX listener's per-NIO goroutine calls Recv
// in a loop, so blocking here is the idiomatic equivalent.
func (s *StdioNIO) Recv() ([]byte, error) {
	ch, key, err := keyboard.GetSingleKey()
	if err != nil {
		s.recordRecv(0, true)
		return nil, fmt.Errorf("nio: stdio recv: %w", err)
	}
	if key == keyboard.KeyCtrlC {
		s.recordRecv(0, true)
		return nil, ErrClosed
	}
	s.recordRecv(1, false)
	return []byte{byte(ch)}, nil
}

func (s *StdioNIO) FD() int { return int(os.Stdin.Fd()) }

func (s *StdioNIO) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	if s.opened {
		keyboard.Close()
	}
	if s.oldState != nil {
		return term.Restore(int(os.Stdin.Fd()), s.oldState)
	}
	return nil
}
