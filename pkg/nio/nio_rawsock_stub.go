//go:build !linux

package nio

import "fmt"

// RawsockNIO is declared on every platform so callers (e.g. the
// hypervisor's create_rawsock dispatch) can reference the type
// regardless of build target; only the Linux build in nio_rawsock.go
// can actually construct one.
type RawsockNIO struct{ base }

// NewRawsockNIO always fails off Linux.
func NewRawsockNIO(ifaceName string, limitBps uint64) (*RawsockNIO, error) {
	return nil, fmt.Errorf("nio: rawsock %s: %w", ifaceName, ErrUnsupported)
}

func (r *RawsockNIO) Send(pkt []byte) (int, error) { return -1, ErrClosed }
func (r *RawsockNIO) Recv() ([]byte, error)        { return nil, ErrClosed }
func (r *RawsockNIO) FD() int                      { return -1 }
func (r *RawsockNIO) Close() error                 { return nil }
