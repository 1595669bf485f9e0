//go:build !linux

package nio

import "fmt"

// TAPNIO is declared on every platform so callers (e.g. the
// hypervisor's create_tap dispatch) can reference the type regardless
// of build target; only the Linux build in nio_tap.go can actually
// construct one, since TAP devices are created through Linux's
// /dev/net/tun and TUNSETIFF, which has no portable equivalent.
type TAPNIO struct{ base }

// NewTAPNIO always fails off Linux.
func NewTAPNIO(devName string, limitBps uint64) (*TAPNIO, error) {
	return nil, fmt.Errorf("nio: tap %s: %w", devName, ErrUnsupported)
}

func (t *TAPNIO) Send(pkt []byte) (int, error) { return -1, ErrClosed }
func (t *TAPNIO) Recv() ([]byte, error)        { return nil, ErrClosed }
func (t *TAPNIO) FD() int                      { return -1 }
func (t *TAPNIO) Close() error                 { return nil }
