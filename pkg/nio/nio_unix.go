//go:build !windows

package nio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// UnixNIO is a NIO backed by one end of a SOCK_DGRAM socketpair, the
// in-process "connect two NIOs directly" shape used when bridging a
// device to another device without going through a real network.
type UnixNIO struct {
	base
	fd     int
	closed bool
}

// NewUnixNIOPair creates a connected pair of UnixNIOs; packets written
// to one arrive on the other, exactly the bridging semantics spec.md
// §8 scenario 2 exercises ("bridge two NIOs, feed packet A to B").
func NewUnixNIOPair(limitBps uint64) (*UnixNIO, *UnixNIO, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("nio: socketpair: %w", err)
	}
	a := &UnixNIO{base: newBase(limitBps), fd: fds[0]}
	b := &UnixNIO{base: newBase(limitBps), fd: fds[1]}
	return a, b, nil
}

func (u *UnixNIO) Send(pkt []byte) (int, error) {
	u.mu.Lock()
	closed := u.closed
	u.mu.Unlock()
	if closed {
		return -1, ErrClosed
	}
	if !u.CanTransmit() || !u.bw.allow(len(pkt)) {
		u.recordSend(len(pkt), true)
		return 0, nil
	}
	err := unix.Send(u.fd, pkt, 0)
	if err != nil {
		u.recordSend(0, true)
		return -1, fmt.Errorf("nio: unix send: %w", err)
	}
	u.recordSend(len(pkt), false)
	return len(pkt), nil
}

func (u *UnixNIO) Recv() ([]byte, error) {
	buf := make([]byte, 65536)
	n, _, err := unix.Recvfrom(u.fd, buf, 0)
	if err != nil {
		u.recordRecv(0, true)
		return nil, fmt.Errorf("nio: unix recv: %w", err)
	}
	if n == 0 {
		u.recordRecv(0, true)
		return nil, ErrClosed
	}
	u.recordRecv(n, false)
	return buf[:n], nil
}

func (u *UnixNIO) FD() int { return u.fd }

func (u *UnixNIO) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()
	return unix.Close(u.fd)
}
