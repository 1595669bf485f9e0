//go:build !windows

package nio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// VDENIO is a NIO backed by a VDE (Virtual Distributed Ethernet) plug:
// an AF_UNIX SOCK_DGRAM socket bound at a local path, exchanging
// Ethernet frames with a vde_switch listening at switchPath. This
// covers the plug's data path, spec.md §4.D's VDE variant; the
// control-socket port-negotiation handshake a full vde_plug performs
// before this is out of scope — callers address the switch's data
// socket directly, the same direct-attach mode vde_switch's -sock
// option exposes.
type VDENIO struct {
	base
	fd         int
	localPath  string
	switchAddr *unix.SockaddrUnix
	closed     bool
}

// NewVDENIO binds localPath (recreated fresh on every call) and sends
// every packet to switchPath.
func NewVDENIO(switchPath, localPath string, limitBps uint64) (*VDENIO, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("nio: vde socket: %w", err)
	}
	os.Remove(localPath)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: localPath}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("nio: vde bind %s: %w", localPath, err)
	}
	return &VDENIO{
		base:       newBase(limitBps),
		fd:         fd,
		localPath:  localPath,
		switchAddr: &unix.SockaddrUnix{Name: switchPath},
	}, nil
}

func (v *VDENIO) Send(pkt []byte) (int, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return -1, ErrClosed
	}
	if !v.CanTransmit() || !v.bw.allow(len(pkt)) {
		v.recordSend(len(pkt), true)
		return 0, nil
	}
	if err := unix.Sendto(v.fd, pkt, 0, v.switchAddr); err != nil {
		v.recordSend(0, true)
		return -1, fmt.Errorf("nio: vde send: %w", err)
	}
	v.recordSend(len(pkt), false)
	return len(pkt), nil
}

func (v *VDENIO) Recv() ([]byte, error) {
	buf := make([]byte, 65536)
	n, _, err := unix.Recvfrom(v.fd, buf, 0)
	if err != nil {
		v.recordRecv(0, true)
		return nil, fmt.Errorf("nio: vde recv: %w", err)
	}
	if n == 0 {
		v.recordRecv(0, true)
		return nil, ErrClosed
	}
	v.recordRecv(n, false)
	return buf[:n], nil
}

func (v *VDENIO) FD() int { return v.fd }

func (v *VDENIO) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()
	err := unix.Close(v.fd)
	os.Remove(v.localPath)
	return err
}
