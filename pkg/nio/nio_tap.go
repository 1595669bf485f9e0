//go:build linux

package nio

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// TAPNIO is a NIO backed by a Linux TAP device (/dev/net/tun,
// IFF_TAP|IFF_NO_PI): packets Send writes appear as raw Ethernet
// frames on the host's tapN interface, and frames the host sends out
// that interface arrive from Recv. This is spec.md §4.D's TAP
// variant, alongside UNIX/UDP/TCP.
type TAPNIO struct {
	base
	fd     int
	name   string
	closed bool
}

// ifReq mirrors enough of the kernel's struct ifreq for TUNSETIFF: the
// interface name followed by the ifr_flags union slot, padded out to
// the struct's full size so the ioctl never reads past this value.
type ifReq struct {
	Name  [16]byte
	Flags uint16
	_     [22]byte
}

// NewTAPNIO opens /dev/net/tun and attaches it to devName, creating
// the interface if it does not already exist.
func NewTAPNIO(devName string, limitBps uint64) (*TAPNIO, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("nio: open /dev/net/tun: %w", err)
	}

	var req ifReq
	copy(req.Name[:], devName)
	req.Flags = unix.IFF_TAP | unix.IFF_NO_PI

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("nio: TUNSETIFF %s: %w", devName, errno)
	}

	return &TAPNIO{base: newBase(limitBps), fd: fd, name: devName}, nil
}

func (t *TAPNIO) Send(pkt []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return -1, ErrClosed
	}
	if !t.CanTransmit() || !t.bw.allow(len(pkt)) {
		t.recordSend(len(pkt), true)
		return 0, nil
	}
	n, err := unix.Write(t.fd, pkt)
	if err != nil {
		t.recordSend(0, true)
		return -1, fmt.Errorf("nio: tap write %s: %w", t.name, err)
	}
	t.recordSend(n, false)
	return n, nil
}

func (t *TAPNIO) Recv() ([]byte, error) {
	buf := make([]byte, 65536)
	n, err := unix.Read(t.fd, buf)
	if err != nil {
		t.recordRecv(0, true)
		return nil, fmt.Errorf("nio: tap read %s: %w", t.name, err)
	}
	if n == 0 {
		t.recordRecv(0, true)
		return nil, ErrClosed
	}
	t.recordRecv(n, false)
	return buf[:n], nil
}

func (t *TAPNIO) FD() int { return t.fd }

func (t *TAPNIO) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return unix.Close(t.fd)
}
