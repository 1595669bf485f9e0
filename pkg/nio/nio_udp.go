package nio

import (
	"fmt"
	"net"
)

// UDPNIO is a bidirectional UDP endpoint: it binds a local port and
// sends to/receives from a fixed remote address, the conventional
// dynamips "NIO_UDP" shape (spec.md §8 scenario 2).
type UDPNIO struct {
	base
	conn   *net.UDPConn
	remote *net.UDPAddr
	closed bool
}

// NewUDPNIO binds localAddr (host:port, port 0 means ephemeral) and
// targets remoteAddr for every Send.
func NewUDPNIO(localAddr, remoteAddr string, limitBps uint64) (*UDPNIO, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("nio: resolve local %s: %w", localAddr, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("nio: resolve remote %s: %w", remoteAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("nio: listen udp %s: %w", localAddr, err)
	}
	return &UDPNIO{base: newBase(limitBps), conn: conn, remote: raddr}, nil
}

// NewUDPNIOAutoBind tries each port in [lo, hi] until one binds, the
// "auto-bound port range" variant of spec.md §4.D.
func NewUDPNIOAutoBind(host string, lo, hi int, remoteAddr string, limitBps uint64) (*UDPNIO, error) {
	var lastErr error
	for port := lo; port <= hi; port++ {
		n, err := NewUDPNIO(fmt.Sprintf("%s:%d", host, port), remoteAddr, limitBps)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("nio: no free port in [%d,%d]: %w", lo, hi, lastErr)
}

func (u *UDPNIO) Send(pkt []byte) (int, error) {
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
	n, err := u.conn.WriteToUDP(pkt, u.remote)
	if err != nil {
		u.recordSend(0, true)
		return -1, fmt.Errorf("nio: udp send: %w", err)
	}
	u.recordSend(n, false)
	return n, nil
}

func (u *UDPNIO) Recv() ([]byte, error) {
	buf := make([]byte, 65536)
	n, _, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		u.recordRecv(0, true)
		return nil, fmt.Errorf("nio: udp recv: %w", err)
	}
	u.recordRecv(n, false)
	return buf[:n], nil
}

func (u *UDPNIO) FD() int {
	return -1 // net.UDPConn does not expose a raw fd without SyscallConn
}

func (u *UDPNIO) Close() error {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	return u.conn.Close()
}
