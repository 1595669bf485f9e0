package nio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// tcpFramed wraps a net.Conn with a 2-byte big-endian length prefix per
// packet: TCP has no datagram boundaries of its own, so every TCP NIO
// variant needs a framing convention to preserve Ethernet-frame
// boundaries across the stream.
type tcpFramed struct {
	base
	conn   net.Conn
	closed bool
}

func (t *tcpFramed) Send(pkt []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return -1, ErrClosed
	}
	if len(pkt) > 0xFFFF {
		return -1, fmt.Errorf("nio: tcp packet too large (%d bytes)", len(pkt))
	}
	if !t.CanTransmit() || !t.bw.allow(len(pkt)+2) {
		t.recordSend(len(pkt), true)
		return 0, nil
	}

	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(pkt)))
	if _, err := t.conn.Write(hdr[:]); err != nil {
		t.recordSend(0, true)
		return -1, fmt.Errorf("nio: tcp send header: %w", err)
	}
	n, err := t.conn.Write(pkt)
	if err != nil {
		t.recordSend(0, true)
		return -1, fmt.Errorf("nio: tcp send: %w", err)
	}
	t.recordSend(n, false)
	return n, nil
}

func (t *tcpFramed) Recv() ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		t.recordRecv(0, true)
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.conn, buf); err != nil {
		t.recordRecv(0, true)
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	t.recordRecv(len(buf), false)
	return buf, nil
}

func (t *tcpFramed) FD() int { return -1 }

func (t *tcpFramed) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

// TCPClientNIO dials out to a remote hypervisor-side console/NIO listener.
type TCPClientNIO struct{ tcpFramed }

// NewTCPClientNIO dials addr and wraps the connection as a framed NIO.
func NewTCPClientNIO(addr string, limitBps uint64) (*TCPClientNIO, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nio: tcp dial %s: %w", addr, err)
	}
	return &TCPClientNIO{tcpFramed{base: newBase(limitBps), conn: conn}}, nil
}

// TCPServerNIO accepts a single inbound connection and wraps it as a
// framed NIO, the "--console-binding-addr" server shape of spec.md §6.
type TCPServerNIO struct{ tcpFramed }

// ListenTCPServerNIO binds addr and blocks until one client connects.
func ListenTCPServerNIO(addr string, limitBps uint64) (*TCPServerNIO, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nio: tcp listen %s: %w", addr, err)
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("nio: tcp accept on %s: %w", addr, err)
	}
	return &TCPServerNIO{tcpFramed{base: newBase(limitBps), conn: conn}}, nil
}
