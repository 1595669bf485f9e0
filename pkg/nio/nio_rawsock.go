//go:build linux

package nio

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// RawsockNIO reads/writes raw Ethernet frames off a host interface via
// libpcap, spec.md §4.D's "Linux raw Ethernet"/"generic pcap" variant.
// Off Linux, nio_rawsock_stub.go supplies the same type name behind an
// always-failing constructor.
type RawsockNIO struct {
	base
	handle *pcap.Handle
	closed bool
}

// NewRawsockNIO opens ifaceName in promiscuous mode with no read
// timeout (pcap.BlockForever), so Recv blocks until a frame arrives.
func NewRawsockNIO(ifaceName string, limitBps uint64) (*RawsockNIO, error) {
	handle, err := pcap.OpenLive(ifaceName, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("nio: pcap open %s: %w", ifaceName, err)
	}
	return &RawsockNIO{base: newBase(limitBps), handle: handle}, nil
}

func (r *RawsockNIO) Send(pkt []byte) (int, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return -1, ErrClosed
	}
	if !r.CanTransmit() || !r.bw.allow(len(pkt)) {
		r.recordSend(len(pkt), true)
		return 0, nil
	}
	if err := r.handle.WritePacketData(pkt); err != nil {
		r.recordSend(0, true)
		return -1, fmt.Errorf("nio: pcap write: %w", err)
	}
	r.recordSend(len(pkt), false)
	return len(pkt), nil
}

func (r *RawsockNIO) Recv() ([]byte, error) {
	data, _, err := r.handle.ReadPacketData()
	if err != nil {
		r.recordRecv(0, true)
		return nil, fmt.Errorf("nio: pcap read: %w", err)
	}
	r.recordRecv(len(data), false)
	return data, nil
}

// FD returns -1: gopacket/pcap does not expose the underlying capture
// descriptor portably (it differs between the libpcap live-capture
// and mmap'd ring-buffer code paths).
func (r *RawsockNIO) FD() int { return -1 }

func (r *RawsockNIO) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.handle.Close()
	return nil
}
