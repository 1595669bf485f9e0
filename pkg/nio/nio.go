// Package nio implements the uniform network I/O endpoint abstraction of
// spec.md §4.D: send/recv/bandwidth-governed packet transport that the
// rest of the engine treats as an opaque endpoint, plus an RX listener
// that fans host-side readability into per-NIO handlers.
package nio

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Send/Recv once the transport has declared
// itself dead (EOF on a socket, a closed pipe, ...); the NIO stays
// registered but is eligible for removal per spec.md §7.
var ErrClosed = errors.New("nio: transport closed")

// ErrUnsupported is returned by a platform-gated NIO variant's
// constructor (TAP, raw-socket/pcap) when built on a platform that
// cannot back it — mirroring internal/hostmem.ErrUnsupported's
// build-tag'd-stub convention.
var ErrUnsupported = errors.New("nio: unsupported on this platform")

// NIO is the uniform packet endpoint every transport variant implements.
type NIO interface {
	// Send transmits pkt, returning the number of bytes written, or -1
	// with ErrClosed if the transport is dead, or 0 (no error) if the
	// bandwidth governor dropped the packet.
	Send(pkt []byte) (int, error)
	// Recv blocks until a packet is available and returns it (a freshly
	// allocated slice no larger than the underlying transport's MTU).
	Recv() ([]byte, error)
	// FD returns the underlying OS file descriptor, or -1 if the
	// transport has none the RX listener can multiplex on directly.
	FD() int
	// CanTransmit reports whether the bandwidth governor currently
	// allows sending.
	CanTransmit() bool
	// Close tears the transport down; subsequent Send returns ErrClosed
	// and Recv returns an error, which is ErrClosed only for some
	// transports (socket-backed ones report the socket error).
	Close() error
	// Stats returns send/receive/drop counters.
	Stats() Stats
}

// Stats are the per-NIO counters spec.md §7 requires ("I/O errors on
// NIOs — counted per-NIO").
type Stats struct {
	BytesSent     uint64
	BytesRecv     uint64
	PacketsSent   uint64
	PacketsRecv   uint64
	Dropped       uint64
	ErrorsRecv    uint64
}

// bandwidth implements the moving-window byte-rate governor spec.md §4.D
// describes: "a moving-window byte counter — when exceeded, send drops
// the packet and increments dropped." The window is a fixed one-second
// bucket, the simplest implementation that satisfies the testable law in
// spec.md §8 property 7 (bytes_sent over any 1s window <= limit + max
// packet size); a leaky-bucket is an open question left to the caller
// (see DESIGN.md).
type bandwidth struct {
	mu         sync.Mutex
	limitBps   uint64 // 0 disables the governor
	windowStart time.Time
	windowBytes uint64
}

func newBandwidth(limitBps uint64) *bandwidth {
	return &bandwidth{limitBps: limitBps, windowStart: time.Now()}
}

// allow reports whether a further send of n bytes fits in the current
// window, and accounts for it if so.
func (b *bandwidth) allow(n int) bool {
	if b.limitBps == 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.windowStart) >= time.Second {
		b.windowStart = now
		b.windowBytes = 0
	}
	if b.windowBytes+uint64(n) > b.limitBps {
		return false
	}
	b.windowBytes += uint64(n)
	return true
}

// base holds the fields every concrete NIO embeds: stats counters and
// the bandwidth governor. It is not itself a NIO.
type base struct {
	mu    sync.Mutex
	stats Stats
	bw    *bandwidth
}

func newBase(limitBps uint64) base {
	return base{bw: newBandwidth(limitBps)}
}

func (b *base) CanTransmit() bool {
	return b.bw.limitBps == 0 || b.bw.windowBytesUnder()
}

func (b *bandwidth) windowBytesUnder() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if time.Since(b.windowStart) >= time.Second {
		return true
	}
	return b.windowBytes < b.limitBps
}

func (b *base) recordSend(n int, dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if dropped {
		b.stats.Dropped++
		return
	}
	b.stats.BytesSent += uint64(n)
	b.stats.PacketsSent++
}

func (b *base) recordRecv(n int, err bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err {
		b.stats.ErrorsRecv++
		return
	}
	b.stats.BytesRecv += uint64(n)
	b.stats.PacketsRecv++
}

func (b *base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
