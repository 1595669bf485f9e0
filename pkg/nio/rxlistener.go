package nio

import (
	"log"
	"sync"
)

// Handler processes one received packet from a registered NIO.
type Handler func(n NIO, pkt []byte)

// RXListener fans inbound packets from a set of NIOs into per-NIO
// handlers. The original dynamips engine runs a single thread that
// select(2)s over every registered NIO's file descriptor; Go has no
// portable cross-transport select (a FIFONIO or StdioNIO has no fd at
// all), so RXListener instead runs one goroutine per registered NIO,
// each blocking in Recv and invoking the handler on every packet. That
// goroutine-per-NIO fan-in is the idiomatic Go substitute for the
// original's single select loop.
type RXListener struct {
	mu       sync.Mutex
	logger   *log.Logger
	entries  map[NIO]*rxEntry
}

type rxEntry struct {
	stop chan struct{}
	done chan struct{}
}

// NewRXListener creates an empty listener. logger may be nil, in which
// case recv errors are discarded rather than logged.
func NewRXListener(logger *log.Logger) *RXListener {
	return &RXListener{logger: logger, entries: make(map[NIO]*rxEntry)}
}

// Register starts a goroutine that calls n.Recv() in a loop, invoking
// handler for every packet until Unregister or Close is called, or the
// transport reports ErrClosed.
func (l *RXListener) Register(n NIO, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[n]; exists {
		return
	}
	e := &rxEntry{stop: make(chan struct{}), done: make(chan struct{})}
	l.entries[n] = e

	go func() {
		defer close(e.done)
		for {
			pkt, err := n.Recv()
			if err != nil {
				if l.logger != nil {
					l.logger.Printf("nio rx: %s: %v", describeNIO(n), err)
				}
				return
			}
			select {
			case <-e.stop:
				return
			default:
			}
			handler(n, pkt)
		}
	}()
}

// Unregister stops handler delivery for n and returns without waiting
// for the goroutine servicing n: that goroutine exits once its pending
// Recv returns, without passing the packet it got to the handler. It
// does not close n itself; closing n makes the pending Recv return at
// once. A handler call already in progress may still be running when
// Unregister returns.
func (l *RXListener) Unregister(n NIO) {
	l.mu.Lock()
	e, ok := l.entries[n]
	if ok {
		delete(l.entries, n)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	close(e.stop)
}

// Close unregisters every NIO still tracked by the listener.
func (l *RXListener) Close() {
	l.mu.Lock()
	all := make([]NIO, 0, len(l.entries))
	for n := range l.entries {
		all = append(all, n)
	}
	l.mu.Unlock()
	for _, n := range all {
		l.Unregister(n)
	}
}

func describeNIO(n NIO) string {
	if fd := n.FD(); fd >= 0 {
		return "fd"
	}
	return "nio"
}
