package hypervisor

import (
	"sync"

	"github.com/dynamips/dynamips-go/pkg/nio"
)

// Bridge is a hub that forwards every packet received on one member
// NIO to every other member, the minimal "virtual switch" spec.md §4.D
// alludes to ("NIOs are bound pairwise or fanned into a bridge").
// Membership is serviced by one pkg/nio.RXListener goroutine per
// member, the same fan-in shape pkg/nio already uses internally since
// Go has no portable select(2) across heterogeneous transports.
type Bridge struct {
	mu      sync.Mutex
	members []nio.NIO
	rx      *nio.RXListener
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{rx: nio.NewRXListener(nil)}
}

// AddNIO joins n to the bridge: packets n receives are forwarded to
// every other current member, and packets received by other members
// are forwarded to n.
func (b *Bridge) AddNIO(n nio.NIO) {
	b.mu.Lock()
	b.members = append(b.members, n)
	b.mu.Unlock()

	b.rx.Register(n, func(from nio.NIO, pkt []byte) {
		b.mu.Lock()
		peers := append([]nio.NIO(nil), b.members...)
		b.mu.Unlock()

		for _, peer := range peers {
			if peer == from {
				continue
			}
			peer.Send(pkt)
		}
	})
}

// RemoveNIO leaves the bridge. It does not close n.
func (b *Bridge) RemoveNIO(n nio.NIO) {
	b.rx.Unregister(n)

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.members {
		if m == n {
			b.members = append(b.members[:i], b.members[i+1:]...)
			break
		}
	}
}

// Members returns the bridge's current member count.
func (b *Bridge) Members() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members)
}

// Close unregisters every member from the bridge's RX listener without
// closing any underlying transport.
func (b *Bridge) Close() {
	b.rx.Close()
}
