package nio

// NullNIO discards everything sent to it and never yields a packet to
// Recv until closed, the "/dev/null" NIO variant spec.md §4.D lists
// for interfaces that must exist but carry no traffic.
type NullNIO struct {
	base
	closed chan struct{}
}

// NewNullNIO returns a ready-to-use NullNIO.
func NewNullNIO() *NullNIO {
	return &NullNIO{base: newBase(0), closed: make(chan struct{})}
}

func (n *NullNIO) Send(pkt []byte) (int, error) {
	select {
	case <-n.closed:
		return -1, ErrClosed
	default:
	}
	n.recordSend(len(pkt), false)
	return len(pkt), nil
}

func (n *NullNIO) Recv() ([]byte, error) {
	<-n.closed
	return nil, ErrClosed
}

func (n *NullNIO) FD() int { return -1 }

func (n *NullNIO) Close() error {
	select {
	case <-n.closed:
	default:
		close(n.closed)
	}
	return nil
}
