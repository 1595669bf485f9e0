package nio

// FIFONIO is a pure in-process NIO backed by a buffered channel: no
// host descriptor at all, the portable equivalent of UnixNIO for
// platforms or tests that would rather not touch a real socket.
type FIFONIO struct {
	base
	out    chan []byte
	in     chan []byte
	closed chan struct{}
}

// NewFIFONIOPair returns two cross-connected FIFONIOs: packets sent on
// one are received on the other. depth bounds how many packets may be
// queued before Send blocks.
func NewFIFONIOPair(depth int, limitBps uint64) (*FIFONIO, *FIFONIO) {
	if depth <= 0 {
		depth = 1
	}
	ab := make(chan []byte, depth)
	ba := make(chan []byte, depth)
	a := &FIFONIO{base: newBase(limitBps), out: ab, in: ba, closed: make(chan struct{})}
	b := &FIFONIO{base: newBase(limitBps), out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (f *FIFONIO) Send(pkt []byte) (int, error) {
	select {
	case <-f.closed:
		return -1, ErrClosed
	default:
	}
	if !f.CanTransmit() || !f.bw.allow(len(pkt)) {
		f.recordSend(len(pkt), true)
		return 0, nil
	}
	cp := make([]byte, len(pkt))
	copy(cp, pkt)
	select {
	case f.out <- cp:
		f.recordSend(len(cp), false)
		return len(cp), nil
	case <-f.closed:
		return -1, ErrClosed
	}
}

func (f *FIFONIO) Recv() ([]byte, error) {
	select {
	case pkt := <-f.in:
		f.recordRecv(len(pkt), false)
		return pkt, nil
	case <-f.closed:
		f.recordRecv(0, true)
		return nil, ErrClosed
	}
}

func (f *FIFONIO) FD() int { return -1 }

func (f *FIFONIO) Close() error {
	select {
	case <-f.closed:
		return nil
	default:
		close(f.closed)
	}
	return nil
}
