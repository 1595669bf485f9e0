package nio

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestFIFOPairRoundTrip(t *testing.T) {
	a, b := NewFIFONIOPair(4, 0)
	defer a.Close()
	defer b.Close()

	msg := []byte("hello")
	if _, err := a.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("got %q, want %q", got, msg)
	}

	stats := a.Stats()
	if stats.PacketsSent != 1 || stats.BytesSent != uint64(len(msg)) {
		t.Errorf("unexpected send stats: %+v", stats)
	}
}

func TestFIFOPairClosedReturnsError(t *testing.T) {
	a, b := NewFIFONIOPair(4, 0)
	a.Close()
	b.Close()

	if _, err := a.Send([]byte("x")); err != ErrClosed {
		t.Errorf("send after close: err = %v, want ErrClosed", err)
	}
	if _, err := a.Recv(); err != ErrClosed {
		t.Errorf("recv after close: err = %v, want ErrClosed", err)
	}
}

func TestUDPNIOLoopback(t *testing.T) {
	a, err := NewUDPNIOAutoBind("127.0.0.1", 30000, 30100, "127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("bind a: %v", err)
	}
	defer a.Close()

	b, err := NewUDPNIOAutoBind("127.0.0.1", 30101, 30200, a.conn.LocalAddr().String(), 0)
	if err != nil {
		t.Fatalf("bind b: %v", err)
	}
	defer b.Close()
	a.remote = b.conn.LocalAddr().(*net.UDPAddr)

	msg := []byte("ping")
	if _, err := a.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("got %q, want %q", got, msg)
	}

	b.Close()
	if _, err := b.Send(msg); err != ErrClosed {
		t.Errorf("send on closed NIO: err = %v, want ErrClosed", err)
	}
}

func TestNullNIODiscardsAndBlocks(t *testing.T) {
	n := NewNullNIO()
	if _, err := n.Send([]byte("whatever")); err != nil {
		t.Fatalf("send: %v", err)
	}
	done := make(chan struct{})
	go func() {
		n.Recv()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Recv returned before Close")
	case <-time.After(20 * time.Millisecond):
	}
	n.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestRXListenerFansPacketsToHandler(t *testing.T) {
	a, b := NewFIFONIOPair(4, 0)
	defer a.Close()

	received := make(chan []byte, 4)
	l := NewRXListener(nil)
	l.Register(b, func(n NIO, pkt []byte) {
		received <- pkt
	})
	defer l.Close()

	a.Send([]byte("one"))
	a.Send([]byte("two"))

	for _, want := range []string{"one", "two"} {
		select {
		case got := <-received:
			if string(got) != want {
				t.Errorf("got %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
