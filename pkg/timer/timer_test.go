package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolTooMany(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	if _, err := p.AddQueue(); err != nil {
		t.Fatalf("first AddQueue: %v", err)
	}
	if _, err := p.AddQueue(); err != ErrTooMany {
		t.Fatalf("second AddQueue err = %v, want ErrTooMany", err)
	}
}

func TestTimerFires(t *testing.T) {
	p := NewPool(4)
	defer p.Stop()
	q, err := p.AddQueue()
	if err != nil {
		t.Fatal(err)
	}

	var fired int32
	done := make(chan struct{})
	tm := &Timer{
		IntervalMS: 5,
		Callback: func(user interface{}) {
			if atomic.AddInt32(&fired, 1) == 1 {
				close(done)
			}
		},
	}
	q.Add(tm)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	tm.Remove()
}

func TestTimerRemoveSynchronous(t *testing.T) {
	p := NewPool(4)
	defer p.Stop()
	q, _ := p.AddQueue()

	started := make(chan struct{})
	release := make(chan struct{})
	tm := &Timer{
		IntervalMS: 1,
		Callback: func(user interface{}) {
			close(started)
			<-release
		},
	}
	q.Add(tm)

	<-started
	removeDone := make(chan struct{})
	go func() {
		tm.Remove()
		close(removeDone)
	}()

	select {
	case <-removeDone:
		t.Fatal("Remove returned before in-flight callback finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-removeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Remove did not return after callback finished")
	}
}
