package room

import (
	"testing"
	"time"
)

func TestEnqueue_EvictsSocketWhenQueueIsFull(t *testing.T) {
	c := &Client{conn: newFakeConn(), send: make(chan []byte, 2), userID: "u1", socketID: "s1"}

	c.enqueue([]byte("a"))
	c.enqueue([]byte("b"))
	c.enqueue([]byte("c")) // queue full: this call must evict rather than block

	drained := 0
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				if drained != 2 {
					t.Fatalf("expected 2 buffered frames before close, drained %d", drained)
				}
				goto done
			}
			drained++
		case <-time.After(time.Second):
			t.Fatal("enqueue should not block the caller when the outbound queue is full")
		}
	}
done:
	// A second eviction must not panic on an already-closed channel.
	c.evict()
}

func TestWritePump_FlushesQueuedFramesThenClosesOnChannelClose(t *testing.T) {
	conn := newFakeConn()
	c := &Client{conn: conn, send: make(chan []byte, 4), userID: "u1", socketID: "s1"}

	c.send <- []byte(`{"event":"a"}`)
	c.send <- []byte(`{"event":"b"}`)
	close(c.send)

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writePump should return once the send channel is closed")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	// Two data frames plus the trailing close frame writePump sends once
	// the channel drains.
	if len(conn.written) != 3 {
		t.Fatalf("expected 2 data frames + 1 close frame, got %d", len(conn.written))
	}
}
