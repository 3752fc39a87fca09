package bridge

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"recnet/pkg/protocol"
)

func testRequest(id string) protocol.RecRequest {
	return protocol.RecRequest{ID: id, Query: "SKU-1", NumResults: 3, CreatedAt: time.Now().UTC()}
}

func TestSubmitCompleteAwaitRoundTrip(t *testing.T) {
	t.Parallel()

	b := New()
	p := b.Submit(testRequest("req-1"))

	want := &protocol.RecResponse{RequestID: "req-1", MinerUID: 4, Results: []string{"a", "b", "c"}}

	got := make(chan *protocol.RecResponse, 1)
	go func() {
		resp, err := p.Await(context.Background())
		if err != nil {
			t.Errorf("await: %v", err)
		}
		got <- resp
	}()

	dq := b.TryDequeue(time.Second)
	if dq == nil {
		t.Fatal("TryDequeue returned nil with a queued request")
	}
	if dq.Req.ID != "req-1" {
		t.Fatalf("dequeued request %q, want req-1", dq.Req.ID)
	}
	dq.Complete(want)

	select {
	case resp := <-got:
		if resp != want {
			t.Errorf("Await returned %+v, want the completed response", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not return after Complete")
	}
}

func TestDoubleCompletePanics(t *testing.T) {
	t.Parallel()

	b := New()
	p := b.Submit(testRequest("req-dup"))
	p.Complete(nil)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("second Complete must panic")
		}
		if !strings.Contains(r.(string), "completed twice") {
			t.Errorf("panic message = %v", r)
		}
	}()
	p.Complete(&protocol.RecResponse{})
}

func TestCompleteWithSentinel(t *testing.T) {
	t.Parallel()

	b := New()
	p := b.Submit(testRequest("req-empty"))
	p.Complete(nil)

	resp, err := p.Await(context.Background())
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if resp != nil {
		t.Errorf("sentinel completion returned %+v, want nil", resp)
	}
}

func TestTryDequeueTimeout(t *testing.T) {
	t.Parallel()

	b := New()
	start := time.Now()
	if p := b.TryDequeue(50 * time.Millisecond); p != nil {
		t.Fatalf("TryDequeue on empty bridge returned %+v", p)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("TryDequeue returned after %v, want it to wait out the timeout", elapsed)
	}
}

func TestTryDequeueFIFOOrder(t *testing.T) {
	t.Parallel()

	b := New()
	for _, id := range []string{"a", "b", "c"} {
		b.Submit(testRequest(id))
	}
	for _, want := range []string{"a", "b", "c"} {
		p := b.TryDequeue(time.Second)
		if p == nil || p.Req.ID != want {
			t.Fatalf("dequeue order broken: got %+v, want %s", p, want)
		}
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d after draining, want 0", b.Len())
	}
}

func TestAwaitContextTimeout(t *testing.T) {
	t.Parallel()

	b := New()
	p := b.Submit(testRequest("req-slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Await(ctx); err == nil {
		t.Fatal("Await with expired context must return an error")
	}

	// Late completion must still work: the Pending stays live.
	p.Complete(nil)
	resp, err := p.Await(context.Background())
	if err != nil || resp != nil {
		t.Errorf("late Await = (%v, %v), want sentinel", resp, err)
	}
}

func TestConcurrentSubmitters(t *testing.T) {
	t.Parallel()

	b := New()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := b.Submit(testRequest("req"))
			if resp, err := p.Await(context.Background()); err != nil || resp != nil {
				t.Errorf("await = (%v, %v), want sentinel", resp, err)
			}
		}()
	}

	// Consume and complete every submission; every producer must unblock.
	for i := 0; i < n; i++ {
		p := b.TryDequeue(2 * time.Second)
		if p == nil {
			t.Fatalf("TryDequeue %d timed out with producers outstanding", i)
		}
		p.Complete(nil)
	}
	wg.Wait()
}
