package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakePeer struct {
	name string
	mu   sync.Mutex
	fail map[uint64]int // remaining failures keyed by FromByte, parsed from the "from:to" body
	resp []byte
}

func (p *fakePeer) Name() string { return p.name }

func segmentRequest(seg Segment) (string, []byte) {
	return "get-dump-block-by-hash", []byte(fmt.Sprintf("%d:%d", seg.FromByte, seg.ToByte))
}

func (p *fakePeer) Do(ctx context.Context, path string, body []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if path == "get-dump-block-by-hash" {
		var from uint64
		fmt.Sscanf(string(body), "%d:", &from)
		if p.fail[from] > 0 {
			p.fail[from]--
			return nil, errors.New("fakePeer: injected failure")
		}
		return []byte(fmt.Sprintf("%s:%s", p.name, body)), nil
	}
	return p.resp, nil
}

func TestFetchSegmentsCoversWholeRange(t *testing.T) {
	peers := []Peer{
		&fakePeer{name: "a"},
		&fakePeer{name: "b"},
		&fakePeer{name: "c"},
	}
	e := NewEngine(peers, 2, nil)
	results, err := e.FetchSegments(context.Background(), 300, segmentRequest)
	if err != nil {
		t.Fatalf("FetchSegments: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(results))
	}

	var covered uint64
	for _, r := range results {
		covered += r.Segment.ToByte - r.Segment.FromByte
		if len(r.Data) == 0 {
			t.Fatalf("segment %v returned no data", r.Segment)
		}
	}
	if covered != 300 {
		t.Fatalf("expected 300 bytes covered, got %d", covered)
	}
}

func TestFetchSegmentsFailsOverToAnotherPeer(t *testing.T) {
	failing := &fakePeer{name: "flaky", fail: map[uint64]int{0: 10}}
	healthy := &fakePeer{name: "healthy"}
	peers := []Peer{failing, healthy}

	e := NewEngine(peers, 5, nil)
	results, err := e.FetchSegments(context.Background(), 2, segmentRequest)
	if err != nil {
		t.Fatalf("FetchSegments: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(results))
	}
}

func TestFetchSegmentsExhaustsRetriesAndFails(t *testing.T) {
	failing := &fakePeer{name: "flaky", fail: map[uint64]int{0: 100, 1: 100}}
	peers := []Peer{failing}

	e := NewEngine(peers, 1, nil)
	_, err := e.FetchSegments(context.Background(), 2, segmentRequest)
	if err == nil {
		t.Fatalf("expected an error once retries are exhausted")
	}
}

func TestFetchSegmentsNoPeersIsProtocolError(t *testing.T) {
	e := NewEngine(nil, 1, nil)
	if _, err := e.FetchSegments(context.Background(), 10, segmentRequest); err == nil {
		t.Fatalf("expected an error with no peers configured")
	}
}

func TestBroadcastCollectsEveryPeerResponse(t *testing.T) {
	peers := []Peer{
		&fakePeer{name: "a", resp: []byte("10")},
		&fakePeer{name: "b", resp: []byte("10")},
		&fakePeer{name: "c", resp: []byte("7")},
	}
	e := NewEngine(peers, 1, nil)
	got := e.Broadcast(context.Background(), "get-count-blocks", nil, time.Second)
	if len(got) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(got))
	}
	byPeer := map[string]string{}
	for _, r := range got {
		if r.Err != nil {
			t.Fatalf("peer %s: %v", r.Peer, r.Err)
		}
		byPeer[r.Peer] = string(r.Data)
	}
	if byPeer["a"] != "10" || byPeer["b"] != "10" || byPeer["c"] != "7" {
		t.Fatalf("unexpected responses: %+v", byPeer)
	}
}

func TestSplitSegmentsDistributesRemainder(t *testing.T) {
	segs := SplitSegments(10, 3)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	var total uint64
	for _, s := range segs {
		total += s.ToByte - s.FromByte
	}
	if total != 10 {
		t.Fatalf("expected segments to cover 10 bytes, got %d", total)
	}
}

func TestSplitSegmentsCapsPartsAtTotal(t *testing.T) {
	segs := SplitSegments(2, 5)
	if len(segs) != 2 {
		t.Fatalf("expected parts capped at total=2, got %d segments", len(segs))
	}
}

func TestBoundedQueuePushPopRoundTrip(t *testing.T) {
	q := NewBoundedQueue[int](2)
	if !q.Push(1) {
		t.Fatalf("Push should succeed before Stop")
	}
	if !q.Push(2) {
		t.Fatalf("Push should succeed before Stop")
	}
	v, ok := q.Pop()
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
}

func TestBoundedQueueDrainsBufferedItemsAfterStop(t *testing.T) {
	q := NewBoundedQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Stop()

	v1, ok1 := q.Pop()
	v2, ok2 := q.Pop()
	if !ok1 || !ok2 {
		t.Fatalf("buffered items should still drain after Stop")
	}
	if v1 != 1 || v2 != 2 {
		t.Fatalf("expected FIFO order 1,2, got %d,%d", v1, v2)
	}

	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop should report false once the buffer is empty and stopped")
	}
	if v := q.Push(3); v {
		t.Fatalf("Push after Stop should fail")
	}
}

func TestBoundedQueueStopIsIdempotent(t *testing.T) {
	q := NewBoundedQueue[int](1)
	q.Stop()
	q.Stop()
	if !q.Stopped() {
		t.Fatalf("expected Stopped() to report true")
	}
}
