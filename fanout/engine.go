package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"torrentnode.dev/indexer/xerr"
)

// Peer is the transport contract a block source hands to the fan-out
// engine: a named endpoint that can execute one request-response round
// trip. Both segment fetch and head-discovery broadcast are just
// different (path, body) pairs over the same Do method, mirroring the
// original engine's single `make_request(from_byte, to_byte) -> (path,
// body)` seam.
type Peer interface {
	Name() string
	Do(ctx context.Context, path string, body []byte) ([]byte, error)
}

// RequestFunc builds the (path, body) pair for a segment, the Go
// counterpart of the original `make_request(from_byte, to_byte)`.
type RequestFunc func(seg Segment) (path string, body []byte)

// job pairs a segment with its retry count so a re-queued segment can be
// told apart from a fresh one in logs.
type job struct {
	seg     Segment
	attempt int
}

// Result is one segment's outcome after fan-out completes.
type Result struct {
	Segment Segment
	Peer    string
	Data    []byte
}

// Engine distributes a byte range across a fixed set of peers, retrying
// a segment on a different peer when its assigned peer fails.
type Engine struct {
	peers      []Peer
	maxRetries int
	log        *zap.Logger
}

// NewEngine builds an Engine over peers. maxRetries bounds how many times
// a single segment may be re-queued before the whole fetch gives up. A
// nil logger disables logging.
func NewEngine(peers []Peer, maxRetries int, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{peers: peers, maxRetries: maxRetries, log: log}
}

// FetchSegments splits [0, total) into len(peers) segments (or fewer, if
// total is smaller) and fetches them concurrently, one worker per peer.
// req builds the request for a segment; a worker whose segment fails
// re-queues it for another worker to pick up, failing the whole fetch
// only once a segment exhausts maxRetries.
func (e *Engine) FetchSegments(ctx context.Context, total uint64, req RequestFunc) ([]Result, error) {
	return e.FetchSegmentsN(ctx, total, len(e.peers), req)
}

// FetchSegmentsN is FetchSegments with an explicit segment count, for
// callers that need to cap segment size (e.g. a minimum byte span per
// ranged dump request) rather than always splitting one-per-peer.
func (e *Engine) FetchSegmentsN(ctx context.Context, total uint64, parts int, req RequestFunc) ([]Result, error) {
	if len(e.peers) == 0 {
		return nil, xerr.New(xerr.Protocol, "fanout: no peers configured")
	}

	segments := SplitSegments(total, parts)
	queue := NewBoundedQueue[job](len(segments) * 2)
	for _, seg := range segments {
		queue.Push(job{seg: seg})
	}

	results := make([]Result, 0, len(segments))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		pending  = int64(len(segments))
	)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, peer := range e.peers {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			for {
				j, ok := queue.Pop()
				if !ok {
					return
				}
				path, body := req(j.seg)
				data, err := doWithBackoff(ctx, p, path, body)
				if err != nil {
					if j.attempt >= e.maxRetries {
						e.log.Warn("fanout: segment exhausted retries",
							zap.String("peer", p.Name()), zap.Uint64("from", j.seg.FromByte), zap.Error(err))
						mu.Lock()
						if firstErr == nil {
							firstErr = xerr.Wrap(xerr.Protocol, "fanout: segment exhausted retries", err)
						}
						mu.Unlock()
						cancel()
						queue.Stop()
						return
					}
					e.log.Debug("fanout: re-queueing segment after peer failure",
						zap.String("peer", p.Name()), zap.Uint64("from", j.seg.FromByte), zap.Int("attempt", j.attempt), zap.Error(err))
					queue.Push(job{seg: j.seg, attempt: j.attempt + 1})
					return
				}

				mu.Lock()
				results = append(results, Result{Segment: j.seg, Peer: p.Name(), Data: data})
				pending--
				if pending == 0 {
					queue.Stop()
				}
				mu.Unlock()
			}
		}(peer)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		<-done
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if ctx.Err() != nil {
		return nil, xerr.Wrap(xerr.Cancelled, "fanout: fetch cancelled", ctx.Err())
	}
	if pending > 0 {
		return nil, xerr.New(xerr.Protocol, "fanout: every peer failed before all segments were fetched")
	}
	return results, nil
}

// doWithBackoff wraps a single attempt in an exponential backoff
// policy bounded by the context: transient failures retry a handful of
// times before the segment is handed back to the queue for failover.
func doWithBackoff(ctx context.Context, p Peer, path string, body []byte) ([]byte, error) {
	var out []byte
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		data, err := p.Do(ctx, path, body)
		if err != nil {
			return err
		}
		out = data
		return nil
	}, policy)
	return out, err
}

// PeerResponse is one peer's outcome from a Broadcast call: exactly the
// (peer, response_or_error, elapsed) tuple the original engine collects.
type PeerResponse struct {
	Peer    string
	Data    []byte
	Err     error
	Elapsed time.Duration
}

// Broadcast issues (path, body) against every peer concurrently and
// waits for all of them to answer or time out, returning one
// PeerResponse per peer. The caller (e.g. head discovery) interprets
// the responses; the engine has no opinion about their contents.
func (e *Engine) Broadcast(ctx context.Context, path string, body []byte, timeout time.Duration) []PeerResponse {
	out := make([]PeerResponse, len(e.peers))
	var wg sync.WaitGroup
	for i, peer := range e.peers {
		wg.Add(1)
		go func(i int, p Peer) {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			data, err := p.Do(reqCtx, path, body)
			out[i] = PeerResponse{Peer: p.Name(), Data: data, Err: err, Elapsed: time.Since(start)}
		}(i, peer)
	}
	wg.Wait()
	return out
}
