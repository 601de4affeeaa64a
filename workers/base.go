package workers

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"torrentnode.dev/indexer/fanout"
	"torrentnode.dev/indexer/syncdriver"
	"torrentnode.dev/indexer/xerr"
)

// queueCapacity is the bounded-queue depth every worker stage uses.
const queueCapacity = 3

// stage is the common plumbing every worker stage is built from: a
// bounded FIFO queue feeding a single dedicated goroutine, and an
// atomically-published checkpoint of the last block fully committed.
type stage struct {
	name       string
	queue      *fanout.BoundedQueue[syncdriver.WorkItem]
	checkpoint atomic.Uint64
	hasInit    atomic.Bool
	log        *zap.Logger
}

func newStage(name string, log *zap.Logger) stage {
	if log == nil {
		log = zap.NewNop()
	}
	return stage{name: name, queue: fanout.NewBoundedQueue[syncdriver.WorkItem](queueCapacity), log: log}
}

func (s *stage) Name() string { return s.name }

func (s *stage) Enqueue(ctx context.Context, item syncdriver.WorkItem) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !s.queue.Push(item) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return xerr.New(xerr.Cancelled, "workers: "+s.name+" queue stopped")
	}
	return nil
}

func (s *stage) InitBlockNumber() (uint64, bool) {
	return s.checkpoint.Load(), s.hasInit.Load()
}

func (s *stage) commit(n uint64) {
	s.checkpoint.Store(n)
	s.hasInit.Store(true)
}

// run drains the queue until ctx is cancelled or the queue is stopped,
// handing each item to process. A process error is logged and the block
// is otherwise skipped; it does not stop the worker, matching the steady
// loop's own "refuse this block only" discipline.
func (s *stage) run(ctx context.Context, process func(context.Context, syncdriver.WorkItem) error) {
	go func() {
		<-ctx.Done()
		s.queue.Stop()
	}()
	for {
		item, ok := s.queue.Pop()
		if !ok {
			return
		}
		if err := process(ctx, item); err != nil {
			s.log.Warn("workers: stage failed to process block, continuing", zap.String("stage", s.name), zap.Uint64("block", item.Header.BlockNumber), zap.Error(err))
			continue
		}
		s.commit(item.Header.BlockNumber)
	}
}
