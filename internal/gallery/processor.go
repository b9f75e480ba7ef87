package gallery

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/snapbin/snapbin/internal/logging"
	"github.com/snapbin/snapbin/internal/metrics"
)

// RegenerateFunc produces derivatives for one indexed file, identified by
// its globally unique filename. The storage engine supplies it; keeping it a
// function keeps this package free of storage concerns.
type RegenerateFunc func(ctx context.Context, name string) error

// Processor runs derivative generation in the background. Uploads get their
// derivatives synchronously; the processor handles the backfill of files
// that predate the pipeline and on-demand regeneration.
type Processor struct {
	regenerate RegenerateFunc
	queue      chan string
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	workers    int
}

// NewProcessor creates a processor with the given worker count.
func NewProcessor(regenerate RegenerateFunc, workers int) *Processor {
	if workers <= 0 {
		workers = 2
	}
	return &Processor{
		regenerate: regenerate,
		queue:      make(chan string, 1000),
		workers:    workers,
	}
}

// Start launches the worker goroutines.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	logging.Info("gallery processor started", zap.Int("workers", p.workers))
}

// Stop signals workers to stop and waits for them to finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	close(p.queue)
	p.wg.Wait()
	logging.Info("gallery processor stopped")
}

// Enqueue adds a filename to the processing queue. The queue is bounded;
// when full the item is dropped and will be picked up by the next backfill.
func (p *Processor) Enqueue(name string) {
	select {
	case p.queue <- name:
		metrics.SetProcessorQueueDepth(len(p.queue))
	default:
		logging.Warn("gallery processor queue full, dropping", zap.String("file", name))
	}
}

// EnqueueAll queues a batch, typically the startup backfill.
func (p *Processor) EnqueueAll(names []string) {
	for _, n := range names {
		p.Enqueue(n)
	}
	if len(names) > 0 {
		logging.Info("gallery: enqueued images for processing", zap.Int("count", len(names)))
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case name, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.SetProcessorQueueDepth(len(p.queue))
			if err := p.regenerate(ctx, name); err != nil {
				logging.Warn("gallery: processing failed", zap.String("file", name), zap.Error(err))
			} else {
				logging.Debug("gallery: processed image", zap.String("file", name))
			}
		}
	}
}
