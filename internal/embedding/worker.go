package embedding

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/engramhq/engram/internal/logging"
)

// Store is the persistence surface the worker pool needs. It is satisfied by
// the storage package's embedding provider; kept narrow here so this package
// never imports storage.
type Store interface {
	StoreEmbedding(ctx context.Context, memoryID string, vector []float32, model string) error
}

// WorkerConfig controls the batch worker pool's behaviour.
type WorkerConfig struct {
	NumWorkers      int
	MaxRetries      int
	ShutdownTimeout time.Duration

	// BatchSize and BatchInterval control how many pending jobs are
	// coalesced into a single EmbedBatch call. A worker flushes whichever
	// comes first: BatchSize jobs buffered, or BatchInterval elapsed since
	// the oldest job in the current batch arrived.
	BatchSize     int
	BatchInterval time.Duration
}

// DefaultWorkerConfig returns sane defaults for local/single-node operation.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:      2,
		MaxRetries:      3,
		ShutdownTimeout: 10 * time.Second,
		BatchSize:       16,
		BatchInterval:   200 * time.Millisecond,
	}
}

// Pool runs a fixed number of workers that batch jobs off a Queue, embed
// them, and persist the result through Store. Failed jobs are retried with
// exponential backoff up to MaxRetries before being dropped.
type Pool struct {
	queue    *Queue
	embedder Embedder
	store    Store
	cfg      WorkerConfig

	wg sync.WaitGroup
}

// NewPool constructs a worker pool over queue, using embedder to compute
// vectors and store to persist them.
func NewPool(queue *Queue, embedder Embedder, store Store, cfg WorkerConfig) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 200 * time.Millisecond
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Pool{queue: queue, embedder: embedder, store: store, cfg: cfg}
}

// Start launches the worker goroutines. Workers run until the queue is
// closed (via Stop or Queue.Close) and their current batch has drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop closes the queue and waits for workers to drain, up to
// ShutdownTimeout. Returns ctx.Err() if ctx was cancelled first.
func (p *Pool) Stop(ctx context.Context) error {
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	logger := logging.WithComponent("embedding-worker")
	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.ShutdownTimeout):
		logger.Warn().Int("remaining", p.queue.Len()).Msg("shutdown timeout reached, pending embedding jobs dropped")
		return nil
	case <-ctx.Done():
		logger.Warn().Int("remaining", p.queue.Len()).Msg("context cancelled, pending embedding jobs dropped")
		return ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	logger := logging.WithComponent("embedding-worker").With().Int("worker", workerID).Logger()

	var batch []*Job
	timer := time.NewTimer(p.cfg.BatchInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.processBatch(ctx, logger, batch)
		batch = nil
	}

	for {
		select {
		case job, ok := <-p.queue.Jobs():
			if !ok {
				flush()
				return
			}
			batch = append(batch, job)
			if len(batch) >= p.cfg.BatchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(p.cfg.BatchInterval)
			}
		case <-timer.C:
			flush()
			timer.Reset(p.cfg.BatchInterval)
		}
	}
}

// processBatch embeds and persists a batch of jobs. Jobs whose embed or
// store step fails are individually requeued with exponential backoff
// ((attempt^2+1) * 100ms); jobs at MaxRetries are dropped and logged.
func (p *Pool) processBatch(ctx context.Context, logger zerolog.Logger, batch []*Job) {
	texts := make([]string, len(batch))
	for i, job := range batch {
		texts[i] = job.Content
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		logger.Error().Err(err).Int("batch_size", len(batch)).Msg("batch embed failed, retrying individually")
		for _, job := range batch {
			p.retryOrDrop(logger, job)
		}
		return
	}

	model := p.embedder.ModelName()
	for i, job := range batch {
		if err := p.store.StoreEmbedding(ctx, job.MemoryID, vectors[i], model); err != nil {
			logger.Error().Err(err).Str("memory_id", job.MemoryID).Msg("failed to persist embedding")
			p.retryOrDrop(logger, job)
		}
	}
}

func (p *Pool) retryOrDrop(logger zerolog.Logger, job *Job) {
	if job.Attempt >= p.cfg.MaxRetries {
		logger.Warn().Str("memory_id", job.MemoryID).Int("attempts", job.Attempt).Msg("giving up on embedding job, max retries exceeded")
		return
	}

	backoff := time.Duration(job.Attempt*job.Attempt+1) * 100 * time.Millisecond
	time.Sleep(backoff)

	if !p.queue.Requeue(job, 10*time.Millisecond) {
		logger.Warn().Str("memory_id", job.MemoryID).Msg("failed to requeue embedding job, queue full or closed")
	}
}
