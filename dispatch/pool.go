package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const pollErrorBackoff = 250 * time.Millisecond

// Pool drains a Queue with one worker per shard and hands each job to a
// Deliverer. A Pool is started once and stopped once.
type Pool struct {
	queue     *Queue
	deliverer Deliverer
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates a Pool. A nil logger discards output.
func NewPool(queue *Queue, deliverer Deliverer, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		queue:     queue,
		deliverer: deliverer,
		logger:    logger.Named("dispatch"),
	}
}

// Start returns jobs stranded in processing by an earlier worker to their
// shards, then launches the shard workers. They run until ctx is cancelled or
// Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		if n, err := p.queue.Recover(ctx); err != nil {
			p.logger.Warn("recovering in-flight jobs failed", zap.Error(err))
		} else if n > 0 {
			p.logger.Info("recovered in-flight jobs", zap.Int("jobs", n))
		}

		ctx, p.cancel = context.WithCancel(ctx)
		for shard := 0; shard < p.queue.Shards(); shard++ {
			p.wg.Add(1)
			go p.run(ctx, shard)
		}
		p.logger.Info("delivery workers started", zap.Int("shards", p.queue.Shards()))
	})
}

// Stop cancels the workers and waits for in-flight deliveries to return.
// A worker blocked in a poll may take up to the queue poll timeout to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		p.logger.Info("delivery workers stopped")
	})
}

func (p *Pool) run(ctx context.Context, shard int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx, shard)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue failed", zap.Int("shard", shard), zap.Error(err))
			timer := time.NewTimer(pollErrorBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		if job == nil {
			continue
		}

		p.deliver(ctx, shard, *job)
	}
}

func (p *Pool) deliver(ctx context.Context, shard int, job Job) {
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("account_id", job.AccountID),
		zap.Int("shard", shard),
	}

	err := p.deliverer.Deliver(ctx, job)
	// Settling must survive shutdown of the worker context.
	settleCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		if ackErr := p.queue.Ack(settleCtx, job); ackErr != nil {
			p.logger.Error("ack failed", append(fields, zap.Error(ackErr))...)
		}
		p.logger.Debug("job delivered", fields...)
	case ctx.Err() != nil:
		// Stopped mid-delivery: the retry budget is not spent.
		if rqErr := p.queue.Requeue(settleCtx, job); rqErr != nil {
			p.logger.Error("requeue failed", append(fields, zap.Error(rqErr))...)
			return
		}
		p.logger.Info("delivery interrupted, job requeued", fields...)
	default:
		p.logger.Error("delivery abandoned", append(fields, zap.Error(err))...)
		if dlErr := p.queue.DeadLetter(settleCtx, job, err); dlErr != nil {
			p.logger.Error("dead-letter failed", append(fields, zap.Error(dlErr))...)
		}
	}
}
