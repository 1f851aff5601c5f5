// Package tasks runs sync and purge requests on a bounded worker pool with
// per-attempt timeouts and exponential back-off.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/metrics"
	"github.com/markdave123-py/kbsync/internal/models"
	"github.com/markdave123-py/kbsync/pkg/zlog"
)

// ErrQueueFull is returned by Enqueue when every slot is taken.
var ErrQueueFull = errors.New("task queue is full")

// Syncer is the pipeline surface the runner drives.
type Syncer interface {
	Sync(ctx context.Context, sourceType models.SourceType, sourceID, orgID string) (models.SyncResult, error)
	Purge(ctx context.Context, sourceType models.SourceType, sourceID, orgID string) (int, error)
}

// Dispatcher hands a payload to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, p models.TaskPayload) error
}

type Options struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	MaxDuration     time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 30 * time.Minute
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = time.Second
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	return o
}

// Runner executes task payloads. Sync runs are safe to repeat, so every
// failure other than the permanent ones is retried.
type Runner struct {
	syncer Syncer
	opts   Options
	jobs   chan models.TaskPayload

	// OnResult, when set, observes every settled task.
	OnResult func(models.TaskPayload, models.TaskResult)
}

var _ Dispatcher = (*Runner)(nil)

func NewRunner(syncer Syncer, opts Options) (*Runner, error) {
	if syncer == nil {
		return nil, errors.New("tasks: syncer is required")
	}
	opts = opts.withDefaults()
	return &Runner{
		syncer: syncer,
		opts:   opts,
		jobs:   make(chan models.TaskPayload, opts.QueueSize),
	}, nil
}

// Validate rejects payloads that cannot identify a source.
func Validate(p models.TaskPayload) error {
	switch {
	case p.SourceID == "":
		return fmt.Errorf("%w: sourceId is required", core.ErrInvalidPayload)
	case p.OrganizationID == "":
		return fmt.Errorf("%w: organizationId is required", core.ErrInvalidPayload)
	case !p.SourceType.Valid():
		return fmt.Errorf("%w: unknown sourceType %q", core.ErrInvalidPayload, p.SourceType)
	}
	switch p.Action {
	case "", models.TaskActionSync, models.TaskActionPurge:
		return nil
	default:
		return fmt.Errorf("%w: unknown action %q", core.ErrInvalidPayload, p.Action)
	}
}

// Enqueue validates p and queues it without blocking.
func (r *Runner) Enqueue(ctx context.Context, p models.TaskPayload) error {
	if err := Validate(p); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.jobs <- p:
		metrics.IncrementTasksInQueue()
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Runner) Dispatch(ctx context.Context, p models.TaskPayload) error {
	return r.Enqueue(ctx, p)
}

// Serve runs the workers until ctx is cancelled. Queued payloads that no
// worker picked up are dropped; their sources keep their last status.
func (r *Runner) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p := <-r.jobs:
					metrics.DecrementTasksInQueue()
					res := r.Run(ctx, p)
					if r.OnResult != nil {
						r.OnResult(p, res)
					}
				}
			}
		}()
	}
	zlog.Info("task workers started", zap.Int("workers", r.opts.Workers), zap.Int("queue", r.opts.QueueSize))
	wg.Wait()
	return nil
}

// Run executes p synchronously, retrying transient failures.
func (r *Runner) Run(ctx context.Context, p models.TaskPayload) models.TaskResult {
	action := p.Action
	if action == "" {
		action = models.TaskActionSync
	}
	log := zlog.With(
		zap.String("action", string(action)),
		zap.String("sourceType", string(p.SourceType)),
		zap.String("sourceId", p.SourceID),
		zap.String("organizationId", p.OrganizationID),
	)

	if err := Validate(p); err != nil {
		log.Warn("task rejected", zap.Error(err))
		metrics.CaptureTaskResult(string(action), false)
		return models.TaskResult{Error: err.Error()}
	}

	var (
		attempts int
		res      models.TaskResult
	)
	op := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, r.opts.MaxDuration)
		defer cancel()

		var err error
		res, err = r.attempt(actx, action, p)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.opts.InitialInterval),
		backoff.WithMaxInterval(r.opts.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxAttempts-1)), ctx),
		func(err error, next time.Duration) {
			log.Warn("task attempt failed, retrying",
				zap.Int("attempt", attempts), zap.Duration("backoff", next), zap.Error(err))
		})

	res.Attempts = attempts
	if err != nil {
		res.Success = false
		res.ChunkCount = nil
		res.Error = err.Error()
		log.Error("task failed", zap.Int("attempts", attempts), zap.Error(err))
	} else if res.Success {
		log.Info("task completed", zap.Int("attempts", attempts))
	} else {
		log.Warn("task finished without success", zap.String("error", res.Error))
	}
	metrics.CaptureTaskResult(string(action), res.Success)
	return res
}

func (r *Runner) attempt(ctx context.Context, action models.TaskAction, p models.TaskPayload) (models.TaskResult, error) {
	switch action {
	case models.TaskActionPurge:
		n, err := r.syncer.Purge(ctx, p.SourceType, p.SourceID, p.OrganizationID)
		if err != nil {
			return models.TaskResult{}, err
		}
		return models.TaskResult{Success: true, ChunkCount: &n}, nil
	default:
		sr, err := r.syncer.Sync(ctx, p.SourceType, p.SourceID, p.OrganizationID)
		if err != nil {
			return models.TaskResult{}, err
		}
		// Extraction failures are final for this content: the status is
		// already failed and retrying reads the same bytes.
		if !sr.Success {
			return models.TaskResult{Error: sr.Error}, nil
		}
		n := sr.ChunkCount
		return models.TaskResult{Success: true, ChunkCount: &n}, nil
	}
}

func permanent(err error) bool {
	return errors.Is(err, core.ErrSourceNotFound) ||
		errors.Is(err, core.ErrInvalidPayload) ||
		errors.Is(err, core.ErrMissingOrganization) ||
		errors.Is(err, core.ErrInvalidChunkConfig)
}
