// Package jobs holds the background maintenance tasks of the cart service: purging
// expired server carts and garbage-collecting merge tokens.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-engine/internal/obs"
)

// Task type names.
const (
	TypeCartPurge   = "cart:purge_expired"
	TypeSyncTokenGC = "cart:sync_token_gc"
)

// Queue is the asynq queue maintenance tasks run on.
const Queue = "maintenance"

// Purger is the slice of the cart service the jobs drive.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
	PurgeSyncTokens(ctx context.Context) (int64, error)
}

// Handlers executes maintenance tasks.
type Handlers struct {
	Carts  Purger
	Logger zerolog.Logger
}

// Mux routes task types to their handlers.
func (h Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeCartPurge, h.PurgeCarts)
	mux.HandleFunc(TypeSyncTokenGC, h.CollectSyncTokens)
	return mux
}

// PurgeCarts deletes carts whose expiry passed.
func (h Handlers) PurgeCarts(ctx context.Context, t *asynq.Task) error {
	return h.run(ctx, t.Type(), Purger.PurgeExpired)
}

// CollectSyncTokens forgets merge tokens older than their retention.
func (h Handlers) CollectSyncTokens(ctx context.Context, t *asynq.Task) error {
	return h.run(ctx, t.Type(), Purger.PurgeSyncTokens)
}

func (h Handlers) run(ctx context.Context, task string, fn func(Purger, context.Context) (int64, error)) error {
	if h.Carts == nil {
		obs.JobRunsTotal.WithLabelValues(task, "skipped").Inc()
		return fmt.Errorf("%s: cart service not configured: %w", task, asynq.SkipRetry)
	}
	start := time.Now()
	n, err := fn(h.Carts, ctx)
	if err != nil {
		obs.JobRunsTotal.WithLabelValues(task, "error").Inc()
		h.Logger.Error().Err(err).Str("task", task).Msg("maintenance task failed")
		return err
	}
	obs.JobRunsTotal.WithLabelValues(task, "ok").Inc()
	h.Logger.Info().
		Str("task", task).
		Int64("deleted", n).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("maintenance task done")
	return nil
}

// Schedule is one periodic registration.
type Schedule struct {
	Cron string
	Task *asynq.Task
}

// Schedules lists the periodic maintenance tasks. Unique keeps overlapping ticks from
// stacking up when a run is slow.
func Schedules(purgeCron, tokenGCCron string) []Schedule {
	return []Schedule{
		{Cron: purgeCron, Task: asynq.NewTask(TypeCartPurge, nil, asynq.Queue(Queue), asynq.Unique(time.Hour), asynq.MaxRetry(3))},
		{Cron: tokenGCCron, Task: asynq.NewTask(TypeSyncTokenGC, nil, asynq.Queue(Queue), asynq.Unique(time.Hour), asynq.MaxRetry(3))},
	}
}

// Registrar is satisfied by *asynq.Scheduler.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// Register adds every schedule to r, skipping entries with an empty cron spec.
func Register(r Registrar, schedules []Schedule) error {
	for _, s := range schedules {
		if s.Cron == "" {
			continue
		}
		if _, err := r.Register(s.Cron, s.Task); err != nil {
			return fmt.Errorf("register %s: %w", s.Task.Type(), err)
		}
	}
	return nil
}
