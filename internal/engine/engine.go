// Package engine wires the moderation core together: normalizer,
// dispatcher, durable store with dedup cache, scheduler and executor. It
// owns the lifecycle (recovery, receive loops, graceful shutdown) and the
// store health gate that refuses new punitive work while the durable store
// is unreachable.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/warden-bot/warden/internal/config"
	"github.com/warden-bot/warden/internal/dedup"
	"github.com/warden-bot/warden/internal/dispatch"
	"github.com/warden-bot/warden/internal/domain"
	"github.com/warden-bot/warden/internal/execute"
	"github.com/warden-bot/warden/internal/ingest"
	"github.com/warden-bot/warden/internal/repo"
	"github.com/warden-bot/warden/internal/schedule"
	"github.com/warden-bot/warden/internal/transport"
)

// ErrStoreUnavailable is returned while the durable store is unreachable.
// The engine refuses to record or execute new actions rather than risk
// duplicate effects once connectivity returns.
var ErrStoreUnavailable = errors.New("durable store unavailable")

// Intent is a request to perform (or schedule) a moderation action.
type Intent struct {
	ChatID      int64
	TargetID    int64
	Kind        domain.ActionKind
	RuleVersion int
	// ScheduledFor delays execution; nil executes immediately.
	ScheduledFor *time.Time
}

// Engine is the assembled moderation core.
type Engine struct {
	db     *gorm.DB
	cache  *dedup.Cache
	norm   *ingest.Normalizer
	disp   *dispatch.Dispatcher
	sched  *schedule.Scheduler
	exec   *execute.Executor
	logger zerolog.Logger

	probeInterval time.Duration
	healthy       atomic.Bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New assembles an Engine over the given store handle and transports.
// handler receives every normalized event; it is where moderation logic
// plugs in, typically calling SubmitIntent.
func New(db *gorm.DB, botapi transport.BotAPI, cfg config.Config, handler dispatch.Handler) *Engine {
	cache := dedup.New()
	e := &Engine{
		db:            db,
		cache:         cache,
		norm:          ingest.New(),
		logger:        log.With().Str("component", "engine").Logger(),
		probeInterval: cfg.StoreProbeInterval,
	}
	e.healthy.Store(true)

	e.exec = execute.New(db, cache, botapi, execute.Config{
		RetryCeiling: cfg.Engine.RetryCeiling,
		Backoff:      execute.DefaultBackoff(cfg.Engine.BackoffBase, cfg.Engine.BackoffMax),
		DedupTTL:     cfg.Engine.DedupTTL,
		CallTimeout:  cfg.Engine.CallTimeout,
	}, cfg.Engine.SendRPS, cfg.Engine.SendBurst)

	e.sched = schedule.New(db, e.exec)

	e.disp = dispatch.New(dispatch.Config{
		MaxWorkers:    cfg.Engine.MaxWorkers,
		MaxQueueDepth: cfg.Engine.MaxQueueDepth,
	}, handler)

	return e
}

// Start recovers scheduled work from the store and launches the scheduler
// loop, the store health probe, and receive pumps for the given transports.
// Either updates source may be nil (e.g., tests drive Ingest directly).
func (e *Engine) Start(ctx context.Context, botapi transport.BotAPI, mtproto transport.MTProto) error {
	if err := e.sched.Recover(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sched.Run(runCtx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.probeStore(runCtx)
	}()

	if botapi != nil {
		e.pump(runCtx, botapi.Updates(runCtx))
	}
	if mtproto != nil {
		e.pump(runCtx, mtproto.Updates(runCtx))
	}
	return nil
}

// pump feeds one transport's receive stream into Ingest until the stream
// closes. Saturation is logged and dropped here; the transport applies its
// own throttling on the next poll.
func (e *Engine) pump(ctx context.Context, updates <-chan transport.RawUpdate) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for u := range updates {
			if _, err := e.Ingest(u); err != nil {
				if errors.Is(err, dispatch.ErrQueueSaturated) {
					e.logger.Warn().Int64("chat_id", u.ChatID).Msg("chat queue saturated, throttling transport")
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// Ingest normalizes one raw update and submits it for dispatch. Malformed
// updates are dropped with a log and reported back; saturation propagates
// so receive loops can throttle.
func (e *Engine) Ingest(u transport.RawUpdate) (dispatch.Ack, error) {
	ev, err := e.norm.Normalize(u)
	if err != nil {
		e.logger.Warn().Err(err).
			Str("source", string(u.Source)).
			Str("type", u.Type).
			Int64("chat_id", u.ChatID).
			Msg("dropping malformed update")
		return dispatch.Ack{}, err
	}
	return e.disp.Submit(ev)
}

// SubmitIntent records a moderation intent durably and routes it to the
// immediate executor or the scheduler. A live action for the same
// idempotency key resolves as a no-op: noop is true and the returned action
// is nil.
func (e *Engine) SubmitIntent(ctx context.Context, in Intent) (a *domain.Action, noop bool, err error) {
	if !e.healthy.Load() {
		return nil, false, ErrStoreUnavailable
	}
	if !in.Kind.Valid() {
		return nil, false, errors.New("invalid action kind: " + string(in.Kind))
	}

	key := domain.IdempotencyKey(in.ChatID, in.TargetID, in.Kind, in.RuleVersion)

	// Fast-path duplicate probe; the store constraint below is what
	// actually guarantees uniqueness.
	a, err = repo.CreateAction(ctx, e.db, in.ChatID, in.TargetID, in.Kind, in.ScheduledFor, key)
	if err != nil {
		if errors.Is(err, repo.ErrConflictingAction) {
			e.logger.Debug().Str("key", key).Msg("intent already live, no-op")
			return nil, true, nil
		}
		return nil, false, err
	}

	if a.Scheduled() {
		e.sched.Arm(*a)
		return a, false, nil
	}

	run := *a
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.exec.Execute(context.WithoutCancel(ctx), run)
	}()
	return a, false, nil
}

// CancelAction durably cancels a Pending action. repo.ErrStaleStatus means
// it already ran, failed, or was cancelled.
func (e *Engine) CancelAction(ctx context.Context, id string) error {
	if !e.healthy.Load() {
		return ErrStoreUnavailable
	}
	return e.sched.Cancel(ctx, id)
}

// Healthy reports the store health gate.
func (e *Engine) Healthy() bool { return e.healthy.Load() }

// probeStore flips the health gate on ping failures and restores it when
// connectivity returns.
func (e *Engine) probeStore(ctx context.Context) {
	t := time.NewTicker(e.probeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := repo.Ping(e.db)
			was := e.healthy.Swap(err == nil)
			switch {
			case err != nil && was:
				e.logger.Error().Err(err).Msg("durable store unreachable, refusing new actions")
			case err == nil && !was:
				e.logger.Info().Msg("durable store reachable again, resuming")
			}
		}
	}
}

// Close drains the dispatcher, stops the scheduler and probes, and waits
// for in-flight executions. Bounded by ctx.
func (e *Engine) Close(ctx context.Context) error {
	dispErr := e.disp.Close(ctx)
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return dispErr
}

// Scheduler exposes the scheduler for admin wiring (cancel endpoint).
func (e *Engine) Scheduler() *schedule.Scheduler { return e.sched }

// DB exposes the store handle for the audit surface.
func (e *Engine) DB() *gorm.DB { return e.db }
