// Package execute performs moderation actions against the transports, with
// idempotency guards, bounded retries, and durable status transitions.
//
// Execution discipline, in order:
//  1. Re-read the action from the store and abort if it went terminal;
//     this closes the cancel-vs-timer race without interrupting anything.
//  2. Claim it InFlight with a conditional write (immediate path); the
//     scheduler claims its own actions before handing them over.
//  3. Reserve the idempotency key in the dedup cache. Losing the
//     reservation means an identical action is already running or done:
//     resolve as a no-op success without touching the transport.
//  4. Call the owning transport under a deadline and a global send
//     throttle, retrying transient failures with exponential backoff until
//     the attempt ceiling. Every terminal transition is written to the
//     store before Execute returns.
package execute

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/warden-bot/warden/internal/dedup"
	"github.com/warden-bot/warden/internal/domain"
	"github.com/warden-bot/warden/internal/repo"
	"github.com/warden-bot/warden/internal/transport"
)

var (
	actionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_actions_total",
			Help: "Executed actions by terminal result.",
		},
		[]string{"kind", "result"},
	)
	actionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_action_retries_total",
			Help: "Transient failures that triggered a retry.",
		},
	)
)

func init() {
	prometheus.MustRegister(actionResults, actionRetries)
}

// Config tunes the executor.
type Config struct {
	// RetryCeiling is the maximum number of attempts per action.
	RetryCeiling int
	// Backoff spaces retries apart.
	Backoff BackoffPolicy
	// DedupTTL is the reservation lifetime in the dedup cache.
	DedupTTL time.Duration
	// CallTimeout bounds each external transport call.
	CallTimeout time.Duration
}

// Executor carries out actions. It is safe for concurrent use; the send
// limiter serializes bursts across all workers so the bot stays inside
// Telegram's flood limits.
type Executor struct {
	db      *gorm.DB
	cache   *dedup.Cache
	botapi  transport.BotAPI
	limiter *rate.Limiter
	cfg     Config
	logger  zerolog.Logger

	// sleep is a test seam around the backoff wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs an Executor. sendRPS/sendBurst feed the global throttle.
func New(db *gorm.DB, cache *dedup.Cache, botapi transport.BotAPI, cfg Config, sendRPS float64, sendBurst int) *Executor {
	if cfg.RetryCeiling < 1 {
		cfg.RetryCeiling = 1
	}
	return &Executor{
		db:      db,
		cache:   cache,
		botapi:  botapi,
		limiter: rate.NewLimiter(rate.Limit(sendRPS), sendBurst),
		cfg:     cfg,
		logger:  log.With().Str("component", "execute").Logger(),
		sleep:   sleepCtx,
	}
}

// Execute carries a claimed or claimable action to a terminal status and
// returns that status. It never panics the caller and never leaves a row
// InFlight on a path it controls.
func (e *Executor) Execute(ctx context.Context, a domain.Action) domain.ActionStatus {
	lg := e.logger.With().
		Str("action_id", a.ID).
		Str("kind", string(a.Kind)).
		Int64("chat_id", a.ChatID).
		Int64("target_id", a.TargetID).
		Logger()

	// Status re-check right before anything externally visible. The store,
	// not the in-memory hand-off, decides whether this action still runs.
	cur, err := repo.GetAction(ctx, e.db, a.ID)
	if err != nil {
		lg.Error().Err(err).Msg("re-reading action")
		return a.Status
	}
	switch cur.Status {
	case domain.StatusCancelled, domain.StatusExecuted, domain.StatusFailed:
		lg.Debug().Str("status", string(cur.Status)).Msg("action already terminal, aborting")
		actionResults.WithLabelValues(string(a.Kind), "aborted").Inc()
		return cur.Status
	case domain.StatusPending:
		// Immediate path: claim it here.
		if err := repo.UpdateActionStatus(ctx, e.db, a.ID, domain.StatusPending, domain.StatusInFlight, ""); err != nil {
			if errors.Is(err, repo.ErrStaleStatus) {
				lg.Debug().Msg("lost claim race, aborting")
				actionResults.WithLabelValues(string(a.Kind), "aborted").Inc()
				return domain.StatusCancelled
			}
			lg.Error().Err(err).Msg("claiming action")
			return cur.Status
		}
	case domain.StatusInFlight:
		// Claimed by the scheduler; proceed.
	}

	// Fast-path duplicate suppression. An identical action holding the
	// reservation is already doing the work; this one resolves as a no-op
	// success without contacting the transport.
	if !e.cache.Reserve(cur.IdempotencyKey, e.cfg.DedupTTL) {
		if err := repo.UpdateActionStatus(ctx, e.db, a.ID, domain.StatusInFlight, domain.StatusExecuted, "duplicate suppressed"); err != nil {
			lg.Error().Err(err).Msg("recording duplicate suppression")
		}
		actionResults.WithLabelValues(string(a.Kind), "noop").Inc()
		return domain.StatusExecuted
	}

	return e.perform(ctx, lg, cur)
}

// perform runs the retry loop against the owning transport.
func (e *Executor) perform(ctx context.Context, lg zerolog.Logger, a *domain.Action) domain.ActionStatus {
	route, ok := transport.RouteFor(a.Kind)
	if !ok || route != domain.TransportBotAPI {
		return e.fail(ctx, lg, a, "no transport owns this action kind")
	}

	call := transport.ModerationCall{Kind: a.Kind, ChatID: a.ChatID, TargetID: a.TargetID}

	for {
		attempt, err := repo.IncrementAttempt(ctx, e.db, a.ID)
		if err != nil {
			lg.Error().Err(err).Msg("recording attempt")
			return a.Status
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return e.fail(ctx, lg, a, "shutdown before send: "+err.Error())
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		callErr := e.botapi.Moderate(callCtx, call)
		cancel()

		if callErr == nil {
			if err := repo.UpdateActionStatus(ctx, e.db, a.ID, domain.StatusInFlight, domain.StatusExecuted, ""); err != nil {
				lg.Error().Err(err).Msg("recording success")
			}
			actionResults.WithLabelValues(string(a.Kind), "executed").Inc()
			lg.Info().Int("attempts", attempt).Msg("action executed")
			return domain.StatusExecuted
		}

		// Deadline overruns count as transient, same as any connectivity
		// fault; the mutation itself is idempotent at the transport.
		if errors.Is(callErr, context.DeadlineExceeded) || transport.IsTransient(callErr) {
			if attempt >= e.cfg.RetryCeiling {
				return e.fail(ctx, lg, a, "retry ceiling exceeded: "+callErr.Error())
			}
			actionRetries.Inc()
			lg.Warn().Err(callErr).Int("attempt", attempt).Msg("transient transport failure, backing off")
			if err := e.sleep(ctx, e.cfg.Backoff.Delay(attempt)); err != nil {
				return e.fail(ctx, lg, a, "shutdown during backoff: "+callErr.Error())
			}
			continue
		}

		return e.fail(ctx, lg, a, callErr.Error())
	}
}

// fail records a terminal failure and releases the dedup reservation so a
// corrective resubmission is not blocked for a full TTL.
func (e *Executor) fail(ctx context.Context, lg zerolog.Logger, a *domain.Action, reason string) domain.ActionStatus {
	if err := repo.UpdateActionStatus(ctx, e.db, a.ID, domain.StatusInFlight, domain.StatusFailed, reason); err != nil {
		lg.Error().Err(err).Msg("recording failure")
	}
	e.cache.Release(a.IdempotencyKey)
	actionResults.WithLabelValues(string(a.Kind), "failed").Inc()
	lg.Error().Str("reason", reason).Msg("action failed")
	return domain.StatusFailed
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
