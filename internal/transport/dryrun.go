package transport

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRun is a BotAPI implementation that records moderation calls in the log
// instead of reaching Telegram. It produces no updates. Deployments use it
// to exercise the full pipeline, admin surface included, before a real
// client is wired in.
type DryRun struct {
	logger zerolog.Logger
}

// NewDryRun returns a DryRun transport logging through the given logger.
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger.With().Str("transport", "dryrun").Logger()}
}

// Updates returns a channel that stays empty until ctx is done.
func (d *DryRun) Updates(ctx context.Context) <-chan RawUpdate {
	ch := make(chan RawUpdate)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

// Moderate logs the call and reports success.
func (d *DryRun) Moderate(_ context.Context, call ModerationCall) error {
	d.logger.Info().
		Str("kind", string(call.Kind)).
		Int64("chat_id", call.ChatID).
		Int64("target_id", call.TargetID).
		Msg("dry-run moderation call")
	return nil
}
