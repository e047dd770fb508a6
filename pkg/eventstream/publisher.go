package eventstream

import (
	"context"
	"log/slog"
	"time"

	"github.com/papercomputeco/accord/pkg/pao"
)

// Publisher publishes agreement events to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, event *AgreementEvent) error
	Close() error
}

// Emit publishes committed journal entries in order. Publishing is best
// effort: the transitions are already durable, so failures are logged and
// the remaining events are still attempted.
func Emit(ctx context.Context, p Publisher, logger *slog.Logger, source EventSource, events []*pao.Event) {
	if p == nil {
		return
	}
	now := time.Now()
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if err := p.Publish(ctx, NewAgreementEvent(*ev, source, now)); err != nil {
			logger.Warn("failed to publish agreement event",
				"subject", ev.Subject,
				"kind", ev.Kind,
				"seq", ev.Seq,
				"error", err,
			)
		}
	}
}
