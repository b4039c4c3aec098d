// Package notify delivers fire-and-forget notifications (order fills,
// competition results). Failures are logged and counted, never propagated
// into the trading path.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/stockarena/engine/internal/metrics"
)

// Notifier sends one templated message to a recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, template string, data map[string]string) error
}

// Fire delivers asynchronously with a bounded timeout. Trading never blocks
// on notification delivery.
func Fire(n Notifier, recipient, template string, data map[string]string) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.Send(ctx, recipient, template, data); err != nil {
			metrics.NotifierFailures.Inc()
			slog.Warn("notification failed",
				"recipient", recipient,
				"template", template,
				"err", err,
			)
		}
	}()
}

// LogNotifier writes notifications to the log. Used when no broker is
// configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, recipient, template string, data map[string]string) error {
	slog.Info("notification",
		"recipient", recipient,
		"template", template,
		"data", data,
	)
	return nil
}
