// Package notify delivers operational alerts to the configured channels.
// Events are filtered against an allow-list so operators only see what they
// asked for.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, event, message string) error
	Name() string
}

// Notifier fans an event out to every sender. Delivery runs on its own
// goroutine with a bounded timeout, so the pipeline never blocks on a slow
// webhook.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to senders. Only event types in events
// pass the filter; an empty list allows everything.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify dispatches one event asynchronously. Sender failures are logged,
// never returned; an alert that cannot be delivered must not affect trading.
func (n *Notifier) Notify(ctx context.Context, event, message string) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		return
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, s := range n.senders {
			if err := s.Send(sendCtx, event, message); err != nil {
				n.logger.Warn("notification delivery failed",
					slog.String("sender", s.Name()),
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}
