// Package notify forwards selected engine events to operator chat channels.
// Every registered Sender receives each notification; a failing sender does
// not stop delivery to the others.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// Sender delivers one notification to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// DefaultEvents are the event types forwarded when none are configured.
var DefaultEvents = []domain.EventType{
	domain.EventStreamResolved,
	domain.EventStreamCanceled,
}

// Notifier dispatches events whose type is in its allowed set.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list selects DefaultEvents.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool)
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		for _, e := range DefaultEvents {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// NotifyEvent sends ev if its type is allowed.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", string(ev.Type)))
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// Format renders ev as a notification title and body.
func Format(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventStreamResolved:
		return "Stream resolved", fmt.Sprintf("stream %s\nwinning choice %d\ncreator tip %d",
			ev.Stream, ev.WinningChoice, ev.TipAmount)
	case domain.EventStreamCanceled:
		return "Stream canceled", fmt.Sprintf("stream %s\nstakes are refundable", ev.Stream)
	case domain.EventRewardClaimed:
		return "Reward claimed", fmt.Sprintf("stream %s\nviewer %s\namount %d", ev.Stream, ev.Viewer, ev.Amount)
	case domain.EventRefundClaimed:
		return "Refund claimed", fmt.Sprintf("stream %s\nviewer %s\namount %d", ev.Stream, ev.Viewer, ev.Amount)
	case domain.EventPredictionSubmitted:
		return "Prediction submitted", fmt.Sprintf("stream %s\nviewer %s\nchoice %d\namount %d",
			ev.Stream, ev.Viewer, ev.Choice, ev.Amount)
	case domain.EventCommunityContribution:
		return "Community contribution", fmt.Sprintf("contributor %s\namount %d", ev.Viewer, ev.Amount)
	default:
		title = strings.ReplaceAll(string(ev.Type), "_", " ")
		if ev.Stream.IsZero() {
			return title, ""
		}
		return title, "stream " + ev.Stream.Hex()
	}
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
