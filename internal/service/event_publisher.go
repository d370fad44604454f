package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/metrics"
	"github.com/alanyoungcy/cyphercast/internal/notify"
)

const (
	// EventLogStream is the durable stream every committed event is appended to.
	EventLogStream = "events"
	// CommunityChannel carries community vault events.
	CommunityChannel = "events:community"

	publishTimeout = 5 * time.Second
	sideQueueSize  = 1024
)

// StreamChannel is the pub/sub channel of one stream's events.
func StreamChannel(stream domain.Address) string { return "events:" + stream.Hex() }

// EventPublisher is the engine's event sink. Events are published to the
// signal bus synchronously; audit rows and notifications are handled by a
// background worker started with Run.
type EventPublisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger

	side chan domain.Event
}

// NewEventPublisher creates an EventPublisher. audit, notifier and m may be
// nil.
func NewEventPublisher(
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	m *metrics.Collector,
	logger *slog.Logger,
) *EventPublisher {
	return &EventPublisher{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With(slog.String("component", "event_publisher")),
		side:     make(chan domain.Event, sideQueueSize),
	}
}

// Emit implements domain.EventSink.
func (p *EventPublisher) Emit(ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "event_publisher: marshal event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	channel := CommunityChannel
	if !ev.Stream.IsZero() {
		channel = StreamChannel(ev.Stream)
	}
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.WarnContext(ctx, "event_publisher: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, EventLogStream, payload); err != nil {
		p.logger.WarnContext(ctx, "event_publisher: stream append failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
	if p.metrics != nil {
		p.metrics.Event(string(ev.Type))
	}

	if p.audit == nil && !p.notifier.Enabled() {
		return
	}
	select {
	case p.side <- ev:
	default:
		p.logger.WarnContext(ctx, "event_publisher: side queue full, dropping",
			slog.String("event_id", ev.ID),
			slog.String("type", string(ev.Type)),
		)
	}
}

// Run drains the side queue until ctx is done.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.side:
			p.handleSide(ctx, ev)
		}
	}
}

func (p *EventPublisher) handleSide(ctx context.Context, ev domain.Event) {
	if p.audit != nil {
		if err := p.audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
			p.logger.WarnContext(ctx, "event_publisher: audit log failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := p.notifier.NotifyEvent(ctx, ev); err != nil {
		p.logger.WarnContext(ctx, "event_publisher: notify failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

func auditDetail(ev domain.Event) map[string]any {
	detail := map[string]any{"event_id": ev.ID}
	if !ev.Stream.IsZero() {
		detail["stream"] = ev.Stream.Hex()
	}
	if !ev.Viewer.IsZero() {
		detail["viewer"] = ev.Viewer.Hex()
	}
	if !ev.Authority.IsZero() {
		detail["authority"] = ev.Authority.Hex()
	}
	switch ev.Type {
	case domain.EventPredictionSubmitted:
		detail["choice"] = ev.Choice
		detail["amount"] = ev.Amount
	case domain.EventStreamResolved:
		detail["winning_choice"] = ev.WinningChoice
		detail["tip_amount"] = ev.TipAmount
	case domain.EventRewardClaimed, domain.EventRefundClaimed, domain.EventCommunityContribution:
		detail["amount"] = ev.Amount
	}
	return detail
}

var _ domain.EventSink = (*EventPublisher)(nil)
