package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// JoinStream records viewer's attendance on an active stream. No funds move.
func (e *Engine) JoinStream(ctx context.Context, viewer, stream domain.Address) (domain.Participant, error) {
	var out domain.Participant
	err := e.run(ctx, func(o *op) error {
		s, err := loadStream(o.tx, stream)
		if err != nil {
			return err
		}
		switch {
		case s.IsCanceled():
			return domain.ErrStreamCanceled
		case !s.IsActive:
			return domain.ErrStreamNotActive
		}
		p := domain.Participant{
			Address:  address.Participant(s.Address, viewer),
			Stream:   s.Address,
			Viewer:   viewer,
			JoinedAt: o.now,
		}
		if err := o.tx.CreateParticipant(p); err != nil {
			return fmt.Errorf("engine: participant %s: %w", p.Address, err)
		}
		o.emit(domain.Event{Type: domain.EventParticipantJoined, Stream: s.Address, Viewer: viewer})
		out = p
		return nil
	})
	return out, err
}
