package domain

import "time"

// EventType names an engine event.
type EventType string

const (
	EventStreamCreated             EventType = "stream_created"
	EventStreamActivated           EventType = "stream_activated"
	EventStreamEnded               EventType = "stream_ended"
	EventStreamResolved            EventType = "stream_resolved"
	EventStreamCanceled            EventType = "stream_canceled"
	EventVaultInitialized          EventType = "vault_initialized"
	EventParticipantJoined         EventType = "participant_joined"
	EventPredictionSubmitted       EventType = "prediction_submitted"
	EventRewardClaimed             EventType = "reward_claimed"
	EventRefundClaimed             EventType = "refund_claimed"
	EventCommunityVaultInitialized EventType = "community_vault_initialized"
	EventCommunityContribution     EventType = "community_contribution"
)

// Event is emitted by the engine after an operation commits. Only the
// fields relevant to Type are populated.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Stream        Address   `json:"stream,omitzero"`
	Viewer        Address   `json:"viewer,omitzero"`
	Authority     Address   `json:"authority,omitzero"`
	Mint          Address   `json:"mint,omitzero"`
	TokenAccount  Address   `json:"token_account,omitzero"`
	Choice        uint8     `json:"choice"`
	WinningChoice uint8     `json:"winning_choice"`
	Amount        uint64    `json:"amount"`
	TipAmount     uint64    `json:"tip_amount"`
	Timestamp     time.Time `json:"timestamp"`
}

// PredictionSubmitted is emitted when a viewer stakes on a choice.
func PredictionSubmitted(stream, viewer Address, choice uint8, amount uint64) Event {
	return Event{Type: EventPredictionSubmitted, Stream: stream, Viewer: viewer, Choice: choice, Amount: amount}
}

// StreamResolved is emitted when the creator fixes the winning choice.
func StreamResolved(stream Address, winningChoice uint8, tipAmount uint64) Event {
	return Event{Type: EventStreamResolved, Stream: stream, WinningChoice: winningChoice, TipAmount: tipAmount}
}

// RewardClaimed is emitted when a winner is paid.
func RewardClaimed(stream, viewer Address, amount uint64) Event {
	return Event{Type: EventRewardClaimed, Stream: stream, Viewer: viewer, Amount: amount}
}

// RefundClaimed is emitted when a stake is returned from a canceled stream.
func RefundClaimed(stream, viewer Address, amount uint64) Event {
	return Event{Type: EventRefundClaimed, Stream: stream, Viewer: viewer, Amount: amount}
}

// CommunityVaultInitialized is emitted once for the singleton community vault.
func CommunityVaultInitialized(authority, mint, tokenAccount Address) Event {
	return Event{Type: EventCommunityVaultInitialized, Authority: authority, Mint: mint, TokenAccount: tokenAccount}
}

// StreamEvent builds a lifecycle event that only carries the stream address.
func StreamEvent(t EventType, stream Address) Event {
	return Event{Type: t, Stream: stream}
}

// EventSink receives committed events.
type EventSink interface {
	Emit(event Event)
}
