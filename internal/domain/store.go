package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// StreamFilter narrows ListStreams results.
type StreamFilter struct {
	Creator *Address
	// SettledOnly keeps resolved or canceled streams.
	SettledOnly bool
}

// Tx is the record view of one atomic operation. Get methods return
// ErrNotFound for vacant addresses; Create methods return ErrAlreadyExists
// for occupied ones; Put methods overwrite an existing record.
type Tx interface {
	Stream(addr Address) (Stream, error)
	CreateStream(s Stream) error
	PutStream(s Stream) error

	Vault(addr Address) (TokenVault, error)
	CreateVault(v TokenVault) error
	PutVault(v TokenVault) error

	Prediction(addr Address) (Prediction, error)
	CreatePrediction(p Prediction) error
	PutPrediction(p Prediction) error

	Participant(addr Address) (Participant, error)
	CreateParticipant(p Participant) error

	CommunityVault(addr Address) (CommunityVault, error)
	CreateCommunityVault(v CommunityVault) error
	PutCommunityVault(v CommunityVault) error

	TokenAccount(addr Address) (TokenAccount, error)
	CreateTokenAccount(a TokenAccount) error
	PutTokenAccount(a TokenAccount) error
}

// Store persists engine records. Atomic runs fn as a single all-or-nothing
// unit: if fn returns an error nothing it wrote is kept.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	ListStreams(ctx context.Context, filter StreamFilter, opts ListOpts) ([]Stream, error)
	ListPredictions(ctx context.Context, stream Address) ([]Prediction, error)
	Close() error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
