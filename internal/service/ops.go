package service

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/engine"
)

// Operation names bound into envelope signatures.
const (
	OpCreateStream             = "create_stream"
	OpActivateStream           = "activate_stream"
	OpEndStream                = "end_stream"
	OpResolvePrediction        = "resolve_prediction"
	OpCancelStream             = "cancel_stream"
	OpInitializeTokenVault     = "initialize_token_vault"
	OpJoinStream               = "join_stream"
	OpSubmitPrediction         = "submit_prediction"
	OpClaimReward              = "claim_reward"
	OpClaimRefund              = "claim_refund"
	OpInitializeCommunityVault = "initialize_community_vault"
	OpContribute               = "contribute"
)

// CreateStreamPayload is the signed body of create_stream.
type CreateStreamPayload = engine.CreateStreamParams

// StreamPayload is the signed body of operations that only name a stream.
type StreamPayload struct {
	Stream domain.Address `json:"stream"`
}

// ResolvePayload is the signed body of resolve_prediction.
type ResolvePayload struct {
	Stream        domain.Address `json:"stream"`
	WinningChoice uint8          `json:"winning_choice"`
}

// VaultPayload is the signed body of initialize_token_vault.
type VaultPayload struct {
	Stream domain.Address `json:"stream"`
	Mint   domain.Address `json:"mint"`
}

// PredictionPayload is the signed body of submit_prediction.
type PredictionPayload struct {
	Stream domain.Address `json:"stream"`
	Choice uint8          `json:"choice"`
	Amount uint64         `json:"amount"`
}

// CommunityPayload is the signed body of initialize_community_vault.
type CommunityPayload struct {
	Mint domain.Address `json:"mint"`
}

// ContributePayload is the signed body of contribute. Nonce lets a viewer
// sign two otherwise identical contributions inside one expiry window.
type ContributePayload struct {
	Amount uint64 `json:"amount"`
	Nonce  string `json:"nonce,omitempty"`
}

var errPayload = &domain.Error{Kind: domain.KindValidation, Code: "invalid_payload", Message: "malformed operation payload"}

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errPayload, err)
	}
	return nil
}

// errStreamMismatch rejects envelopes signed for a different stream than
// the one addressed.
var errStreamMismatch = &domain.Error{Kind: domain.KindValidation, Code: "stream_mismatch", Message: "signed stream differs from target"}
