package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cyphercast/internal/crypto"
	"github.com/alanyoungcy/cyphercast/internal/domain"
)

var errNoCommunity = errors.New("community vault not initialized")

// CommunityCommands is the signed community-vault surface of the service.
type CommunityCommands interface {
	InitializeCommunityVault(ctx context.Context, env crypto.Envelope) (domain.CommunityVault, error)
	Contribute(ctx context.Context, env crypto.Envelope) (domain.CommunityVault, error)
}

// CommunityHandler serves the community vault endpoints.
type CommunityHandler struct {
	commands CommunityCommands
	ledger   Ledger
	logger   *slog.Logger
}

func NewCommunityHandler(commands CommunityCommands, ledger Ledger, logger *slog.Logger) *CommunityHandler {
	return &CommunityHandler{
		commands: commands,
		ledger:   ledger,
		logger:   logger.With(slog.String("handler", "community")),
	}
}

// GetVault returns the community vault.
// GET /api/community
func (h *CommunityHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	cv, err := h.ledger.CommunityVault(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", errNoCommunity.Error())
		return
	}
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cv)
}

// Initialize creates the community vault.
// POST /api/community
func (h *CommunityHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusCreated, h.commands.InitializeCommunityVault)
}

// Contribute adds tokens to the community vault.
// POST /api/community/contribute
func (h *CommunityHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, http.StatusOK, h.commands.Contribute)
}

func (h *CommunityHandler) run(w http.ResponseWriter, r *http.Request, status int,
	apply func(ctx context.Context, env crypto.Envelope) (domain.CommunityVault, error)) {
	env, err := decodeEnvelope(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	cv, err := apply(r.Context(), env)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, cv)
}
