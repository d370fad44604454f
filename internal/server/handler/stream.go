package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/cyphercast/internal/crypto"
	"github.com/alanyoungcy/cyphercast/internal/domain"
	"github.com/alanyoungcy/cyphercast/internal/engine"
)

// StreamCommands is the signed-operation surface of the service layer.
// It is declared locally so handlers do not depend on the concrete service.
type StreamCommands interface {
	CreateStream(ctx context.Context, env crypto.Envelope) (domain.Stream, error)
	ActivateStream(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Stream, error)
	EndStream(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Stream, error)
	ResolvePrediction(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Stream, error)
	CancelStream(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Stream, error)
	InitializeTokenVault(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.TokenVault, error)
	JoinStream(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Participant, error)
	SubmitPrediction(ctx context.Context, stream domain.Address, env crypto.Envelope) (domain.Prediction, error)
	ClaimReward(ctx context.Context, stream domain.Address, env crypto.Envelope) (engine.Claim, error)
	ClaimRefund(ctx context.Context, stream domain.Address, env crypto.Envelope) (engine.Claim, error)
	Stream(ctx context.Context, addr domain.Address) (domain.Stream, error)
}

// Ledger is the read-only query surface of the engine.
type Ledger interface {
	ListStreams(ctx context.Context, filter domain.StreamFilter, opts domain.ListOpts) ([]domain.Stream, error)
	ListPredictions(ctx context.Context, stream domain.Address) ([]domain.Prediction, error)
	Vault(ctx context.Context, stream domain.Address) (domain.TokenVault, error)
	Prediction(ctx context.Context, stream, viewer domain.Address) (domain.Prediction, error)
	Participant(ctx context.Context, stream, viewer domain.Address) (domain.Participant, error)
	CommunityVault(ctx context.Context) (domain.CommunityVault, error)
	TokenAccount(ctx context.Context, addr domain.Address) (domain.TokenAccount, error)
}

// StreamHandler serves stream endpoints.
type StreamHandler struct {
	commands StreamCommands
	ledger   Ledger
	logger   *slog.Logger
}

func NewStreamHandler(commands StreamCommands, ledger Ledger, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		commands: commands,
		ledger:   ledger,
		logger:   logger.With(slog.String("handler", "stream")),
	}
}

// streamView decorates a stream with its derived status.
type streamView struct {
	domain.Stream
	Status   string `json:"status"`
	LockTime int64  `json:"lock_time"`
}

func viewOf(s domain.Stream) streamView {
	return streamView{Stream: s, Status: s.Status(), LockTime: s.LockTime()}
}

type listStreamsResponse struct {
	Streams []streamView `json:"streams"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListStreams returns streams newest first.
// GET /api/streams?creator=0x..&settled=true&limit=50&offset=0
func (h *StreamHandler) ListStreams(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	var filter domain.StreamFilter
	if c := r.URL.Query().Get("creator"); c != "" {
		creator, err := domain.ParseAddress(c)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		filter.Creator = &creator
	}
	filter.SettledOnly = r.URL.Query().Get("settled") == "true"

	streams, err := h.ledger.ListStreams(r.Context(), filter, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	views := make([]streamView, 0, len(streams))
	for _, s := range streams {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, listStreamsResponse{Streams: views, Limit: opts.Limit, Offset: opts.Offset})
}

// GetStream returns one stream.
// GET /api/streams/{address}
func (h *StreamHandler) GetStream(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	s, err := h.commands.Stream(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// GetVault returns the escrow vault of a stream.
// GET /api/streams/{address}/vault
func (h *StreamHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	v, err := h.ledger.Vault(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		domain.TokenVault
		Held uint64 `json:"held"`
	}{v, v.Held()})
}

// ListPredictions returns every prediction on a stream.
// GET /api/streams/{address}/predictions
func (h *StreamHandler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	preds, err := h.ledger.ListPredictions(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if preds == nil {
		preds = []domain.Prediction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": preds})
}

// GetPrediction returns one viewer's prediction.
// GET /api/streams/{address}/predictions/{viewer}
func (h *StreamHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	stream, viewer, err := streamAndViewer(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	p, err := h.ledger.Prediction(r.Context(), stream, viewer)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetParticipant returns one viewer's participation record.
// GET /api/streams/{address}/participants/{viewer}
func (h *StreamHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	stream, viewer, err := streamAndViewer(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	p, err := h.ledger.Participant(r.Context(), stream, viewer)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func streamAndViewer(r *http.Request) (domain.Address, domain.Address, error) {
	stream, err := addressParam(r, "address")
	if err != nil {
		return stream, domain.Address{}, err
	}
	viewer, err := addressParam(r, "viewer")
	return stream, viewer, err
}

// CreateStream runs a signed create_stream envelope.
// POST /api/streams
func (h *StreamHandler) CreateStream(w http.ResponseWriter, r *http.Request) {
	env, err := decodeEnvelope(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	s, err := h.commands.CreateStream(r.Context(), env)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

// signed adapts a per-stream signed operation into a handler.
func signed[T any](h *StreamHandler, status int, apply func(ctx context.Context, stream domain.Address, env crypto.Envelope) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream, err := addressParam(r, "address")
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		env, err := decodeEnvelope(r)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		out, err := apply(r.Context(), stream, env)
		if err != nil {
			writeDomainError(w, r, h.logger, err)
			return
		}
		if s, ok := any(out).(domain.Stream); ok {
			writeJSON(w, status, viewOf(s))
			return
		}
		writeJSON(w, status, out)
	}
}

// POST /api/streams/{address}/activate
func (h *StreamHandler) ActivateStream() http.HandlerFunc {
	return signed(h, http.StatusOK, h.commands.ActivateStream)
}

// POST /api/streams/{address}/end
func (h *StreamHandler) EndStream() http.HandlerFunc {
	return signed(h, http.StatusOK, h.commands.EndStream)
}

// POST /api/streams/{address}/resolve
func (h *StreamHandler) ResolvePrediction() http.HandlerFunc {
	return signed(h, http.StatusOK, h.commands.ResolvePrediction)
}

// POST /api/streams/{address}/cancel
func (h *StreamHandler) CancelStream() http.HandlerFunc {
	return signed(h, http.StatusOK, h.commands.CancelStream)
}

// POST /api/streams/{address}/vault
func (h *StreamHandler) InitializeTokenVault() http.HandlerFunc {
	return signed(h, http.StatusCreated, h.commands.InitializeTokenVault)
}

// POST /api/streams/{address}/join
func (h *StreamHandler) JoinStream() http.HandlerFunc {
	return signed(h, http.StatusCreated, h.commands.JoinStream)
}

// POST /api/streams/{address}/predictions
func (h *StreamHandler) SubmitPrediction() http.HandlerFunc {
	return signed(h, http.StatusCreated, h.commands.SubmitPrediction)
}

// POST /api/streams/{address}/claim
func (h *StreamHandler) ClaimReward() http.HandlerFunc {
	return signed(h, http.StatusOK, h.commands.ClaimReward)
}

// POST /api/streams/{address}/refund
func (h *StreamHandler) ClaimRefund() http.HandlerFunc {
	return signed(h, http.StatusOK, h.commands.ClaimRefund)
}

// GetAccount returns a token account.
// GET /api/accounts/{address}
func (h *StreamHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	a, err := h.ledger.TokenAccount(r.Context(), addr)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
