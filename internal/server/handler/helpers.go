package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/crypto"
	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// maxEnvelopeBytes bounds a signed request body.
const maxEnvelopeBytes = 64 << 10

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState, domain.KindDoubleAction, domain.KindConflict:
		return http.StatusConflict
	case domain.KindArithmetic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError reports err to the client. Internal errors are logged and
// their text withheld.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal", "internal server error")
		return
	}
	writeError(w, status, domain.CodeOf(err), err.Error())
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are unix seconds.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, ok := unixParam(q.Get("since")); ok {
		opts.Since = &t
	}
	if t, ok := unixParam(q.Get("until")); ok {
		opts.Until = &t
	}
	return opts
}

func unixParam(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

// addressParam parses the named path parameter as an address.
func addressParam(r *http.Request, name string) (domain.Address, error) {
	a, err := domain.ParseAddress(r.PathValue(name))
	if err != nil {
		return domain.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return a, nil
}

// decodeEnvelope reads a signed envelope from the request body.
func decodeEnvelope(r *http.Request) (crypto.Envelope, error) {
	var env crypto.Envelope
	body := io.LimitReader(r.Body, maxEnvelopeBytes)
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return env, fmt.Errorf("%w: %v", errBadBody, err)
	}
	if env.Op == "" || len(env.Payload) == 0 || env.Signature == "" {
		return env, fmt.Errorf("%w: op, payload and signature are required", errBadBody)
	}
	return env, nil
}

var errBadBody = &domain.Error{Kind: domain.KindValidation, Code: "invalid_request", Message: "malformed request body"}
