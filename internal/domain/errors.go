package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidAddress = errors.New("invalid address")
	ErrBadSignature   = errors.New("invalid signature")
	ErrExpired        = errors.New("envelope expired")
	ErrLockHeld       = errors.New("lock already held")
)

// ErrorKind classifies engine failures. Every kind aborts the operation
// without side effects.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindState         ErrorKind = "state"
	KindAuthorization ErrorKind = "authorization"
	KindArithmetic    ErrorKind = "arithmetic"
	KindDoubleAction  ErrorKind = "double_action"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindInternal      ErrorKind = "internal"
)

// Error is a classified engine error with a stable code. Instances are
// package-level sentinels so callers can match them with errors.Is.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation errors.
var (
	ErrInvalidConfig    = newError(KindValidation, "invalid_config", "invalid stream configuration")
	ErrTitleTooLong     = newError(KindValidation, "title_too_long", "title exceeds 200 bytes")
	ErrInvalidTipBps    = newError(KindValidation, "invalid_tip_bps", "tip bps exceeds 10000")
	ErrInvalidPrecision = newError(KindValidation, "invalid_precision", "precision exceeds 9")
	ErrInvalidChoice    = newError(KindValidation, "invalid_choice", "choice out of range")
	ErrInvalidStake     = newError(KindValidation, "invalid_stake_amount", "stake amount must be positive")
	ErrInvalidAmount    = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrMintMismatch     = newError(KindValidation, "mint_mismatch", "token accounts hold different mints")
)

// Lifecycle errors.
var (
	ErrStreamNotActive     = newError(KindState, "stream_not_active", "stream not active")
	ErrStreamStillActive   = newError(KindState, "stream_still_active", "stream still active")
	ErrStreamLocked        = newError(KindState, "stream_locked", "stream locked")
	ErrStreamCanceled      = newError(KindState, "stream_canceled", "stream canceled")
	ErrStreamNotCanceled   = newError(KindState, "stream_not_canceled", "stream not canceled")
	ErrAlreadyActivated    = newError(KindState, "already_activated", "stream already activated")
	ErrAlreadyResolved     = newError(KindState, "already_resolved", "stream already resolved")
	ErrNotResolved         = newError(KindState, "not_resolved", "stream not resolved")
	ErrVaultNotInitialized = newError(KindState, "vault_not_initialized", "token vault not initialized")
)

// Authorization errors.
var (
	ErrNotCreator    = newError(KindAuthorization, "unauthorized", "caller is not the stream creator")
	ErrNotOwner      = newError(KindAuthorization, "unauthorized", "caller does not own the record")
	ErrBadAuthority  = newError(KindAuthorization, "unauthorized", "authority cannot sign for token account")
	ErrNotWinner     = newError(KindAuthorization, "not_winner", "prediction did not pick the winning choice")
	ErrWrongStream   = newError(KindAuthorization, "unauthorized", "prediction belongs to another stream")
	ErrNotAuthorized = newError(KindAuthorization, "unauthorized", "caller not authorized")
)

// Arithmetic errors.
var (
	ErrOverflow          = newError(KindArithmetic, "arithmetic_overflow", "arithmetic overflow")
	ErrInsufficientFunds = newError(KindArithmetic, "insufficient_funds", "insufficient funds")
	ErrVaultOverdrawn    = newError(KindArithmetic, "vault_overdrawn", "release exceeds vault deposits")
)

// Double-action errors.
var (
	ErrRewardClaimed   = newError(KindDoubleAction, "reward_already_claimed", "reward already claimed")
	ErrAlreadyRefunded = newError(KindDoubleAction, "already_refunded", "refund already claimed")
	ErrNoWinningStake  = newError(KindDoubleAction, "no_winning_stake", "no stake on the winning choice")
	ErrEnvelopeReused  = newError(KindDoubleAction, "envelope_reused", "signed envelope already applied")
)

// KindOf classifies err. Plain sentinel errors from the store and identity
// layers map onto their natural kinds; anything unknown is internal.
func KindOf(err error) ErrorKind {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Kind
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrLockHeld):
		return KindConflict
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrBadSignature), errors.Is(err, ErrExpired):
		return KindAuthorization
	case errors.Is(err, ErrInvalidAddress):
		return KindValidation
	default:
		return KindInternal
	}
}

// CodeOf returns the stable code of err, or the kind when err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, ErrLockHeld) {
		return "lock_held"
	}
	switch KindOf(err) {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "already_exists"
	case KindAuthorization:
		return "unauthorized"
	case KindValidation:
		return "invalid_request"
	default:
		return "internal"
	}
}
