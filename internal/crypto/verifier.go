package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// Verifier authenticates envelopes by recovering the signing key.
type Verifier struct {
	maxAge time.Duration
	nowFn  func() time.Time
}

// NewVerifier accepts envelopes that expire no later than maxAge from now.
func NewVerifier(maxAge time.Duration) *Verifier {
	return &Verifier{maxAge: maxAge, nowFn: time.Now}
}

// SetNowFunc overrides the clock used for expiry checks.
func (v *Verifier) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	v.nowFn = now
}

// Verify checks that env was signed for op, has not expired, and returns
// the identity of its signer.
func (v *Verifier) Verify(op string, env Envelope) (domain.Address, error) {
	if env.Op != op {
		return domain.Address{}, fmt.Errorf("%w: envelope op %q, want %q", domain.ErrBadSignature, env.Op, op)
	}
	now := v.nowFn().Unix()
	if env.ExpiresAt <= now {
		return domain.Address{}, domain.ErrExpired
	}
	if v.maxAge > 0 && env.ExpiresAt > now+int64(v.maxAge/time.Second) {
		return domain.Address{}, fmt.Errorf("%w: expiry too far in the future", domain.ErrBadSignature)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(env.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		return domain.Address{}, fmt.Errorf("%w: malformed signature", domain.ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(Digest(env.Op, env.Payload, env.ExpiresAt), sig)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	return address.Identity(pub), nil
}
