package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cyphercast/internal/address"
	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// signedOpPrefix domain-separates operation digests from any other
// secp256k1 signature a key might produce.
var signedOpPrefix = []byte("\x19CypherCast Signed Operation:\n")

// Envelope is a signed request to run one operation. Payload is kept as the
// exact bytes the client signed.
type Envelope struct {
	Op        string          `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt int64           `json:"expires_at"`
	Signature string          `json:"signature"`
}

// Digest returns the 32-byte hash an envelope signature covers:
//
//	keccak256(prefix || op || 0x00 || payload || be64(expires_at))
func Digest(op string, payload []byte, expiresAt int64) []byte {
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(expiresAt))
	return ethcrypto.Keccak256(
		concatBytes(
			signedOpPrefix,
			[]byte(op),
			[]byte{0},
			payload,
			exp[:],
		),
	)
}

// Signer produces envelopes for one secp256k1 key. Servers never hold a
// Signer; clients and tests do.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	identity   domain.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an existing key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: pk, identity: address.Identity(&pk.PublicKey)}
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// Identity returns the identity address controlled by the signer's key.
func (s *Signer) Identity() domain.Address {
	return s.identity
}

// Sign marshals payload and returns a signed envelope for op.
func (s *Signer) Sign(op string, payload any, expiresAt int64) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("crypto/signer: marshal payload: %w", err)
	}
	sig, err := s.signDigest(Digest(op, raw, expiresAt))
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Op: op, Payload: raw, ExpiresAt: expiresAt, Signature: sig}, nil
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; clients commonly send {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
