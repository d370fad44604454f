package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the byte length of every identity and record address.
const AddressLength = 32

// Address identifies a record, a token account, or a caller identity. Record
// addresses are derived deterministically from a kind tag and seeds; identity
// addresses are the Keccak-256 hash of a secp256k1 public key.
type Address [AddressLength]byte

// ZeroAddress is the unset address.
var ZeroAddress Address

// IsZero reports whether every byte of a is zero.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Hex returns the 0x-prefixed lowercase hex encoding of a.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressLength)
	copy(b, a[:])
	return b
}

// MarshalText encodes the address as 0x-prefixed hex.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText decodes a 0x-prefixed (or bare) hex address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a hex string into an Address. The 0x prefix is optional.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw) != AddressLength*2 {
		return a, fmt.Errorf("%w: address %q must be %d hex bytes", ErrInvalidAddress, s, AddressLength)
	}
	if _, err := hex.Decode(a[:], []byte(raw)); err != nil {
		return a, fmt.Errorf("%w: address %q: %v", ErrInvalidAddress, s, err)
	}
	return a, nil
}

// AddressFromBytes copies b into an Address. It fails unless b is exactly
// AddressLength bytes long.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("%w: got %d bytes", ErrInvalidAddress, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Hash is a 32-byte Keccak-256 digest.
type Hash [32]byte

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 0x-prefixed lowercase hex encoding of h.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// MarshalText encodes the hash as 0x-prefixed hex.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// UnmarshalText decodes a 0x-prefixed (or bare) hex hash.
func (h *Hash) UnmarshalText(text []byte) error {
	a, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*h = Hash(a)
	return nil
}
