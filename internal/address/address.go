// Package address derives the canonical storage address of every record
// kind. A derivation is Keccak-256 over a fixed namespace, the kind tag and
// each seed, with every part prefixed by its big-endian uint16 length so
// that distinct (kind, seeds) tuples never share a preimage.
package address

import (
	"crypto/ecdsa"
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

const namespace = "cyphercast/v1"

// Seed tags for each record kind.
const (
	KindStream         = "stream"
	KindVault          = "vault"
	KindPrediction     = "prediction"
	KindParticipant    = "participant"
	KindCommunityVault = "community_vault"
	KindToken          = "token"
)

// Derive returns the address for kind and seeds.
func Derive(kind string, seeds ...[]byte) domain.Address {
	parts := make([][]byte, 0, 2*(len(seeds)+2))
	parts = append(parts, lengthPrefix([]byte(namespace)), []byte(namespace))
	parts = append(parts, lengthPrefix([]byte(kind)), []byte(kind))
	for _, s := range seeds {
		parts = append(parts, lengthPrefix(s), s)
	}
	var out domain.Address
	copy(out[:], ethcrypto.Keccak256(parts...))
	return out
}

// Stream is the address of the stream creator opened with id.
func Stream(creator domain.Address, id uint64) domain.Address {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], id)
	return Derive(KindStream, creator[:], le[:])
}

// Vault is the escrow vault of stream.
func Vault(stream domain.Address) domain.Address {
	return Derive(KindVault, stream[:])
}

// Prediction is the single prediction slot of viewer on stream.
func Prediction(stream, viewer domain.Address) domain.Address {
	return Derive(KindPrediction, stream[:], viewer[:])
}

// Participant is the attendance record of viewer on stream.
func Participant(stream, viewer domain.Address) domain.Address {
	return Derive(KindParticipant, stream[:], viewer[:])
}

// CommunityVault is the singleton community pool.
func CommunityVault() domain.Address {
	return Derive(KindCommunityVault)
}

// TokenAccount is the associated account holding mint for owner.
func TokenAccount(mint, owner domain.Address) domain.Address {
	return Derive(KindToken, mint[:], owner[:])
}

// Identity returns the identity address controlled by pub.
func Identity(pub *ecdsa.PublicKey) domain.Address {
	var out domain.Address
	// Drop the 0x04 uncompressed point prefix.
	copy(out[:], ethcrypto.Keccak256(ethcrypto.FromECDSAPub(pub)[1:]))
	return out
}

func lengthPrefix(b []byte) []byte {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(b)))
	return n[:]
}
