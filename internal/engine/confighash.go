package engine

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// ConfigHash commits to the configuration fields that activation freezes.
func ConfigHash(s domain.Stream) domain.Hash {
	buf := make([]byte, 0, 2+len(s.Title)+2+1+4+4)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s.Title)))
	buf = append(buf, s.Title...)
	buf = binary.LittleEndian.AppendUint16(buf, s.TipBps)
	buf = append(buf, s.Precision)
	buf = binary.LittleEndian.AppendUint32(buf, s.LockOffsetSecs)
	buf = binary.LittleEndian.AppendUint32(buf, s.GracePeriodSecs)

	var h domain.Hash
	copy(h[:], ethcrypto.Keccak256(buf))
	return h
}
