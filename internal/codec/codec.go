// Package codec encodes engine records into their persisted binary layout:
// an 8-byte kind tag followed by the record's fields in declaration order,
// little-endian, with the stream title length-prefixed.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// TagSize is the length of the kind tag that prefixes every record.
const TagSize = 8

// Tag identifies the record kind of an encoded value.
type Tag [TagSize]byte

func tagFor(name string) Tag {
	var t Tag
	copy(t[:], ethcrypto.Keccak256([]byte("account:"+name)))
	return t
}

// Kind tags.
var (
	TagStream         = tagFor("Stream")
	TagTokenVault     = tagFor("TokenVault")
	TagPrediction     = tagFor("Prediction")
	TagParticipant    = tagFor("Participant")
	TagCommunityVault = tagFor("CommunityVault")
	TagTokenAccount   = tagFor("TokenAccount")
)

var (
	ErrWrongKind = errors.New("codec: wrong record kind")
	ErrTruncated = errors.New("codec: truncated record")
	ErrTrailing  = errors.New("codec: trailing bytes")
)

// Fixed sizes of each layout, title excluded.
const (
	streamFixedSize    = TagSize + 32 + 32 + 8 + 2 + 8 + 8 + 4 + 4 + 2 + 1 + 32 + 8 + 8*domain.ChoiceSlots + 1 + 1 + 1 + 8 + 8 + 8
	vaultSize          = TagSize + 32*4 + 8 + 8
	predictionSize     = TagSize + 32*3 + 1 + 8 + 8 + 1 + 1
	participantSize    = TagSize + 32*3 + 8 + 8 + 1
	communityVaultSize = TagSize + 32*4 + 8
	tokenAccountSize   = TagSize + 32*3 + 8
)

// TagOf returns the kind tag of an encoded record.
func TagOf(b []byte) (Tag, error) {
	var t Tag
	if len(b) < TagSize {
		return t, ErrTruncated
	}
	copy(t[:], b)
	return t, nil
}

// EncodeStream encodes s.
func EncodeStream(s domain.Stream) ([]byte, error) {
	if len(s.Title) > domain.MaxTitleLen {
		return nil, domain.ErrTitleTooLong
	}
	w := newWriter(TagStream, streamFixedSize+len(s.Title))
	w.addr(s.Address)
	w.addr(s.Creator)
	w.u64(s.StreamID)
	w.str(s.Title)
	w.i64(s.StartTime)
	w.i64(s.EndTime)
	w.u32(s.LockOffsetSecs)
	w.u32(s.GracePeriodSecs)
	w.u16(s.TipBps)
	w.u8(s.Precision)
	w.raw(s.ConfigHash[:])
	w.u64(s.TotalStake)
	for _, v := range s.TotalByChoice {
		w.u64(v)
	}
	w.bool(s.IsActive)
	w.bool(s.IsResolved)
	w.u8(s.WinningChoice)
	w.u64(s.TipAmount)
	w.i64(s.ResolvedAt)
	w.i64(s.CanceledAt)
	return w.buf, nil
}

// DecodeStream decodes a Stream layout.
func DecodeStream(b []byte) (domain.Stream, error) {
	var s domain.Stream
	r, err := newReader(b, TagStream)
	if err != nil {
		return s, err
	}
	s.Address = r.addr()
	s.Creator = r.addr()
	s.StreamID = r.u64()
	s.Title = r.str()
	s.StartTime = r.i64()
	s.EndTime = r.i64()
	s.LockOffsetSecs = r.u32()
	s.GracePeriodSecs = r.u32()
	s.TipBps = r.u16()
	s.Precision = r.u8()
	copy(s.ConfigHash[:], r.raw(32))
	s.TotalStake = r.u64()
	for i := range s.TotalByChoice {
		s.TotalByChoice[i] = r.u64()
	}
	s.IsActive = r.bool()
	s.IsResolved = r.bool()
	s.WinningChoice = r.u8()
	s.TipAmount = r.u64()
	s.ResolvedAt = r.i64()
	s.CanceledAt = r.i64()
	return s, r.done("stream")
}

// EncodeVault encodes v.
func EncodeVault(v domain.TokenVault) []byte {
	w := newWriter(TagTokenVault, vaultSize)
	w.addr(v.Address)
	w.addr(v.Stream)
	w.addr(v.Mint)
	w.addr(v.TokenAccount)
	w.u64(v.TotalDeposited)
	w.u64(v.TotalReleased)
	return w.buf
}

// DecodeVault decodes a TokenVault layout.
func DecodeVault(b []byte) (domain.TokenVault, error) {
	var v domain.TokenVault
	r, err := newReader(b, TagTokenVault)
	if err != nil {
		return v, err
	}
	v.Address = r.addr()
	v.Stream = r.addr()
	v.Mint = r.addr()
	v.TokenAccount = r.addr()
	v.TotalDeposited = r.u64()
	v.TotalReleased = r.u64()
	return v, r.done("vault")
}

// EncodePrediction encodes p.
func EncodePrediction(p domain.Prediction) []byte {
	w := newWriter(TagPrediction, predictionSize)
	w.addr(p.Address)
	w.addr(p.Stream)
	w.addr(p.Viewer)
	w.u8(p.Choice)
	w.u64(p.Amount)
	w.i64(p.Timestamp)
	w.bool(p.RewardClaimed)
	w.bool(p.Refunded)
	return w.buf
}

// DecodePrediction decodes a Prediction layout.
func DecodePrediction(b []byte) (domain.Prediction, error) {
	var p domain.Prediction
	r, err := newReader(b, TagPrediction)
	if err != nil {
		return p, err
	}
	p.Address = r.addr()
	p.Stream = r.addr()
	p.Viewer = r.addr()
	p.Choice = r.u8()
	p.Amount = r.u64()
	p.Timestamp = r.i64()
	p.RewardClaimed = r.bool()
	p.Refunded = r.bool()
	return p, r.done("prediction")
}

// EncodeParticipant encodes p.
func EncodeParticipant(p domain.Participant) []byte {
	w := newWriter(TagParticipant, participantSize)
	w.addr(p.Address)
	w.addr(p.Stream)
	w.addr(p.Viewer)
	w.u64(p.StakeAmount)
	w.i64(p.JoinedAt)
	w.bool(p.HasClaimed)
	return w.buf
}

// DecodeParticipant decodes a Participant layout.
func DecodeParticipant(b []byte) (domain.Participant, error) {
	var p domain.Participant
	r, err := newReader(b, TagParticipant)
	if err != nil {
		return p, err
	}
	p.Address = r.addr()
	p.Stream = r.addr()
	p.Viewer = r.addr()
	p.StakeAmount = r.u64()
	p.JoinedAt = r.i64()
	p.HasClaimed = r.bool()
	return p, r.done("participant")
}

// EncodeCommunityVault encodes v.
func EncodeCommunityVault(v domain.CommunityVault) []byte {
	w := newWriter(TagCommunityVault, communityVaultSize)
	w.addr(v.Address)
	w.addr(v.Authority)
	w.addr(v.Mint)
	w.addr(v.TokenAccount)
	w.u64(v.TotalContributions)
	return w.buf
}

// DecodeCommunityVault decodes a CommunityVault layout.
func DecodeCommunityVault(b []byte) (domain.CommunityVault, error) {
	var v domain.CommunityVault
	r, err := newReader(b, TagCommunityVault)
	if err != nil {
		return v, err
	}
	v.Address = r.addr()
	v.Authority = r.addr()
	v.Mint = r.addr()
	v.TokenAccount = r.addr()
	v.TotalContributions = r.u64()
	return v, r.done("community vault")
}

// EncodeTokenAccount encodes a.
func EncodeTokenAccount(a domain.TokenAccount) []byte {
	w := newWriter(TagTokenAccount, tokenAccountSize)
	w.addr(a.Address)
	w.addr(a.Mint)
	w.addr(a.Owner)
	w.u64(a.Balance)
	return w.buf
}

// DecodeTokenAccount decodes a TokenAccount layout.
func DecodeTokenAccount(b []byte) (domain.TokenAccount, error) {
	var a domain.TokenAccount
	r, err := newReader(b, TagTokenAccount)
	if err != nil {
		return a, err
	}
	a.Address = r.addr()
	a.Mint = r.addr()
	a.Owner = r.addr()
	a.Balance = r.u64()
	return a, r.done("token account")
}

type writer struct {
	buf []byte
}

func newWriter(tag Tag, size int) *writer {
	w := &writer{buf: make([]byte, 0, size)}
	w.buf = append(w.buf, tag[:]...)
	return w
}

func (w *writer) raw(b []byte)          { w.buf = append(w.buf, b...) }
func (w *writer) addr(a domain.Address) { w.buf = append(w.buf, a[:]...) }
func (w *writer) u8(v uint8)            { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16)          { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32)          { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64)          { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) i64(v int64)           { w.u64(uint64(v)) }

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) str(s string) {
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// reader decodes sequential fields. The first short read latches
// ErrTruncated and every later read returns zero values.
type reader struct {
	b   []byte
	off int
	err error
}

func newReader(b []byte, want Tag) (*reader, error) {
	got, err := TagOf(b)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, ErrWrongKind
	}
	return &reader{b: b, off: TagSize}, nil
}

func (r *reader) raw(n int) []byte {
	if r.err != nil || len(r.b)-r.off < n {
		r.err = ErrTruncated
		return make([]byte, n)
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) addr() domain.Address {
	var a domain.Address
	copy(a[:], r.raw(domain.AddressLength))
	return a
}

func (r *reader) u8() uint8   { return r.raw(1)[0] }
func (r *reader) u16() uint16 { return binary.LittleEndian.Uint16(r.raw(2)) }
func (r *reader) u32() uint32 { return binary.LittleEndian.Uint32(r.raw(4)) }
func (r *reader) u64() uint64 { return binary.LittleEndian.Uint64(r.raw(8)) }
func (r *reader) i64() int64  { return int64(r.u64()) }
func (r *reader) bool() bool  { return r.u8() != 0 }

func (r *reader) str() string {
	n := int(r.u16())
	if n > domain.MaxTitleLen {
		r.err = ErrTruncated
		return ""
	}
	return string(r.raw(n))
}

func (r *reader) done(kind string) error {
	if r.err != nil {
		return fmt.Errorf("%w: %s", r.err, kind)
	}
	if r.off != len(r.b) {
		return fmt.Errorf("%w: %s has %d extra", ErrTrailing, kind, len(r.b)-r.off)
	}
	return nil
}
