// Package kv implements domain.Tx over any ordered key/value transaction.
// Records are stored under tag||address keys with their codec layout as the
// value, so a prefix scan over a tag enumerates one record kind.
package kv

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/alanyoungcy/cyphercast/internal/codec"
	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// Txn is the raw key/value surface a backend provides. Get returns
// domain.ErrNotFound for missing keys. Scan visits keys with prefix in
// ascending order.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// Key returns the storage key of the record of kind tag at addr.
func Key(tag codec.Tag, addr domain.Address) []byte {
	k := make([]byte, 0, codec.TagSize+domain.AddressLength)
	k = append(k, tag[:]...)
	return append(k, addr[:]...)
}

// Tx adapts a Txn to domain.Tx.
type Tx struct {
	txn Txn
}

// NewTx wraps txn.
func NewTx(txn Txn) *Tx {
	return &Tx{txn: txn}
}

func (t *Tx) load(tag codec.Tag, addr domain.Address) ([]byte, error) {
	v, err := t.txn.Get(Key(tag, addr))
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (t *Tx) create(tag codec.Tag, addr domain.Address, value []byte) error {
	key := Key(tag, addr)
	_, err := t.txn.Get(key)
	switch {
	case err == nil:
		return fmt.Errorf("kv: create %s: %w", addr, domain.ErrAlreadyExists)
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("kv: create %s: %w", addr, err)
	}
	return t.txn.Set(key, value)
}

func (t *Tx) put(tag codec.Tag, addr domain.Address, value []byte) error {
	key := Key(tag, addr)
	if _, err := t.txn.Get(key); err != nil {
		return fmt.Errorf("kv: put %s: %w", addr, err)
	}
	return t.txn.Set(key, value)
}

func (t *Tx) Stream(addr domain.Address) (domain.Stream, error) {
	v, err := t.load(codec.TagStream, addr)
	if err != nil {
		return domain.Stream{}, err
	}
	return codec.DecodeStream(v)
}

func (t *Tx) CreateStream(s domain.Stream) error {
	b, err := codec.EncodeStream(s)
	if err != nil {
		return err
	}
	return t.create(codec.TagStream, s.Address, b)
}

func (t *Tx) PutStream(s domain.Stream) error {
	b, err := codec.EncodeStream(s)
	if err != nil {
		return err
	}
	return t.put(codec.TagStream, s.Address, b)
}

func (t *Tx) Vault(addr domain.Address) (domain.TokenVault, error) {
	v, err := t.load(codec.TagTokenVault, addr)
	if err != nil {
		return domain.TokenVault{}, err
	}
	return codec.DecodeVault(v)
}

func (t *Tx) CreateVault(v domain.TokenVault) error {
	return t.create(codec.TagTokenVault, v.Address, codec.EncodeVault(v))
}

func (t *Tx) PutVault(v domain.TokenVault) error {
	return t.put(codec.TagTokenVault, v.Address, codec.EncodeVault(v))
}

func (t *Tx) Prediction(addr domain.Address) (domain.Prediction, error) {
	v, err := t.load(codec.TagPrediction, addr)
	if err != nil {
		return domain.Prediction{}, err
	}
	return codec.DecodePrediction(v)
}

func (t *Tx) CreatePrediction(p domain.Prediction) error {
	return t.create(codec.TagPrediction, p.Address, codec.EncodePrediction(p))
}

func (t *Tx) PutPrediction(p domain.Prediction) error {
	return t.put(codec.TagPrediction, p.Address, codec.EncodePrediction(p))
}

func (t *Tx) Participant(addr domain.Address) (domain.Participant, error) {
	v, err := t.load(codec.TagParticipant, addr)
	if err != nil {
		return domain.Participant{}, err
	}
	return codec.DecodeParticipant(v)
}

func (t *Tx) CreateParticipant(p domain.Participant) error {
	return t.create(codec.TagParticipant, p.Address, codec.EncodeParticipant(p))
}

func (t *Tx) CommunityVault(addr domain.Address) (domain.CommunityVault, error) {
	v, err := t.load(codec.TagCommunityVault, addr)
	if err != nil {
		return domain.CommunityVault{}, err
	}
	return codec.DecodeCommunityVault(v)
}

func (t *Tx) CreateCommunityVault(v domain.CommunityVault) error {
	return t.create(codec.TagCommunityVault, v.Address, codec.EncodeCommunityVault(v))
}

func (t *Tx) PutCommunityVault(v domain.CommunityVault) error {
	return t.put(codec.TagCommunityVault, v.Address, codec.EncodeCommunityVault(v))
}

func (t *Tx) TokenAccount(addr domain.Address) (domain.TokenAccount, error) {
	v, err := t.load(codec.TagTokenAccount, addr)
	if err != nil {
		return domain.TokenAccount{}, err
	}
	return codec.DecodeTokenAccount(v)
}

func (t *Tx) CreateTokenAccount(a domain.TokenAccount) error {
	return t.create(codec.TagTokenAccount, a.Address, codec.EncodeTokenAccount(a))
}

func (t *Tx) PutTokenAccount(a domain.TokenAccount) error {
	return t.put(codec.TagTokenAccount, a.Address, codec.EncodeTokenAccount(a))
}

// ListStreams scans every stream, applies filter and the time window of
// opts to StartTime, and pages the result newest first.
func ListStreams(txn Txn, filter domain.StreamFilter, opts domain.ListOpts) ([]domain.Stream, error) {
	var out []domain.Stream
	err := txn.Scan(codec.TagStream[:], func(_, value []byte) error {
		s, err := codec.DecodeStream(value)
		if err != nil {
			return err
		}
		if filter.Creator != nil && s.Creator != *filter.Creator {
			return nil
		}
		if filter.SettledOnly && !s.IsSettled() {
			return nil
		}
		if opts.Since != nil && s.StartTime < opts.Since.Unix() {
			return nil
		}
		if opts.Until != nil && s.StartTime >= opts.Until.Unix() {
			return nil
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: list streams: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime > out[j].StartTime
		}
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return page(out, opts), nil
}

// ListPredictions returns every prediction on stream ordered by timestamp.
func ListPredictions(txn Txn, stream domain.Address) ([]domain.Prediction, error) {
	var out []domain.Prediction
	err := txn.Scan(codec.TagPrediction[:], func(_, value []byte) error {
		p, err := codec.DecodePrediction(value)
		if err != nil {
			return err
		}
		if p.Stream == stream {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: list predictions %s: %w", stream, err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.Tx = (*Tx)(nil)
