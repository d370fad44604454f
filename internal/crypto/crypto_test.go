package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

var testNow = time.Unix(1_700_000_000, 0)

func newTestVerifier() *Verifier {
	v := NewVerifier(10 * time.Minute)
	v.SetNowFunc(func() time.Time { return testNow })
	return v
}

func TestVerifyRecoversSigner(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)

	env, err := s.Sign("submit_prediction", map[string]any{"choice": 2, "amount": 40}, testNow.Unix()+60)
	require.NoError(t, err)

	id, err := newTestVerifier().Verify("submit_prediction", env)
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)
}

func TestVerifyRejectsTampering(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)
	env, err := s.Sign("claim_reward", map[string]any{"stream": "x"}, testNow.Unix()+60)
	require.NoError(t, err)

	tampered := env
	tampered.Payload = []byte(`{"stream":"y"}`)
	id, err := newTestVerifier().Verify("claim_reward", tampered)
	// A different digest recovers a different key, never the signer.
	if err == nil {
		assert.NotEqual(t, s.Identity(), id)
	}

	_, err = newTestVerifier().Verify("claim_refund", env)
	assert.ErrorIs(t, err, domain.ErrBadSignature)

	bad := env
	bad.Signature = "0x1234"
	_, err = newTestVerifier().Verify("claim_reward", bad)
	assert.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestVerifyExpiry(t *testing.T) {
	s, err := GenerateSigner()
	require.NoError(t, err)
	v := newTestVerifier()

	env, err := s.Sign("end_stream", struct{}{}, testNow.Unix())
	require.NoError(t, err)
	_, err = v.Verify("end_stream", env)
	assert.ErrorIs(t, err, domain.ErrExpired)

	env, err = s.Sign("end_stream", struct{}{}, testNow.Add(time.Hour).Unix())
	require.NoError(t, err)
	_, err = v.Verify("end_stream", env)
	assert.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestNewSignerFromHex(t *testing.T) {
	s, err := NewSigner("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	again, err := NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), again.Identity())

	_, err = NewSigner("nothex")
	assert.Error(t, err)
}
