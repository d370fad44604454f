package address

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

func testAddress(fill byte) domain.Address {
	var a domain.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestStreamAddressIsDeterministic(t *testing.T) {
	creator := testAddress(0x01)

	assert.Equal(t, Stream(creator, 7), Stream(creator, 7))
	assert.NotEqual(t, Stream(creator, 7), Stream(creator, 8))
	assert.NotEqual(t, Stream(creator, 7), Stream(testAddress(0x02), 7))
}

func TestKindsDoNotCollide(t *testing.T) {
	stream := testAddress(0x11)
	viewer := testAddress(0x22)

	seen := map[domain.Address]string{}
	for name, addr := range map[string]domain.Address{
		"vault":       Vault(stream),
		"prediction":  Prediction(stream, viewer),
		"participant": Participant(stream, viewer),
		"community":   CommunityVault(),
		"token":       TokenAccount(stream, viewer),
	} {
		prev, dup := seen[addr]
		require.False(t, dup, "%s collides with %s", name, prev)
		seen[addr] = name
	}
}

func TestLengthPrefixSeparatesSeeds(t *testing.T) {
	a := Derive("x", []byte("ab"), []byte("c"))
	b := Derive("x", []byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
}

func TestPredictionDependsOnViewer(t *testing.T) {
	stream := testAddress(0x11)
	assert.NotEqual(t, Prediction(stream, testAddress(1)), Prediction(stream, testAddress(2)))
}

func TestIdentityMatchesKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	id := Identity(&key.PublicKey)
	assert.False(t, id.IsZero())
	assert.Equal(t, id, Identity(&key.PublicKey))

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, id, Identity(&other.PublicKey))
}
