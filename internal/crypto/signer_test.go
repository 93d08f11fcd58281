package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)
	// Well-known test vector for this key.
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())
}

func TestSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("zz", 137)
	assert.Error(t, err)
}

func TestSignAuthMessageIsDeterministic(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sig1, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	sig2, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
	assert.True(t, strings.HasPrefix(sig1, "0x"))
	assert.Len(t, sig1, 132) // 65 bytes hex + prefix

	last := sig1[len(sig1)-2:]
	assert.Contains(t, []string{"1b", "1c"}, last, "v adjusted to 27/28")
}

func TestSignAuthMessageVariesWithInput(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sig1, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	sig2, err := s.SignAuthMessage(s.Address().Hex(), 1700000001, 0)
	require.NoError(t, err)

	assert.NotEqual(t, sig1, sig2)
}

func orderPayload() OrderPayload {
	return OrderPayload{
		Salt:          "123456789",
		Maker:         "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Signer:        "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "50000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func TestSignOrder(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sig, err := s.SignOrder(orderPayload())
	require.NoError(t, err)
	assert.Len(t, sig, 132)

	// Any field change must change the signature.
	other := orderPayload()
	other.MakerAmount = "50000001"
	sig2, err := s.SignOrder(other)
	require.NoError(t, err)
	assert.NotEqual(t, sig, sig2)
}

func TestOrderHashIsReproducible(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	h1, err := s.OrderHash(orderPayload())
	require.NoError(t, err)
	h2, err := s.OrderHash(orderPayload())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, "0x"))
	assert.Len(t, h1, 66)

	other := orderPayload()
	other.Salt = "987654321"
	h3, err := s.OrderHash(other)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestSignOrderRejectsNonNumericFields(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	bad := orderPayload()
	bad.TokenID = "not-a-number"
	_, err = s.SignOrder(bad)
	assert.Error(t, err)
}
