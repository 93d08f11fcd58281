package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuth() *HMACAuth {
	return &HMACAuth{
		Key:        "api-key-1",
		Secret:     base64.StdEncoding.EncodeToString([]byte("super-secret")),
		Passphrase: "passphrase-1",
	}
}

func TestL2HeadersAtIsDeterministic(t *testing.T) {
	auth := testAuth()
	addr := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

	h1 := auth.L2HeadersAt(addr, "POST", "/order", `{"x":1}`, 1700000000)
	h2 := auth.L2HeadersAt(addr, "POST", "/order", `{"x":1}`, 1700000000)

	assert.Equal(t, h1, h2)
	assert.Equal(t, addr, h1["POLY_ADDRESS"])
	assert.Equal(t, "api-key-1", h1["POLY_API_KEY"])
	assert.Equal(t, "passphrase-1", h1["POLY_PASSPHRASE"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	require.NotEmpty(t, h1["POLY_SIGNATURE"])

	_, err := base64.StdEncoding.DecodeString(h1["POLY_SIGNATURE"])
	assert.NoError(t, err, "signature is base64")
}

func TestL2HeadersSignatureCoversEveryPart(t *testing.T) {
	auth := testAuth()
	addr := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	base := auth.L2HeadersAt(addr, "POST", "/order", "body", 1700000000)

	variants := []map[string]string{
		auth.L2HeadersAt(addr, "GET", "/order", "body", 1700000000),
		auth.L2HeadersAt(addr, "POST", "/orders", "body", 1700000000),
		auth.L2HeadersAt(addr, "POST", "/order", "other", 1700000000),
		auth.L2HeadersAt(addr, "POST", "/order", "body", 1700000001),
	}
	for _, v := range variants {
		assert.NotEqual(t, base["POLY_SIGNATURE"], v["POLY_SIGNATURE"])
	}
}

func TestHMACAuthStringRedactsSecrets(t *testing.T) {
	auth := testAuth()
	s := auth.String()
	assert.NotContains(t, s, auth.Secret)
	assert.Contains(t, s, "****")
}
