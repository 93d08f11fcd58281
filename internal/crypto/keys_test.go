package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), testKeyHex)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptRejectsWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "hunter3")
	assert.Error(t, err)
}

func TestEncryptRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err, "empty password")

	_, err = EncryptKey("not-hex", "hunter2")
	assert.Error(t, err, "non-hex key")

	_, err = EncryptKey("deadbeef", "hunter2")
	assert.Error(t, err, "short key")
}

func TestResolveKeyPrefersRawHex(t *testing.T) {
	got, err := ResolveKey(KeySource{RawHex: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got, "0x prefix stripped")
}

func TestResolveKeyFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := ResolveKey(KeySource{EncryptedPath: path, Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestResolveKeyRequiresSomeSource(t *testing.T) {
	_, err := ResolveKey(KeySource{})
	assert.Error(t, err)
}
