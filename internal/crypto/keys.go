// Package crypto resolves the trading wallet's private key and provides
// EIP-712 signing and HMAC authentication for the Polymarket CLOB API.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000 // OWASP minimum for HMAC-SHA256
	saltLen          = 16
	aesKeyLen        = 32
	keyfileVersion   = 1
)

// keyfile is the on-disk format of an encrypted private key. All binary
// fields are base64 standard encoding.
type keyfile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource tells ResolveKey where the trading key lives. A raw hex key
// wins over an encrypted file.
type KeySource struct {
	RawHex        string // hex private key, 0x prefix optional
	EncryptedPath string // path to a file written by EncryptKey
	Password      string
}

// ResolveKey returns the hex private key (no 0x prefix) from the configured
// source.
func ResolveKey(src KeySource) (string, error) {
	if src.RawHex != "" {
		k := strings.TrimPrefix(src.RawHex, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: private key is not valid hex: %w", err)
		}
		return k, nil
	}
	if src.EncryptedPath != "" {
		blob, err := os.ReadFile(src.EncryptedPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(blob, src.Password)
	}
	return "", errors.New("crypto: no key source configured")
}

// EncryptKey seals a hex private key with a password: PBKDF2-HMAC-SHA256
// derivation, AES-256-GCM encryption. Returns the keyfile JSON.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, keyBytes, nil)

	return json.MarshalIndent(keyfile{
		Version:    keyfileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, "", "  ")
}

// DecryptKey opens a keyfile produced by EncryptKey and returns the hex
// private key without 0x prefix.
func DecryptKey(blob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var stored keyfile
	if err := json.Unmarshal(blob, &stored); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if stored.Version != keyfileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create GCM: %w", err)
	}
	return gcm, nil
}
