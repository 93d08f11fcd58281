package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 of the canonical EIP-712 type strings.
var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// OrderPayload is the EIP-712 Order struct the CLOB expects. Large numbers
// travel as decimal strings so JSON round-trips never lose precision.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA
}

// Signer signs CLOB auth messages and orders with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	authDomain []byte // cached ClobAuthDomain separator
}

// NewSigner creates a Signer from a hex private key (0x prefix optional) and
// chain ID (137 for Polygon mainnet).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.authDomain = buildDomainSeparator("ClobAuthDomain", "1", chainID)
	return s, nil
}

// Address returns the wallet address derived from the private key.
func (s *Signer) Address() common.Address { return s.address }

// SignAuthMessage signs the ClobAuth message used to derive an API key.
// Returns a hex 65-byte r||s||v signature.
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(concat(
		clobAuthTypeHash,
		common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32),
		uint256Bytes(big.NewInt(timestamp)),
		uint256Bytes(big.NewInt(nonce)),
	))
	return s.signDigest(typedDataHash(s.authDomain, structHash))
}

// SignOrder signs an order struct for submission to the CLOB.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(typedDataHash(s.authDomain, structHash))
}

// OrderHash returns the hex EIP-712 digest identifying an order at the CLOB.
// The venue derives order IDs from this hash, so an order rebuilt from the
// same fields maps back to the same ID.
func (s *Signer) OrderHash(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(typedDataHash(s.authDomain, structHash)), nil
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: sign digest: %w", err)
	}
	// go-ethereum yields v in {0,1}; the API expects {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(concat(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		uint256Bytes(big.NewInt(int64(chainID))),
	))
}

// typedDataHash is keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataHash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concat([]byte{0x19, 0x01}, domainSep, structHash))
}

func orderStructHash(o OrderPayload) ([]byte, error) {
	nums := make([]*big.Int, 0, 7)
	for _, f := range []struct{ name, val string }{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	} {
		n, ok := new(big.Int).SetString(f.val, 10)
		if !ok {
			return nil, fmt.Errorf("crypto: invalid %s %q", f.name, f.val)
		}
		nums = append(nums, n)
	}

	return ethcrypto.Keccak256(concat(
		orderTypeHash,
		uint256Bytes(nums[0]),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		uint256Bytes(nums[1]),
		uint256Bytes(nums[2]),
		uint256Bytes(nums[3]),
		uint256Bytes(nums[4]),
		uint256Bytes(nums[5]),
		uint256Bytes(nums[6]),
		uint256Bytes(big.NewInt(int64(o.Side))),
		uint256Bytes(big.NewInt(int64(o.SignatureType))),
	)), nil
}

func uint256Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
