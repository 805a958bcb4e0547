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
	// EIP712Domain(string name,string version,uint256 chainId)
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// ClobAuth(address address,uint256 timestamp,uint256 nonce)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)

	// Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// OrderPayload holds the 12 signed fields of a CLOB order. String types
// carry addresses and large numbers to preserve precision across JSON.
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

// Signer provides EIP-712 signing for CLOB authentication and orders.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int

	authDomainSep     []byte // ClobAuthDomain separator
	exchangeDomainSep []byte // CTF Exchange separator, bound to the contract
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key,
// the target chain ID (137 for Polygon mainnet), and the CTF Exchange
// contract address orders are verified against.
func NewSigner(privateKeyHex string, chainID int, exchangeAddr string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}

	s.authDomainSep = ethcrypto.Keccak256(concatBytes(
		authDomainTypeHash,
		ethcrypto.Keccak256([]byte("ClobAuthDomain")),
		ethcrypto.Keccak256([]byte("1")),
		bigIntTo32Bytes(big.NewInt(int64(chainID))),
	))

	exchange := common.HexToAddress(exchangeAddr)
	s.exchangeDomainSep = ethcrypto.Keccak256(concatBytes(
		exchangeDomainTypeHash,
		ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
		ethcrypto.Keccak256([]byte("1")),
		bigIntTo32Bytes(big.NewInt(int64(chainID))),
		common.LeftPadBytes(exchange.Bytes(), 32),
	))

	return s, nil
}

// Address returns the Ethereum address derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth message used to derive an API key.
// The returned string is a hex-encoded 65-byte signature.
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	addr := common.HexToAddress(address)

	structHash := ethcrypto.Keccak256(concatBytes(
		clobAuthTypeHash,
		common.LeftPadBytes(addr.Bytes(), 32),
		bigIntTo32Bytes(big.NewInt(timestamp)),
		bigIntTo32Bytes(big.NewInt(nonce)),
	))

	return s.signDigest(eip712Hash(s.authDomainSep, structHash))
}

// SignOrder signs an Order struct against the exchange domain. It returns a
// hex-encoded 65-byte signature.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(eip712Hash(s.exchangeDomainSep, structHash))
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes(
		[]byte{0x19, 0x01},
		domainSep,
		structHash,
	))
}

// signDigest signs a 32-byte digest, returning r || s || v hex with v in
// {27, 28} as the API expects.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// orderStructHash encodes and hashes an OrderPayload per EIP-712.
func orderStructHash(o OrderPayload) ([]byte, error) {
	parse := func(field, v string) (*big.Int, error) {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: invalid %s %q", field, v)
		}
		return n, nil
	}

	salt, err := parse("salt", o.Salt)
	if err != nil {
		return nil, err
	}
	tokenID, err := parse("tokenId", o.TokenID)
	if err != nil {
		return nil, err
	}
	makerAmt, err := parse("makerAmount", o.MakerAmount)
	if err != nil {
		return nil, err
	}
	takerAmt, err := parse("takerAmount", o.TakerAmount)
	if err != nil {
		return nil, err
	}
	expiration, err := parse("expiration", o.Expiration)
	if err != nil {
		return nil, err
	}
	nonce, err := parse("nonce", o.Nonce)
	if err != nil {
		return nil, err
	}
	feeRate, err := parse("feeRateBps", o.FeeRateBps)
	if err != nil {
		return nil, err
	}

	return ethcrypto.Keccak256(concatBytes(
		orderTypeHash,
		bigIntTo32Bytes(salt),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		bigIntTo32Bytes(tokenID),
		bigIntTo32Bytes(makerAmt),
		bigIntTo32Bytes(takerAmt),
		bigIntTo32Bytes(expiration),
		bigIntTo32Bytes(nonce),
		bigIntTo32Bytes(feeRate),
		bigIntTo32Bytes(big.NewInt(int64(o.Side))),
		bigIntTo32Bytes(big.NewInt(int64(o.SignatureType))),
	)), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
