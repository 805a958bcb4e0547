package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Throwaway test key (hardhat account 0).
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	exchange    = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKey_Validation(t *testing.T) {
	_, err := EncryptKey(testKey, "")
	assert.Error(t, err)

	_, err = EncryptKey("nothex", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err, "short keys rejected")
}

func TestLoadKey(t *testing.T) {
	t.Run("raw key takes precedence", func(t *testing.T) {
		got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/does/not/exist"})
		require.NoError(t, err)
		assert.Equal(t, testKey, got)
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKey, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, testKey, got)
	})

	t.Run("no source", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{})
		assert.Error(t, err)
	})
}

func TestSigner_Address(t *testing.T) {
	s, err := NewSigner(testKey, 137, exchange)
	require.NoError(t, err)
	assert.Equal(t, testAddress, s.Address().Hex())

	_, err = NewSigner("zz", 137, exchange)
	assert.Error(t, err)
}

func TestSigner_SignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKey, 137, exchange)
	require.NoError(t, err)

	sig, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sig, "0x"))

	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	require.Len(t, raw, 65)
	assert.Contains(t, []byte{27, 28}, raw[64])

	// secp256k1 signing is deterministic for a fixed digest.
	again, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestSigner_SignOrder(t *testing.T) {
	s, err := NewSigner(testKey, 137, exchange)
	require.NoError(t, err)

	payload := OrderPayload{
		Salt:        "12345",
		Maker:       testAddress,
		Signer:      testAddress,
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount: "50000000",
		TakerAmount: "100000000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
		Side:        0,
	}

	sig, err := s.SignOrder(payload)
	require.NoError(t, err)
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	assert.Len(t, raw, 65)

	// Changing a signed field must change the signature.
	payload.Side = 1
	other, err := s.SignOrder(payload)
	require.NoError(t, err)
	assert.NotEqual(t, sig, other)

	payload.Salt = "notanumber"
	_, err = s.SignOrder(payload)
	assert.Error(t, err)
}

func TestHMACAuth_L2Headers(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("super-secret"))
	h := &HMACAuth{Key: "key-1", Secret: secret, Passphrase: "pass"}

	headers := h.L2HeadersAt(testAddress, "POST", "/order", `{"a":1}`, 1700000000)
	assert.Equal(t, testAddress, headers["POLY_ADDRESS"])
	assert.Equal(t, "key-1", headers["POLY_API_KEY"])
	assert.Equal(t, "1700000000", headers["POLY_TIMESTAMP"])
	assert.Equal(t, "pass", headers["POLY_PASSPHRASE"])

	sig, err := base64.StdEncoding.DecodeString(headers["POLY_SIGNATURE"])
	require.NoError(t, err)
	assert.Len(t, sig, 32)

	// Same inputs, same signature; different body, different signature.
	again := h.L2HeadersAt(testAddress, "POST", "/order", `{"a":1}`, 1700000000)
	assert.Equal(t, headers["POLY_SIGNATURE"], again["POLY_SIGNATURE"])
	other := h.L2HeadersAt(testAddress, "POST", "/order", `{"a":2}`, 1700000000)
	assert.NotEqual(t, headers["POLY_SIGNATURE"], other["POLY_SIGNATURE"])
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	h := &HMACAuth{Key: "key-abcdef", Secret: "secret-value"}
	s := h.String()
	assert.NotContains(t, s, "abcdef")
	assert.NotContains(t, s, "secret-value")
}
