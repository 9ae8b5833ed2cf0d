package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key (hardhat account #0). Never funded on mainnet.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	// 0x prefix is accepted too.
	s2, err := NewSigner("0x"+testKeyHex, 137)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), s2.Address())
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-hex", 137)
	assert.Error(t, err)
}

func TestSignAuthMessageIsDeterministic(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sig1, err := s.SignAuthMessage(s.Address().Hex(), 1756500000, 0)
	require.NoError(t, err)
	sig2, err := s.SignAuthMessage(s.Address().Hex(), 1756500000, 0)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 2+65*2, "0x prefix plus 65 hex-encoded bytes")

	// A different timestamp produces a different signature.
	sig3, err := s.SignAuthMessage(s.Address().Hex(), 1756500001, 0)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)
}

func TestSignOrderRejectsMalformedFields(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	order := OrderPayload{
		Salt:        "not-a-number",
		Maker:       s.Address().Hex(),
		Signer:      s.Address().Hex(),
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "123",
		MakerAmount: "1000000",
		TakerAmount: "500000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
	}
	_, err = s.SignOrder(order)
	assert.Error(t, err)

	order.Salt = "12345"
	sig, err := s.SignOrder(order)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestL2HeadersAtDeterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:        "key-1",
		Secret:     "c2VjcmV0LWJ5dGVz", // base64 of "secret-bytes"
		Passphrase: "pass",
	}

	h1 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1756500000)
	h2 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1756500000)
	assert.Equal(t, h1, h2)

	assert.Equal(t, "0xabc", h1["POLY_ADDRESS"])
	assert.Equal(t, "key-1", h1["POLY_API_KEY"])
	assert.Equal(t, "1756500000", h1["POLY_TIMESTAMP"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])

	// A different body changes the signature.
	h3 := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":2}`, 1756500000)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], h3["POLY_SIGNATURE"])
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-value"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
	assert.NotContains(t, s, "secret-value")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong-password")
	assert.Error(t, err)
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err, "no source configured")
}
