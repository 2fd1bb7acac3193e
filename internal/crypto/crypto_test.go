package crypto

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, WriteKeyFile(path, "0x"+testKey, "hunter2"))

	got, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.Error(t, err)
}

func TestLoadKeyPrefersRaw(t *testing.T) {
	got, err := LoadKey(KeySource{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeySource{RawPrivateKey: "zz"})
	assert.Error(t, err)

	_, err = LoadKey(KeySource{})
	assert.Error(t, err)
}

func TestSignOrderRecoversSigner(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	order := OrderPayload{
		Salt:        "12345",
		Maker:       s.Address().Hex(),
		Signer:      s.Address().Hex(),
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount: "2200000",
		TakerAmount: "5500000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
		Side:        0,
	}

	for _, negRisk := range []bool{false, true} {
		sigHex, err := s.SignOrder(order, negRisk)
		require.NoError(t, err)
		sig, err := hex.DecodeString(sigHex[2:])
		require.NoError(t, err)
		require.Len(t, sig, 65)

		digest, err := s.OrderDigest(order, negRisk)
		require.NoError(t, err)
		sig[64] -= 27
		pub, err := ethcrypto.SigToPub(digest, sig)
		require.NoError(t, err)
		assert.Equal(t, s.Address(), ethcrypto.PubkeyToAddress(*pub))
	}

	std, _ := s.OrderDigest(order, false)
	neg, _ := s.OrderDigest(order, true)
	assert.NotEqual(t, std, neg, "exchange contracts use distinct domains")

	order.MakerAmount = "not-a-number"
	_, err = s.SignOrder(order, false)
	assert.Error(t, err)
}

func TestL2HeadersDeterministic(t *testing.T) {
	h := &HMACAuth{Key: "key", Secret: "c2VjcmV0LXNlY3JldC1zZWNyZXQ=", Passphrase: "pass"}
	a := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	b := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)
	c := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":2}`, 1700000000)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a["POLY_SIGNATURE"], c["POLY_SIGNATURE"])
	assert.Equal(t, "1700000000", a["POLY_TIMESTAMP"])
	assert.Equal(t, "key", a["POLY_API_KEY"])
	assert.True(t, h.Valid())
	assert.False(t, (&HMACAuth{Key: "k"}).Valid())
}
