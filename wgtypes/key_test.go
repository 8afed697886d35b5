package wgtypes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratePrivateKeyClamped(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	// Clamping per https://cr.yp.to/ecdh.html.
	require.Zero(t, key[0]&0b111)
	require.Zero(t, key[31]&0b10000000)
	require.NotZero(t, key[31]&0b01000000)
}

func TestKeyStringRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	got, err := ParseKey(key.String())
	require.NoError(t, err)
	require.Equal(t, key, got)

	got, err = ParseHexKey(key.HexString())
	require.NoError(t, err)
	require.Equal(t, key, got)
}

func TestNewKeyBadLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewKey(make([]byte, n)); err == nil {
			t.Fatalf("expected error for %d-byte key", n)
		}
	}
}

func TestKeyPublicKeyVector(t *testing.T) {
	// Test vector from RFC 7748, section 6.1.
	priv, err := ParseHexKey("77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a")
	require.NoError(t, err)

	pub, err := ParseHexKey("8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a")
	require.NoError(t, err)

	require.Equal(t, pub, priv.PublicKey())
}

func TestKeyIsZero(t *testing.T) {
	var zero Key
	require.True(t, zero.IsZero())

	key, err := GenerateKey()
	require.NoError(t, err)
	require.False(t, key.IsZero())
}
