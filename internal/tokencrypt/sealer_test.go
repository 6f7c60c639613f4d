package tokencrypt

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealOpenBindsUserID(t *testing.T) {
	sealer, err := NewSealer(testKey())
	require.NoError(t, err)

	sealed, err := sealer.Seal("user-1", "access-abc")
	require.NoError(t, err)
	require.NotContains(t, sealed, "access-abc")

	plain, err := sealer.Open("user-1", sealed)
	require.NoError(t, err)
	require.Equal(t, "access-abc", plain)

	_, err = sealer.Open("user-2", sealed)
	require.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestSealUsesFreshNonce(t *testing.T) {
	sealer, err := NewSealer(testKey())
	require.NoError(t, err)

	a, err := sealer.Seal("user-1", "same")
	require.NoError(t, err)
	b, err := sealer.Seal("user-1", "same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestEmptyValuesPassThrough(t *testing.T) {
	sealer, err := NewSealer(testKey())
	require.NoError(t, err)

	sealed, err := sealer.Seal("user-1", "")
	require.NoError(t, err)
	require.Empty(t, sealed)

	plain, err := sealer.Open("user-1", "")
	require.NoError(t, err)
	require.Empty(t, plain)
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey(hex.EncodeToString(testKey()))
	require.NoError(t, err)
	require.Equal(t, testKey(), key)

	_, err = ParseKey("too-short")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewSealer([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidKey)
}
