package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReverseBytes(t *testing.T) {
	require.Equal(t, []byte{3, 2, 1}, ReverseBytes([]byte{1, 2, 3}))
	require.Empty(t, ReverseBytes(nil))
}

func TestContentID(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ContentID(nil))
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	require.NoError(t, err)
	require.Len(t, a, 32)
	b, err := RandomHex(16)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestBase64RoundTrip(t *testing.T) {
	decoded, err := DecodeBase64(EncodeBase64([]byte("salt")))
	require.NoError(t, err)
	require.Equal(t, []byte("salt"), decoded)
}
