package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKey(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://example.com/",
		"https://example.com/a?b=c#d",
		"http://例え.jp/パス",
	}
	for _, u := range urls {
		key := EncodeKey(u)
		require.Equal(t, key, EncodeKey(u))
		require.Regexp(t, `^preview:[A-Za-z0-9+/]+=*$`, key)

		got, err := DecodeKey(key)
		require.NoError(t, err)
		require.Equal(t, u, got)
	}
	require.Equal(t, "preview:aHR0cHM6Ly9leGFtcGxlLmNvbS8=", EncodeKey("https://example.com/"))
}

func TestDecodeKeyErrors(t *testing.T) {
	t.Parallel()

	_, err := DecodeKey("session:abc")
	require.ErrorContains(t, err, "lacks prefix")

	_, err = DecodeKey("preview:!!!")
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "unknown", State(42).String())
}
