package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTP://Example.COM:80/a?b=2&a=1#frag": "http://example.com/a?a=1&b=2",
		"https://example.com:443/":             "https://example.com/",
		"https://example.com:8443/x":           "https://example.com:8443/x",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}

	_, err := NormalizeURL("http://%zz")
	require.Error(t, err)
}

func TestValidateURL(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateURL("https://example.com/page"))
	for _, bad := range []string{"", "example.com", "ftp://example.com", "https://", "http://%zz"} {
		err := ValidateURL(bad)
		require.Error(t, err, bad)
		require.True(t, errors.Is(err, ErrInvalidURL), bad)
	}
}

func TestHostname(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Hostname("https://Example.com/path"))
	require.Equal(t, "unknown", Hostname("not a url"))
}
