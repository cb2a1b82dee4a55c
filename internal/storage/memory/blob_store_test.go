package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	stored, contentType, ok := store.Object("path/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, "text/html", contentType)
	require.Equal(t, 1, store.Len())

	_, err = store.PutObject(context.Background(), " ", "text/html", bytes.NewReader(nil))
	require.Error(t, err)
	_, _, ok = store.Object("missing")
	require.False(t, ok)
}
