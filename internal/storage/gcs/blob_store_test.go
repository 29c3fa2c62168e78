package gcs

import (
	"context"
	"hash/crc32"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck // test cleanup

	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket")

	store, err := New(client, Config{Bucket: "demos"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "  ", "image/png", nil)
	require.ErrorContains(t, err, "path")
}

func TestCastagnoliMatchesKnownVector(t *testing.T) {
	t.Parallel()

	// RFC 3720 test vector: 32 bytes of zeros.
	require.Equal(t, uint32(0x8a9136aa), crc32.Checksum(make([]byte, 32), castagnoli))
}
