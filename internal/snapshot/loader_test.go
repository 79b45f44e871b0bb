package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	hashsha "github.com/JakeFAU/creator-outreach-sync/internal/hash/sha256"
	"github.com/JakeFAU/creator-outreach-sync/internal/outreach"
	"github.com/JakeFAU/creator-outreach-sync/internal/storage/memory"
)

const snapshotJSON = `{
  "creators": [
    {"id": 1, "slug": "maker", "name": "Maker", "websites": [{"url": "https://maker.example"}], "data_hash": "given"},
    {"id": 2, "slug": "other", "name": "Other", "websites": [{"url": "https://instagram.com/other"}]}
  ],
  "projects": [
    {"id": 10, "creator_id": 1, "name": "Widget", "state": "live", "created_at_source": "2026-01-05T10:00:00Z"}
  ]
}`

func TestDecodeFillsMissingHashes(t *testing.T) {
	t.Parallel()

	snap, filled, err := Decode([]byte(snapshotJSON), hashsha.New())
	require.NoError(t, err)
	require.Equal(t, 2, filled)
	require.Equal(t, "given", snap.Creators[0].DataHash)
	require.Len(t, snap.Creators[1].DataHash, 64)
	require.Len(t, snap.Projects[0].DataHash, 64)

	again, _, err := Decode([]byte(snapshotJSON), hashsha.New())
	require.NoError(t, err)
	require.Equal(t, snap.Creators[1].DataHash, again.Creators[1].DataHash)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, _, err := Decode([]byte(`{"creators": [`), hashsha.New())
	require.Error(t, err)
}

func TestLoadLocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(snapshotJSON), 0o600))

	snap, err := New(hashsha.New(), nil, nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, snap.Creators, 2)
	require.Len(t, snap.Projects, 1)
}

func TestLoadFromBucket(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(context.Background(), "daily/snapshot.json", "application/json", strings.NewReader(snapshotJSON))
	require.NoError(t, err)

	var openedBucket string
	loader := New(hashsha.New(), func(_ context.Context, bucket string) (outreach.BlobStore, error) {
		openedBucket = bucket
		return blobs, nil
	}, nil)

	snap, err := loader.Load(context.Background(), "gs://upstream/daily/snapshot.json")
	require.NoError(t, err)
	require.Equal(t, "upstream", openedBucket)
	require.Len(t, snap.Creators, 2)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	loader := New(hashsha.New(), nil, nil)
	_, err := loader.Load(context.Background(), "")
	require.Error(t, err)
	_, err = loader.Load(context.Background(), "gs://bucket/obj.json")
	require.ErrorContains(t, err, "no gcs client")
	_, err = loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}
