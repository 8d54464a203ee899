package artifact

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibala/provenance-agent/interfaces"
)

func testStore(t *testing.T, mirrors ...interfaces.ArtifactBackend) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewStore(t.TempDir(), "Kibala", log, mirrors...)
	require.NoError(t, err)
	return store
}

func TestStore_SaveBytesAndList(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	artifact, err := store.SaveBytes(ctx, []byte("signed jpeg bytes"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(artifact.Name, "Kibala_"))
	assert.True(t, strings.HasSuffix(artifact.Name, ".jpg"))
	assert.Equal(t, int64(len("signed jpeg bytes")), artifact.Size)

	// Bytes land on disk verbatim.
	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("signed jpeg bytes"), data)

	artifacts, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, artifact.Name, artifacts[0].Name)
}

func TestStore_CommitFromPending(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	pending := store.NewPending()
	require.NoError(t, os.WriteFile(pending, []byte("output"), 0600))

	artifact, err := store.Commit(ctx, pending)
	require.NoError(t, err)

	// The pending file is gone; only the final name remains.
	_, err = os.Stat(pending)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("output"), data)
}

func TestStore_CommitRejectsEmptyAndMissing(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.Commit(ctx, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	pending := store.NewPending()
	require.NoError(t, os.WriteFile(pending, nil, 0600))
	_, err = store.Commit(ctx, pending)
	assert.Error(t, err)
}

func TestStore_ListIgnoresPendingAndForeignFiles(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.SaveBytes(ctx, []byte("one"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.NewPending(), []byte("partial"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(store.baseDir, "notes.txt"), []byte("x"), 0600))

	artifacts, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}

func TestStore_ListSurvivesRestart(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir, "Kibala", log)
	require.NoError(t, err)
	saved, err := store.SaveBytes(ctx, []byte("persists"))
	require.NoError(t, err)

	// A fresh store over the same directory sees the artifact: the
	// directory itself is the index.
	reopened, err := NewStore(dir, "Kibala", log)
	require.NoError(t, err)
	artifacts, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, saved.Name, artifacts[0].Name)
}

type recordingMirror struct {
	available bool
	fail      bool
	names     []string
}

func (m *recordingMirror) Mirror(ctx context.Context, name string, data []byte) error {
	if m.fail {
		return assert.AnError
	}
	m.names = append(m.names, name)
	return nil
}

func (m *recordingMirror) Available(ctx context.Context) bool { return m.available }
func (m *recordingMirror) Name() string                       { return "recording" }
func (m *recordingMirror) LocationURI() string                { return "test://recording" }

func TestStore_MirrorsAreBestEffort(t *testing.T) {
	healthy := &recordingMirror{available: true}
	down := &recordingMirror{available: false}
	broken := &recordingMirror{available: true, fail: true}
	store := testStore(t, healthy, down, broken)

	artifact, err := store.SaveBytes(context.Background(), []byte("mirrored"))
	require.NoError(t, err)

	// Healthy mirror got the upload; failures did not affect the save.
	assert.Equal(t, []string{artifact.Name}, healthy.names)
	assert.Empty(t, down.names)
}

func TestMirrorFor(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := MirrorFor("ipfs://127.0.0.1:5001/", log)
	require.NoError(t, err)
	assert.Equal(t, "ipfs-127.0.0.1-5001", backend.Name())

	backend, err = MirrorFor("s3://key:secret@my-bucket/artifacts?region=eu-west-1", log)
	require.NoError(t, err)
	assert.Equal(t, "s3-my-bucket", backend.Name())

	_, err = MirrorFor("ftp://nope", log)
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	mirrors, err := MirrorsFor("", log)
	require.NoError(t, err)
	assert.Empty(t, mirrors)
}
