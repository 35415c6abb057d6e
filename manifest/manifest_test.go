package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/raggo/internal/fs"
	"github.com/hupe1980/raggo/model"
)

func buildManifest(docs map[model.DocumentID]string) *Manifest {
	m := New("snapshot-000001")
	m.EmbeddingModel = "test-model"
	m.Dimension = 8
	m.ChunkSize = 1000
	m.ChunkOverlap = 200
	for id, hash := range docs {
		m.Documents[id] = DocumentInfo{
			ContentHash: hash,
			ModTime:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Size:        int64(len(hash)),
		}
	}
	return m
}

func TestIsStale(t *testing.T) {
	base := map[model.DocumentID]string{
		"a.txt": "hash-a",
		"b.txt": "hash-b",
	}

	tests := []struct {
		name      string
		persisted *Manifest
		current   *Manifest
		stale     bool
	}{
		{
			name:      "no persisted manifest",
			persisted: nil,
			current:   buildManifest(base),
			stale:     true,
		},
		{
			name:      "identical corpus",
			persisted: buildManifest(base),
			current:   buildManifest(base),
			stale:     false,
		},
		{
			name:      "content hash changed",
			persisted: buildManifest(base),
			current: buildManifest(map[model.DocumentID]string{
				"a.txt": "hash-a-changed",
				"b.txt": "hash-b",
			}),
			stale: true,
		},
		{
			name:      "document added",
			persisted: buildManifest(base),
			current: buildManifest(map[model.DocumentID]string{
				"a.txt": "hash-a",
				"b.txt": "hash-b",
				"c.txt": "hash-c",
			}),
			stale: true,
		},
		{
			name:      "document removed",
			persisted: buildManifest(base),
			current: buildManifest(map[model.DocumentID]string{
				"a.txt": "hash-a",
			}),
			stale: true,
		},
		{
			name:      "empty corpus against empty manifest",
			persisted: buildManifest(nil),
			current:   buildManifest(nil),
			stale:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stale, IsStale(tt.persisted, tt.current))
		})
	}

	t.Run("embedding model change is stale", func(t *testing.T) {
		current := buildManifest(base)
		current.EmbeddingModel = "other-model"
		assert.True(t, IsStale(buildManifest(base), current))
	})

	t.Run("chunk parameter change is stale", func(t *testing.T) {
		current := buildManifest(base)
		current.ChunkSize = 512
		assert.True(t, IsStale(buildManifest(base), current))
	})

	t.Run("mtime-only change is not stale", func(t *testing.T) {
		current := buildManifest(base)
		info := current.Documents["a.txt"]
		info.ModTime = info.ModTime.Add(time.Hour)
		current.Documents["a.txt"] = info
		assert.False(t, IsStale(buildManifest(base), current))
	})
}

func TestDiff(t *testing.T) {
	persisted := buildManifest(map[model.DocumentID]string{
		"keep.txt":   "hash-keep",
		"change.txt": "hash-old",
		"gone.txt":   "hash-gone",
	})
	current := buildManifest(map[model.DocumentID]string{
		"keep.txt":   "hash-keep",
		"change.txt": "hash-new",
		"new.txt":    "hash-new-doc",
	})

	ch := Diff(persisted, current)
	assert.Equal(t, []model.DocumentID{"new.txt"}, ch.Added)
	assert.Equal(t, []model.DocumentID{"gone.txt"}, ch.Removed)
	assert.Equal(t, []model.DocumentID{"change.txt"}, ch.Modified)
	assert.False(t, ch.ParamsChanged)
	assert.True(t, ch.Any())
}

func TestManifestPersistence(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.json")

		m := buildManifest(map[model.DocumentID]string{"a.txt": "hash-a"})
		require.NoError(t, m.Save(fs.Default, path, nil))

		loaded, err := Load(fs.Default, path, nil)
		require.NoError(t, err)
		assert.Equal(t, m.ID, loaded.ID)
		assert.Equal(t, m.EmbeddingModel, loaded.EmbeddingModel)
		assert.Equal(t, m.ChunkSize, loaded.ChunkSize)
		assert.Equal(t, m.Documents, loaded.Documents)
		assert.False(t, IsStale(loaded, m))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(fs.Default, filepath.Join(t.TempDir(), "nope.json"), nil)
		assert.Error(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.json")
		require.NoError(t, fs.WriteFileAtomic(fs.Default, path, []byte("{not json"), 0o644))

		_, err := Load(fs.Default, path, nil)
		assert.Error(t, err)
	})
}
