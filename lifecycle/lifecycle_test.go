package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/raggo/chunker"
	"github.com/hupe1980/raggo/index"
	"github.com/hupe1980/raggo/index/flat"
	"github.com/hupe1980/raggo/internal/fs"
	"github.com/hupe1980/raggo/loader"
	"github.com/hupe1980/raggo/metastore"
	"github.com/hupe1980/raggo/model"
)

// fakeEmbedder produces deterministic vectors from the text content.
type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		var sum float32
		for _, r := range text {
			sum += float32(r)
		}
		out[i] = []float32{sum, float32(len(text)), sum / 7, 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string  { return "fake-model" }
func (f *fakeEmbedder) Dimension() int { return 4 }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeCorpus(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newManager(t *testing.T, indexPath, corpusDir string, optFns ...func(o *Options)) *Manager {
	t.Helper()
	return newManagerRoots(t, indexPath, []string{corpusDir}, optFns...)
}

func newManagerRoots(t *testing.T, indexPath string, roots []string, optFns ...func(o *Options)) *Manager {
	t.Helper()

	ch, err := chunker.New(func(o *chunker.Options) {
		o.Size = 64
		o.Overlap = 8
	})
	require.NoError(t, err)

	base := func(o *Options) {
		o.Logger = discardLogger()
		o.Workers = 2
	}

	m, err := New(indexPath,
		Corpus{Roots: roots, Loader: loader.NewRegistry()},
		ch, &fakeEmbedder{}, append([]func(o *Options){base}, optFns...)...)
	require.NoError(t, err)
	return m
}

func TestOpenBuildsOnFirstUse(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	writeCorpus(t, corpus, map[string]string{
		"a.txt": "alpha document about retrieval",
		"b.md":  "bravo document about indexes",
	})

	m := newManager(t, indexPath, corpus)
	require.NoError(t, m.Open(context.Background()))

	snap := m.Active()
	require.NotNil(t, snap)
	assert.Equal(t, "snapshot-000001", snap.ID)
	assert.Equal(t, 2, len(snap.Manifest.Documents))
	assert.Equal(t, snap.Index.Len(), snap.Meta.Len())
	assert.Equal(t, StateFresh, m.State())

	current, err := os.ReadFile(filepath.Join(indexPath, currentFile))
	require.NoError(t, err)
	assert.Equal(t, "snapshot-000001\n", string(current))

	for _, name := range []string{vectorsFile, metadataFile, manifestFile} {
		_, err := os.Stat(filepath.Join(indexPath, "snapshot-000001", name))
		assert.NoError(t, err, name)
	}
}

func TestOpenLoadsExistingSnapshot(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	writeCorpus(t, corpus, map[string]string{"a.txt": "persisted once"})

	first := newManager(t, indexPath, corpus)
	require.NoError(t, first.Open(context.Background()))
	want := first.Active()

	second := newManager(t, indexPath, corpus)
	require.NoError(t, second.Open(context.Background()))

	got := second.Active()
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Index.Len(), got.Index.Len())
	assert.Equal(t, want.Index.IDs(), got.Index.IDs())

	stale, err := second.IsStale(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestRefresh(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	writeCorpus(t, corpus, map[string]string{
		"a.txt": "original content of alpha",
		"b.txt": "original content of bravo",
	})

	m := newManager(t, indexPath, corpus)
	require.NoError(t, m.Open(context.Background()))

	t.Run("fresh corpus does not rebuild", func(t *testing.T) {
		rebuilt, err := m.Refresh(context.Background())
		require.NoError(t, err)
		assert.False(t, rebuilt)
		assert.Equal(t, "snapshot-000001", m.Active().ID)
	})

	t.Run("modified document triggers rebuild", func(t *testing.T) {
		writeCorpus(t, corpus, map[string]string{"a.txt": "rewritten content of alpha, much longer now"})

		rebuilt, err := m.Refresh(context.Background())
		require.NoError(t, err)
		assert.True(t, rebuilt)
		assert.Equal(t, "snapshot-000002", m.Active().ID)

		// Default retention keeps only the current generation.
		_, err = os.Stat(filepath.Join(indexPath, "snapshot-000001"))
		assert.True(t, os.IsNotExist(err))

		found := false
		for _, prov := range m.Active().Meta.All() {
			if prov.DocumentID == "a.txt" {
				assert.Contains(t, prov.Text, "rewritten")
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("deleted document triggers rebuild", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(corpus, "b.txt")))

		rebuilt, err := m.Refresh(context.Background())
		require.NoError(t, err)
		assert.True(t, rebuilt)

		assert.Equal(t, 1, len(m.Active().Manifest.Documents))
		for _, prov := range m.Active().Meta.All() {
			assert.NotEqual(t, model.DocumentID("b.txt"), prov.DocumentID)
		}
	})

	t.Run("added document triggers rebuild", func(t *testing.T) {
		writeCorpus(t, corpus, map[string]string{"c.txt": "charlie joins the corpus"})

		rebuilt, err := m.Refresh(context.Background())
		require.NoError(t, err)
		assert.True(t, rebuilt)
		assert.Equal(t, 2, len(m.Active().Manifest.Documents))
	})
}

func TestRebuildMultiRootCorpus(t *testing.T) {
	// Both roots carry the same relative filename with texts longer than the
	// chunk window, so without root-qualified ids their chunk ids would
	// collide and every rebuild would abort.
	textA := "alpha corpus readme, stretched well past a single chunk window so several chunks are cut from it"
	textB := "bravo corpus readme, also stretched well past a single chunk window so several chunks are cut too"

	t.Run("same relative path under two roots", func(t *testing.T) {
		rootA, rootB := t.TempDir(), t.TempDir()
		writeCorpus(t, rootA, map[string]string{"README.md": textA})
		writeCorpus(t, rootB, map[string]string{"README.md": textB})

		m := newManagerRoots(t, filepath.Join(t.TempDir(), "index"), []string{rootA, rootB})
		require.NoError(t, m.Open(context.Background()))

		snap := m.Active()
		require.NotNil(t, snap)
		require.Equal(t, 2, len(snap.Manifest.Documents))

		idA := model.DocumentID(filepath.Base(rootA) + "/README.md")
		idB := model.DocumentID(filepath.Base(rootB) + "/README.md")
		assert.Contains(t, snap.Manifest.Documents, idA)
		assert.Contains(t, snap.Manifest.Documents, idB)

		texts := make(map[model.DocumentID]string)
		for _, prov := range snap.Meta.All() {
			texts[prov.DocumentID] += prov.Text
		}
		assert.Contains(t, texts[idA], "alpha corpus readme")
		assert.Contains(t, texts[idB], "bravo corpus readme")

		// The scan derives the same ids as the rebuild, so an unchanged
		// corpus stays fresh.
		stale, err := m.IsStale(context.Background())
		require.NoError(t, err)
		assert.False(t, stale)

		rebuilt, err := m.Refresh(context.Background())
		require.NoError(t, err)
		assert.False(t, rebuilt)
	})

	t.Run("roots sharing a base name get positional labels", func(t *testing.T) {
		rootA := filepath.Join(t.TempDir(), "docs")
		rootB := filepath.Join(t.TempDir(), "docs")
		writeCorpus(t, rootA, map[string]string{"README.md": textA})
		writeCorpus(t, rootB, map[string]string{"README.md": textB})

		m := newManagerRoots(t, filepath.Join(t.TempDir(), "index"), []string{rootA, rootB})
		require.NoError(t, m.Open(context.Background()))

		snap := m.Active()
		require.NotNil(t, snap)
		assert.Contains(t, snap.Manifest.Documents, model.DocumentID("docs-1/README.md"))
		assert.Contains(t, snap.Manifest.Documents, model.DocumentID("docs-2/README.md"))
	})

	t.Run("single root keeps plain relative ids", func(t *testing.T) {
		root := t.TempDir()
		writeCorpus(t, root, map[string]string{"README.md": textA})

		m := newManagerRoots(t, filepath.Join(t.TempDir(), "index"), []string{root})
		require.NoError(t, m.Open(context.Background()))
		assert.Contains(t, m.Active().Manifest.Documents, model.DocumentID("README.md"))
	})
}

func TestRebuildFailureThreshold(t *testing.T) {
	files := map[string]string{
		"good1.txt": "first readable document",
		"good2.txt": "second readable document",
		"bad.json":  `{"broken": `,
	}

	t.Run("within threshold builds from readable documents", func(t *testing.T) {
		corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
		writeCorpus(t, corpus, files)

		m := newManager(t, indexPath, corpus, func(o *Options) {
			o.FailureThreshold = 1
		})
		require.NoError(t, m.Rebuild(context.Background()))

		snap := m.Active()
		require.NotNil(t, snap)
		assert.Equal(t, 2, len(snap.Manifest.Documents))
		for _, prov := range snap.Meta.All() {
			assert.NotEqual(t, model.DocumentID("bad.json"), prov.DocumentID)
		}
	})

	t.Run("exceeding threshold aborts", func(t *testing.T) {
		corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
		writeCorpus(t, corpus, files)

		m := newManager(t, indexPath, corpus)
		err := m.Rebuild(context.Background())
		require.Error(t, err)
		assert.Nil(t, m.Active())

		// Nothing may be committed.
		_, err = os.Stat(filepath.Join(indexPath, currentFile))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestRebuildCrashSafety(t *testing.T) {
	t.Run("failure while staging keeps old snapshot", func(t *testing.T) {
		corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
		writeCorpus(t, corpus, map[string]string{"a.txt": "stable content"})

		faulty := fs.NewFaultyFS(nil)
		m := newManager(t, indexPath, corpus, func(o *Options) {
			o.FS = faulty
		})
		require.NoError(t, m.Open(context.Background()))

		writeCorpus(t, corpus, map[string]string{"a.txt": "changed content, now longer"})
		faulty.AddRule(vectorsFile, fs.Fault{FailAfterBytes: -1, FailOnSync: true})

		require.Error(t, m.Rebuild(context.Background()))
		assert.Equal(t, "snapshot-000001", m.Active().ID)
		assert.Equal(t, StateFresh, m.State())

		// No staging leftovers, CURRENT untouched.
		entries, err := os.ReadDir(indexPath)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.NotContains(t, entry.Name(), stagingSuffix)
		}
		current, err := os.ReadFile(filepath.Join(indexPath, currentFile))
		require.NoError(t, err)
		assert.Equal(t, "snapshot-000001\n", string(current))

		// A fresh manager on an intact filesystem answers from the old snapshot.
		reopened := newManager(t, indexPath, corpus)
		require.NoError(t, reopened.Open(context.Background()))
		assert.Equal(t, "snapshot-000001", reopened.Active().ID)
	})

	t.Run("failure on pointer update is recovered on reopen", func(t *testing.T) {
		corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
		writeCorpus(t, corpus, map[string]string{"a.txt": "stable content"})

		faulty := fs.NewFaultyFS(nil)
		m := newManager(t, indexPath, corpus, func(o *Options) {
			o.FS = faulty
		})
		require.NoError(t, m.Open(context.Background()))

		writeCorpus(t, corpus, map[string]string{"a.txt": "changed content, now longer"})
		faulty.AddRule(currentFile, fs.Fault{FailAfterBytes: -1, FailOnRename: true})

		require.Error(t, m.Rebuild(context.Background()))
		assert.Equal(t, "snapshot-000001", m.Active().ID)

		// The renamed-but-unreferenced snapshot dir is an orphan; reopening
		// removes it and keeps answering from CURRENT.
		reopened := newManager(t, indexPath, corpus)
		require.NoError(t, reopened.Open(context.Background()))
		assert.Equal(t, "snapshot-000001", reopened.Active().ID)
		_, err := os.Stat(filepath.Join(indexPath, "snapshot-000002"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestRebuildCancellation(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	writeCorpus(t, corpus, map[string]string{"a.txt": "some content"})

	m := newManager(t, indexPath, corpus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, m.Rebuild(ctx))
	assert.Nil(t, m.Active())

	_, err := os.Stat(filepath.Join(indexPath, currentFile))
	assert.True(t, os.IsNotExist(err))
}

func TestOldSnapshotStaysReadable(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	writeCorpus(t, corpus, map[string]string{"a.txt": "first generation text"})

	m := newManager(t, indexPath, corpus, func(o *Options) {
		o.KeepSnapshots = 2
	})
	require.NoError(t, m.Open(context.Background()))
	old := m.Active()

	writeCorpus(t, corpus, map[string]string{"a.txt": "second generation text, different length"})
	require.NoError(t, m.Rebuild(context.Background()))

	// The old in-memory snapshot is immutable and keeps answering.
	query, err := (&fakeEmbedder{}).Embed(context.Background(), []string{"first generation text"})
	require.NoError(t, err)
	got, err := old.Index.Search(query[0], 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	prov, err := old.Meta.Get(got[0].ChunkID)
	require.NoError(t, err)
	assert.Contains(t, prov.Text, "first generation")
}

func TestOpenCleansLeftovers(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	writeCorpus(t, corpus, map[string]string{"a.txt": "content"})

	m := newManager(t, indexPath, corpus)
	require.NoError(t, m.Open(context.Background()))

	require.NoError(t, os.MkdirAll(filepath.Join(indexPath, "snapshot-000099.tmp"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(indexPath, "snapshot-000050"), 0o755))

	reopened := newManager(t, indexPath, corpus)
	require.NoError(t, reopened.Open(context.Background()))
	assert.Equal(t, "snapshot-000001", reopened.Active().ID)

	_, err := os.Stat(filepath.Join(indexPath, "snapshot-000099.tmp"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(indexPath, "snapshot-000050"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	record := func(id string, v float32) model.VectorRecord {
		return model.VectorRecord{ChunkID: model.ChunkID(id), Vector: []float32{v, 1}, Model: "m", Dimension: 2}
	}
	prov := func(id string) model.Provenance {
		return model.Provenance{ChunkID: model.ChunkID(id), Text: "t"}
	}

	t.Run("matching sets pass", func(t *testing.T) {
		idx := mustFlat(t, record("a#0-1", 1), record("b#0-1", 2))
		meta := metastore.New()
		meta.Put(prov("a#0-1"))
		meta.Put(prov("b#0-1"))

		assert.NoError(t, validate(idx, meta))
	})

	t.Run("count mismatch", func(t *testing.T) {
		idx := mustFlat(t, record("a#0-1", 1))
		meta := metastore.New()
		meta.Put(prov("a#0-1"))
		meta.Put(prov("b#0-1"))

		assert.ErrorIs(t, validate(idx, meta), ErrIndexCorruption)
	})

	t.Run("diverging id sets", func(t *testing.T) {
		idx := mustFlat(t, record("a#0-1", 1), record("b#0-1", 2))
		meta := metastore.New()
		meta.Put(prov("a#0-1"))
		meta.Put(prov("c#0-1"))

		assert.ErrorIs(t, validate(idx, meta), ErrIndexCorruption)
	})
}

func TestCommitDuplicateChunkIDIsNotCorruption(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	m := newManager(t, indexPath, corpus)

	rec := model.VectorRecord{ChunkID: "a#0-1", Vector: []float32{1, 2}, Model: "m", Dimension: 2}
	err := m.commit(context.Background(), []model.VectorRecord{rec, rec}, nil, nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrDuplicateID)
	assert.NotErrorIs(t, err, ErrIndexCorruption)
}

func TestReplication(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	writeCorpus(t, corpus, map[string]string{"a.txt": "replicated content"})

	store := newRecordingStore()
	m := newManager(t, indexPath, corpus, func(o *Options) {
		o.Replicator = NewReplicator(store)
	})
	require.NoError(t, m.Open(context.Background()))

	assert.Equal(t, []string{
		"snapshot-000001/metadata.bin",
		"snapshot-000001/vectors.bin",
		"snapshot-000001/manifest.json",
		"CURRENT",
	}, store.order)
	assert.Equal(t, []byte("snapshot-000001"), store.blobs["CURRENT"])
}

func TestReplicationFailureIsNotFatal(t *testing.T) {
	corpus, indexPath := t.TempDir(), filepath.Join(t.TempDir(), "index")
	writeCorpus(t, corpus, map[string]string{"a.txt": "content"})

	store := newRecordingStore()
	store.failPut = true
	m := newManager(t, indexPath, corpus, func(o *Options) {
		o.Replicator = NewReplicator(store)
	})

	require.NoError(t, m.Open(context.Background()))
	require.NotNil(t, m.Active())
}

func mustFlat(t *testing.T, records ...model.VectorRecord) *flat.Flat {
	t.Helper()
	idx, err := flat.New()
	require.NoError(t, err)
	require.NoError(t, idx.Add(records))
	return idx
}

// recordingStore captures replicated blobs and their write order.
type recordingStore struct {
	blobs   map[string][]byte
	order   []string
	failPut bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{blobs: make(map[string][]byte)}
}

func (s *recordingStore) Put(_ context.Context, name string, data []byte) error {
	if s.failPut {
		return fmt.Errorf("injected put failure")
	}
	s.blobs[name] = append([]byte(nil), data...)
	s.order = append(s.order, name)
	return nil
}

func (s *recordingStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return nil, os.ErrNotExist
}

func (s *recordingStore) Delete(_ context.Context, name string) error { return nil }

func (s *recordingStore) List(_ context.Context, prefix string) ([]string, error) { return nil, nil }
