// Package lifecycle keeps the persisted index consistent with the corpus.
//
// A Manager owns the snapshot directory layout: numbered snapshot directories
// holding vectors, metadata and the corpus manifest, plus a CURRENT pointer
// file naming the authoritative one. Rebuilds stage a complete snapshot to the
// side, validate it, and publish it with a single atomic rename, so readers
// either see the old snapshot or the new one and never a mix.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/raggo/chunker"
	"github.com/hupe1980/raggo/codec"
	"github.com/hupe1980/raggo/embedder"
	"github.com/hupe1980/raggo/index"
	"github.com/hupe1980/raggo/index/flat"
	"github.com/hupe1980/raggo/internal/fs"
	"github.com/hupe1980/raggo/loader"
	"github.com/hupe1980/raggo/manifest"
	"github.com/hupe1980/raggo/metastore"
)

const (
	currentFile    = "CURRENT"
	vectorsFile    = "vectors.bin"
	metadataFile   = "metadata.bin"
	manifestFile   = "manifest.json"
	snapshotPrefix = "snapshot-"
	stagingSuffix  = ".tmp"
)

var (
	// ErrIndexUnavailable is returned when no snapshot has ever been built.
	// Distinct from an empty result set: there is nothing to search.
	ErrIndexUnavailable = errors.New("lifecycle: no index snapshot available")

	// ErrIndexCorruption is returned when a staged snapshot fails validation.
	// A corrupt snapshot is never committed; the previous one stays
	// authoritative.
	ErrIndexCorruption = errors.New("lifecycle: index corruption detected")
)

// State is the rebuild state of the manager.
type State int32

const (
	// StateFresh means the active snapshot matches the last completed build.
	StateFresh State = iota
	// StateRebuilding means a rebuild is in flight. Queries keep being
	// answered from the last fresh snapshot.
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Snapshot is one immutable, validated index generation.
type Snapshot struct {
	ID       string
	Dir      string
	Index    *flat.Flat
	Meta     *metastore.Store
	Manifest *manifest.Manifest
}

// Corpus names the document sources feeding the index.
type Corpus struct {
	// Roots are the directories walked for documents.
	Roots []string

	// Loader parses documents and decides which files are supported.
	Loader *loader.Registry

	// Extensions optionally restricts ingestion to a subset of the loader's
	// supported extensions (e.g. only ".md"). Empty means all supported.
	Extensions []string
}

// Options contains configuration options for the lifecycle manager.
type Options struct {
	// FS is the filesystem used for all snapshot IO.
	FS fs.FileSystem

	// Logger receives structured progress and warning events.
	Logger *slog.Logger

	// Codec encodes manifests, metadata records and the index id table.
	Codec codec.Codec

	// Metric is the similarity metric of newly built indexes.
	Metric index.Metric

	// Compression is the block compression of newly built indexes.
	Compression flat.Compression

	// Workers is the fixed size of the rebuild worker pool.
	Workers int

	// FailureThreshold is the number of per-document failures tolerated per
	// rebuild before the rebuild aborts.
	FailureThreshold int

	// Mmap parses snapshot vector files through a read-only memory mapping
	// instead of reading them into the heap first. The mapping is released
	// once loading completes.
	Mmap bool

	// KeepSnapshots is the number of snapshot generations retained after a
	// successful swap. The current snapshot is always kept.
	KeepSnapshots int

	// Replicator, if set, ships every committed snapshot to a blob store.
	// Replication failures are logged, never fatal.
	Replicator *Replicator
}

// DefaultOptions contains the default configuration options for the manager.
var DefaultOptions = Options{
	FS:               fs.Default,
	Codec:            codec.Default,
	Metric:           index.MetricCosine,
	Compression:      flat.CompressionZSTD,
	Workers:          runtime.NumCPU(),
	FailureThreshold: 0,
	KeepSnapshots:    1,
}

// Manager owns the snapshot lifecycle for one index directory.
type Manager struct {
	opts     Options
	path     string
	corpus   Corpus
	chunker  *chunker.Chunker
	embedder embedder.Embedder

	active atomic.Pointer[Snapshot]
	state  atomic.Int32

	// rebuildMu serializes rebuilds; queries never take it.
	rebuildMu sync.Mutex
}

// New creates a new lifecycle manager rooted at path.
func New(path string, corpus Corpus, ch *chunker.Chunker, emb embedder.Embedder, optFns ...func(o *Options)) (*Manager, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if path == "" {
		return nil, errors.New("lifecycle: index path must not be empty")
	}
	if len(corpus.Roots) == 0 {
		return nil, errors.New("lifecycle: corpus must have at least one root")
	}
	if corpus.Loader == nil {
		return nil, errors.New("lifecycle: corpus loader must not be nil")
	}
	if ch == nil {
		return nil, errors.New("lifecycle: chunker must not be nil")
	}
	if emb == nil {
		return nil, errors.New("lifecycle: embedder must not be nil")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.KeepSnapshots < 1 {
		opts.KeepSnapshots = 1
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		opts:     opts,
		path:     path,
		corpus:   corpus,
		chunker:  ch,
		embedder: emb,
	}, nil
}

// Active returns the current snapshot, or nil if none has been built yet.
// The returned snapshot is immutable and stays valid after later swaps.
func (m *Manager) Active() *Snapshot {
	return m.active.Load()
}

// State returns the current rebuild state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Open recovers the index directory and loads the current snapshot. If no
// snapshot has ever been built, the index is built from the corpus.
func (m *Manager) Open(ctx context.Context) error {
	if err := m.opts.FS.MkdirAll(m.path, 0o755); err != nil {
		return err
	}

	current, err := m.recover()
	if err != nil {
		return err
	}

	if current == "" {
		m.opts.Logger.Info("no index snapshot found, building from corpus", "path", m.path)
		return m.Rebuild(ctx)
	}

	snap, err := m.loadSnapshot(current)
	if err != nil {
		return fmt.Errorf("lifecycle: load snapshot %s: %w", current, err)
	}
	m.active.Store(snap)

	m.opts.Logger.Info("index snapshot loaded",
		"snapshot", snap.ID,
		"vectors", snap.Index.Len(),
		"documents", len(snap.Manifest.Documents),
	)

	return nil
}

// recover cleans up interrupted rebuilds and returns the CURRENT target, or
// "" if there is none. Staging directories and snapshot directories the
// CURRENT pointer does not reference are leftovers of a crash; the CURRENT
// target itself is never touched.
func (m *Manager) recover() (string, error) {
	current := ""
	if data, err := fs.ReadFile(m.opts.FS, filepath.Join(m.path, currentFile)); err == nil {
		current = strings.TrimSpace(string(data))
	} else if !os.IsNotExist(err) {
		return "", err
	}

	entries, err := m.opts.FS.ReadDir(m.path)
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) {
			continue
		}
		if name == current {
			continue
		}
		if strings.HasSuffix(name, stagingSuffix) {
			m.opts.Logger.Warn("removing interrupted staging directory", "dir", name)
		} else {
			m.opts.Logger.Warn("removing orphaned snapshot directory", "dir", name)
		}
		if err := m.opts.FS.RemoveAll(filepath.Join(m.path, name)); err != nil {
			return "", err
		}
	}

	return current, nil
}

func (m *Manager) loadSnapshot(id string) (*Snapshot, error) {
	dir := filepath.Join(m.path, id)

	man, err := manifest.Load(m.opts.FS, filepath.Join(dir, manifestFile), m.opts.Codec)
	if err != nil {
		return nil, err
	}
	meta, err := metastore.Load(m.opts.FS, filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	idx, err := flat.Load(m.opts.FS, filepath.Join(dir, vectorsFile), func(o *flat.LoadOptions) {
		o.Mmap = m.opts.Mmap
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{ID: id, Dir: dir, Index: idx, Meta: meta, Manifest: man}
	if err := validate(snap.Index, snap.Meta); err != nil {
		return nil, err
	}
	return snap, nil
}

// validate enforces the snapshot consistency invariant: every vector has
// exactly one metadata record and vice versa.
func validate(idx index.Index, meta *metastore.Store) error {
	if idx.Len() != meta.Len() {
		return fmt.Errorf("%w: %d vectors but %d metadata records",
			ErrIndexCorruption, idx.Len(), meta.Len())
	}

	indexIDs := idx.IDs()
	metaIDs := meta.IDs()
	for i := range indexIDs {
		if indexIDs[i] != metaIDs[i] {
			return fmt.Errorf("%w: vector/metadata id sets diverge at %q vs %q",
				ErrIndexCorruption, indexIDs[i], metaIDs[i])
		}
	}

	if idx.Len() > 0 {
		if idx.Dimension() <= 0 {
			return fmt.Errorf("%w: non-empty index without dimension", ErrIndexCorruption)
		}
		if idx.Model() == "" {
			return fmt.Errorf("%w: non-empty index without embedding model", ErrIndexCorruption)
		}
	}

	return nil
}

// nextSnapshotID returns the name of the next snapshot generation.
func (m *Manager) nextSnapshotID() (string, error) {
	max := 0

	entries, err := m.opts.FS.ReadDir(m.path)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), stagingSuffix)
		var n int
		if _, err := fmt.Sscanf(name, snapshotPrefix+"%06d", &n); err == nil && n > max {
			max = n
		}
	}

	return fmt.Sprintf("%s%06d", snapshotPrefix, max+1), nil
}

// gc removes old snapshot generations, keeping the newest KeepSnapshots. The
// current snapshot is never removed. Failures are logged and ignored.
func (m *Manager) gc(currentID string) {
	entries, err := m.opts.FS.ReadDir(m.path)
	if err != nil {
		m.opts.Logger.Warn("snapshot gc: list failed", "error", err)
		return
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() && strings.HasPrefix(name, snapshotPrefix) &&
			!strings.HasSuffix(name, stagingSuffix) && name != currentID {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)

	// currentID counts against the retention budget.
	keep := m.opts.KeepSnapshots - 1
	if keep > len(ids) {
		keep = len(ids)
	}
	for _, id := range ids[:len(ids)-keep] {
		if err := m.opts.FS.RemoveAll(filepath.Join(m.path, id)); err != nil {
			m.opts.Logger.Warn("snapshot gc: remove failed", "snapshot", id, "error", err)
			continue
		}
		m.opts.Logger.Debug("snapshot gc: removed", "snapshot", id)
	}
}
