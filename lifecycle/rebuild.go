package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/raggo/chunker"
	"github.com/hupe1980/raggo/index"
	"github.com/hupe1980/raggo/index/flat"
	"github.com/hupe1980/raggo/internal/fs"
	"github.com/hupe1980/raggo/loader"
	"github.com/hupe1980/raggo/manifest"
	"github.com/hupe1980/raggo/metastore"
	"github.com/hupe1980/raggo/model"
)

// corpusFile is one enumerated document before loading.
type corpusFile struct {
	root string
	rel  string
	id   model.DocumentID
}

// rootLabels derives one id prefix per corpus root. With a single root
// documents keep their root-relative ids. With several roots each id is
// prefixed by the root's base name, qualified by the root's position when
// base names repeat, so the same relative path under two roots yields two
// distinct document ids.
func rootLabels(roots []string) []string {
	labels := make([]string, len(roots))
	if len(roots) <= 1 {
		return labels
	}

	count := make(map[string]int, len(roots))
	for _, root := range roots {
		count[filepath.Base(filepath.Clean(root))]++
	}
	for i, root := range roots {
		base := filepath.Base(filepath.Clean(root))
		if count[base] > 1 {
			labels[i] = fmt.Sprintf("%s-%d", base, i+1)
		} else {
			labels[i] = base
		}
	}
	return labels
}

// listFiles enumerates all supported corpus files in one traversal per root,
// sorted for determinism.
func (m *Manager) listFiles() ([]corpusFile, error) {
	var files []corpusFile

	labels := rootLabels(m.corpus.Roots)
	for i, root := range m.corpus.Roots {
		rels, err := m.corpus.Loader.Walk(root)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: walk corpus root %s: %w", root, err)
		}
		if len(m.corpus.Extensions) > 0 {
			rels = loader.Filter(rels, m.corpus.Extensions...)
		}
		for _, rel := range rels {
			id := rel
			if labels[i] != "" {
				id = labels[i] + "/" + rel
			}
			files = append(files, corpusFile{root: root, rel: rel, id: model.DocumentID(id)})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].id < files[j].id })
	return files, nil
}

// scanManifest captures the current corpus state for staleness comparison.
// When a file's mtime and size match the previous manifest, the recorded
// content hash is reused without re-reading the file; otherwise the document
// is loaded and hashed. Unreadable files are skipped with a warning, so they
// show up as removals against the previous manifest.
func (m *Manager) scanManifest(ctx context.Context, prev *manifest.Manifest) (*manifest.Manifest, error) {
	files, err := m.listFiles()
	if err != nil {
		return nil, err
	}

	cur := manifest.New("scan")
	cur.EmbeddingModel = m.embedder.Model()
	cur.ChunkSize = m.chunker.Size()
	cur.ChunkOverlap = m.chunker.Overlap()

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fi, err := m.opts.FS.Stat(filepath.Join(f.root, f.rel))
		if err != nil {
			m.opts.Logger.Warn("corpus scan: stat failed, skipping", "document", f.id, "error", err)
			continue
		}

		if prev != nil {
			if info, ok := prev.Documents[f.id]; ok &&
				info.ModTime.Equal(fi.ModTime()) && info.Size == fi.Size() {
				cur.Documents[f.id] = info
				continue
			}
		}

		doc, err := m.corpus.Loader.Load(ctx, f.root, f.rel)
		if err != nil {
			m.opts.Logger.Warn("corpus scan: load failed, skipping", "document", f.id, "error", err)
			continue
		}
		cur.Documents[f.id] = manifest.DocumentInfo{
			ContentHash: doc.ContentHash,
			ModTime:     doc.ModTime,
			Size:        doc.Size,
		}
	}

	return cur, nil
}

// IsStale reports whether the active snapshot still matches the corpus.
// With no active snapshot the index is always stale.
func (m *Manager) IsStale(ctx context.Context) (bool, error) {
	var prev *manifest.Manifest
	if snap := m.Active(); snap != nil {
		prev = snap.Manifest
	}

	cur, err := m.scanManifest(ctx, prev)
	if err != nil {
		return false, err
	}
	return manifest.IsStale(prev, cur), nil
}

// Refresh rebuilds the index if the corpus has drifted from the active
// snapshot. It returns true if a rebuild ran.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	stale, err := m.IsStale(ctx)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}

	m.opts.Logger.Warn("snapshot stale, rebuilding")
	if err := m.Rebuild(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// docResult is the output of one rebuild worker for one document.
type docResult struct {
	id      model.DocumentID
	info    manifest.DocumentInfo
	records []model.VectorRecord
	provs   []model.Provenance
	err     error // skippable per-document failure
}

// Rebuild builds a complete new snapshot from the corpus and atomically swaps
// it in. On any failure the previous snapshot stays authoritative and staging
// artifacts are discarded.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	m.state.Store(int32(StateRebuilding))
	defer m.state.Store(int32(StateFresh))

	files, err := m.listFiles()
	if err != nil {
		return err
	}

	m.opts.Logger.Info("rebuild started",
		"documents", len(files),
		"workers", m.opts.Workers,
	)

	results := make(chan docResult)
	done := make(chan struct{})

	var (
		records []model.VectorRecord
		provs   []model.Provenance
		infos   = make(map[model.DocumentID]manifest.DocumentInfo, len(files))
		skipped []model.DocumentID
	)
	go func() {
		defer close(done)
		for res := range results {
			if res.err != nil {
				m.opts.Logger.Warn("document skipped", "document", res.id, "error", res.err)
				skipped = append(skipped, res.id)
				continue
			}
			records = append(records, res.records...)
			provs = append(provs, res.provs...)
			infos[res.id] = res.info
		}
	}()

	// Fixed-size worker pool. Workers share nothing: each document's chunk
	// ids are globally unique, so outputs are disjoint and merge order is
	// irrelevant.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			res := m.processDocument(gctx, f)
			if res.err != nil && !skippable(res.err) {
				return fmt.Errorf("document %s: %w", f.id, res.err)
			}
			select {
			case results <- res:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	err = g.Wait()
	close(results)
	<-done

	if err != nil {
		return fmt.Errorf("lifecycle: rebuild aborted: %w", err)
	}
	if len(skipped) > m.opts.FailureThreshold {
		return fmt.Errorf("lifecycle: rebuild aborted: %d documents failed, threshold is %d",
			len(skipped), m.opts.FailureThreshold)
	}

	return m.commit(ctx, records, provs, infos, len(skipped))
}

// processDocument runs the per-document pipeline: load, chunk, embed. Load
// and chunk failures are per-document and skippable; embedding failures have
// already been retried by the batcher and abort the rebuild.
func (m *Manager) processDocument(ctx context.Context, f corpusFile) docResult {
	res := docResult{id: f.id}

	doc, err := m.corpus.Loader.Load(ctx, f.root, f.rel)
	if err != nil {
		res.err = err
		return res
	}
	// The loader only knows the root-relative path; the manager owns the
	// root-qualified id, which flows into chunk ids and provenance.
	doc.ID = f.id

	chunks, err := m.chunker.Chunk(doc)
	if err != nil {
		res.err = err
		return res
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		res.err = err
		return res
	}
	if len(vectors) != len(chunks) {
		res.err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		return res
	}

	res.info = manifest.DocumentInfo{
		ContentHash: doc.ContentHash,
		ModTime:     doc.ModTime,
		Size:        doc.Size,
	}
	res.records = make([]model.VectorRecord, len(chunks))
	res.provs = make([]model.Provenance, len(chunks))
	for i, chunk := range chunks {
		res.records[i] = model.VectorRecord{
			ChunkID:   chunk.ID,
			Vector:    vectors[i],
			Model:     m.embedder.Model(),
			Dimension: len(vectors[i]),
		}
		res.provs[i] = model.Provenance{
			ChunkID:      chunk.ID,
			DocumentID:   chunk.DocumentID,
			Path:         doc.Path,
			Text:         chunk.Text,
			Start:        chunk.Start,
			End:          chunk.End,
			DocumentHash: chunk.DocumentHash,
			Model:        m.embedder.Model(),
		}
	}

	return res
}

// skippable reports whether a per-document error may be skipped and counted
// against the failure threshold instead of aborting the rebuild.
func skippable(err error) bool {
	var loadErr *loader.LoadError
	return errors.As(err, &loadErr) ||
		errors.Is(err, loader.ErrUnsupportedFormat) ||
		errors.Is(err, chunker.ErrMalformedInput)
}

// commit assembles, validates, stages and atomically publishes a snapshot.
func (m *Manager) commit(ctx context.Context, records []model.VectorRecord, provs []model.Provenance, infos map[model.DocumentID]manifest.DocumentInfo, skipped int) error {
	// Deterministic row order regardless of worker scheduling.
	sort.Slice(records, func(i, j int) bool { return records[i].ChunkID < records[j].ChunkID })

	idx, err := flat.New(func(o *flat.Options) {
		o.Metric = m.opts.Metric
		o.Compression = m.opts.Compression
	})
	if err != nil {
		return err
	}
	if err := idx.Add(records); err != nil {
		// A duplicate chunk id is a corpus configuration problem (the same
		// document reachable twice), not a corrupt snapshot.
		if errors.Is(err, index.ErrDuplicateID) {
			return fmt.Errorf("lifecycle: %w", err)
		}
		return fmt.Errorf("%w: %s", ErrIndexCorruption, err)
	}

	meta := metastore.New()
	for _, prov := range provs {
		meta.Put(prov)
	}

	if err := validate(idx, meta); err != nil {
		return err
	}

	id, err := m.nextSnapshotID()
	if err != nil {
		return err
	}

	man := manifest.New(id)
	man.EmbeddingModel = m.embedder.Model()
	man.Dimension = idx.Dimension()
	man.ChunkSize = m.chunker.Size()
	man.ChunkOverlap = m.chunker.Overlap()
	for docID, info := range infos {
		man.Documents[docID] = info
	}

	dir := filepath.Join(m.path, id)
	staging := dir + stagingSuffix

	committed := false
	defer func() {
		if !committed {
			if err := m.opts.FS.RemoveAll(staging); err != nil {
				m.opts.Logger.Warn("discard staging directory failed", "dir", staging, "error", err)
			}
		}
	}()

	if err := m.opts.FS.MkdirAll(staging, 0o755); err != nil {
		return err
	}

	// Write-ahead ordering: metadata before vectors, so a vector without
	// metadata can never be observed.
	if err := meta.Save(m.opts.FS, filepath.Join(staging, metadataFile), m.opts.Codec); err != nil {
		return fmt.Errorf("lifecycle: stage metadata: %w", err)
	}
	if err := idx.Save(m.opts.FS, filepath.Join(staging, vectorsFile), func(o *flat.SaveOptions) {
		o.Codec = m.opts.Codec
	}); err != nil {
		return fmt.Errorf("lifecycle: stage vectors: %w", err)
	}
	if err := man.Save(m.opts.FS, filepath.Join(staging, manifestFile), m.opts.Codec); err != nil {
		return fmt.Errorf("lifecycle: stage manifest: %w", err)
	}
	if err := fs.SyncDir(m.opts.FS, staging); err != nil {
		return err
	}

	// Cancellation point of no return: after the rename the new snapshot
	// exists; after CURRENT is rewritten it is authoritative.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.opts.FS.Rename(staging, dir); err != nil {
		return fmt.Errorf("lifecycle: publish snapshot: %w", err)
	}
	if err := fs.SyncDir(m.opts.FS, m.path); err != nil {
		return err
	}
	if err := fs.WriteFileAtomic(m.opts.FS, filepath.Join(m.path, currentFile), []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("lifecycle: update current pointer: %w", err)
	}
	committed = true

	snap := &Snapshot{ID: id, Dir: dir, Index: idx, Meta: meta, Manifest: man}
	m.active.Store(snap)

	m.opts.Logger.Info("rebuild completed",
		"snapshot", id,
		"vectors", idx.Len(),
		"documents", len(man.Documents),
		"skipped", skipped,
	)

	m.gc(id)

	if m.opts.Replicator != nil {
		if err := m.opts.Replicator.Replicate(ctx, m.opts.FS, dir, id); err != nil {
			m.opts.Logger.Warn("snapshot replication failed", "snapshot", id, "error", err)
		}
	}

	return nil
}
