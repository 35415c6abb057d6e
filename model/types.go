package model

import (
	"fmt"
	"time"
)

// DocumentID identifies a source document. It is the slash-separated path of
// the document relative to its corpus root, so it is stable across machines.
// With multiple corpus roots the id is prefixed by a per-root label, keeping
// equal relative paths under different roots distinct.
type DocumentID string

// ChunkID identifies a chunk. It is derived deterministically from the
// document id and the chunk's rune offsets, so re-chunking an unchanged
// document with unchanged parameters yields identical ids.
type ChunkID string

// NewChunkID builds the canonical chunk id for a window of a document. The id
// does not embed the document's content hash: an equal-length edit reuses the
// same ids, which is safe because a changed document always triggers a full
// rebuild, so ids from different document versions never share an index.
func NewChunkID(doc DocumentID, start, end int) ChunkID {
	return ChunkID(fmt.Sprintf("%s#%d-%d", doc, start, end))
}

// Document is a named, versioned input. It is immutable once loaded for a
// given ingestion pass.
type Document struct {
	ID          DocumentID
	Path        string // Absolute path the document was loaded from
	Text        string
	ContentHash string // SHA-256 hex of the raw text
	ModTime     time.Time
	Size        int64
	Format      string // File extension, lower-case, including the dot
}

// Chunk is a contiguous text window derived from a Document.
// Start/End are rune offsets into the document text.
type Chunk struct {
	ID           ChunkID
	DocumentID   DocumentID
	Text         string
	Start        int
	End          int
	Overlap      int    // Window overlap (runes) used when the chunk was cut
	DocumentHash string // Content hash of the source document
	Seq          int    // Position of the chunk within its document
}

// VectorRecord is the embedding of a Chunk.
type VectorRecord struct {
	ChunkID   ChunkID
	Vector    []float32
	Model     string // Embedding model identifier
	Dimension int
}

// Provenance is the metadata side-table entry for a chunk. It carries enough
// to answer a query (the chunk text) and to audit where the chunk came from.
type Provenance struct {
	ChunkID      ChunkID    `json:"chunk_id"`
	DocumentID   DocumentID `json:"document_id"`
	Path         string     `json:"path"`
	Text         string     `json:"text"`
	Start        int        `json:"start"`
	End          int        `json:"end"`
	DocumentHash string     `json:"document_hash"`
	Model        string     `json:"model"`
}

// Candidate is a potential match found during index search.
type Candidate struct {
	ChunkID ChunkID
	Score   float32 // Similarity, higher is better
}

// SearchResult is a resolved match: chunk text plus provenance and score.
type SearchResult struct {
	Text       string
	Provenance Provenance
	Score      float32
}
