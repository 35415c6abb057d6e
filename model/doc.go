// Package model defines the core value types shared across the pipeline:
// documents, chunks, vector records, provenance and search results.
//
// The types here are plain data. Behavior (chunking, embedding, indexing,
// lifecycle) lives in the packages that operate on them.
package model
