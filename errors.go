package raggo

import (
	"github.com/hupe1980/raggo/chunker"
	"github.com/hupe1980/raggo/index"
	"github.com/hupe1980/raggo/lifecycle"
	"github.com/hupe1980/raggo/loader"
)

// Sentinel errors of the subpackages, re-exported so callers matching with
// errors.Is only need the root import.
var (
	// ErrIndexUnavailable means no snapshot has ever been built. Distinct
	// from an empty result set.
	ErrIndexUnavailable = lifecycle.ErrIndexUnavailable

	// ErrIndexCorruption means a staged snapshot failed consistency
	// validation and was discarded.
	ErrIndexCorruption = lifecycle.ErrIndexCorruption

	// ErrUnsupportedFormat means a corpus file has no registered loader.
	ErrUnsupportedFormat = loader.ErrUnsupportedFormat

	// ErrMalformedInput means a document was empty or unreadable after load.
	ErrMalformedInput = chunker.ErrMalformedInput

	// ErrInvalidK means a search was requested with k <= 0 past the default.
	ErrInvalidK = index.ErrInvalidK
)
