package storage

import "errors"

// Kind classifies an error per the taxonomy in the error handling design.
// It names categories, not concrete types, so callers can group on it
// with errors.Is against the matching sentinel below.
type Kind string

const (
	KindInvalidInput   Kind = "invalid_input"
	KindNotFound       Kind = "not_found"
	KindStorage        Kind = "storage"
	KindDatabase       Kind = "database"
	KindEmbedding      Kind = "embedding"
	KindSerialization  Kind = "serialization"
	KindConfig         Kind = "config"
	KindSync           Kind = "sync"
	KindInternal       Kind = "internal"
)

var (
	// ErrInvalidInput indicates a contract violation by the caller (empty
	// content, tier/ttl mismatch, oversized file, malformed metadata
	// filter, unknown tokenizer encoding). Always surfaced.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates a missing memory, session, or entity. Surfaced.
	ErrNotFound = errors.New("resource not found")

	// ErrStorage indicates an underlying database or filesystem failure.
	// Surfaced; the caller may retry if the failure is transient.
	ErrStorage = errors.New("storage failure")

	// ErrDatabase is a typed pass-through marker for query-engine errors.
	ErrDatabase = errors.New("database error")

	// ErrEmbedding indicates an embedder or queue failure. Workers catch
	// this per-batch, mark rows failed, and continue rather than crash.
	ErrEmbedding = errors.New("embedding failure")

	// ErrSerialization indicates a JSON/BLOB encode or decode failure.
	ErrSerialization = errors.New("serialization failure")

	// ErrConfig indicates missing credentials or an unknown model/encoding.
	ErrConfig = errors.New("configuration error")

	// ErrSync indicates a transport or merge failure during replication.
	// Conflicts with overlapping changes are placed on the conflict queue
	// rather than surfaced as a hard failure.
	ErrSync = errors.New("sync failure")

	// ErrInternal indicates an invariant violation — a bug, not caller misuse.
	ErrInternal = errors.New("internal invariant violation")

	// ErrGraphBoundsExceeded indicates graph traversal exceeded its configured bounds.
	ErrGraphBoundsExceeded = errors.New("graph bounds exceeded")
)
