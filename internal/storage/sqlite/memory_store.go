package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/engramhq/engram/internal/storage"
	"github.com/engramhq/engram/pkg/types"
)

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db   *sql.DB
	conn *Connection
	mode StorageMode
}

// NewMemoryStore creates a new SQLite memory store in local mode, with WAL
// self-healing. If the initial open fails due to stale WAL files (left
// behind by a crashed process), it verifies no other process holds them and
// retries once after removing the stale -shm/-wal files.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	return NewMemoryStoreWithMode(dsn, ModeLocal)
}

// NewMemoryStoreWithMode is NewMemoryStore with an explicit storage mode —
// use ModeCloudSafe when dsn's path lives inside a cloud-sync folder.
func NewMemoryStoreWithMode(dsn string, mode StorageMode) (*MemoryStore, error) {
	store, err := openMemoryStore(dsn, mode)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openMemoryStore(dsn, mode)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// openMemoryStore opens a SQLite database through Open (pragma profile +
// embedded migrations) and wraps it as a MemoryStore.
func openMemoryStore(dsn string, mode StorageMode) (*MemoryStore, error) {
	conn, err := Open(Config{
		Path:   dsn,
		Mode:   mode,
		Logger: func(format string, args ...interface{}) { log.Printf(format, args...) },
	})
	if err != nil {
		return nil, err
	}

	return &MemoryStore{db: conn.DB(), conn: conn, mode: mode}, nil
}

// maxSourceContextBytes is the maximum allowed serialized size of SourceContext (Opus Issue #9).
const maxSourceContextBytes = 4096

// memoryColumns lists every memories column a full row read/write touches,
// in the fixed order used by insertMemoryRow/scanMemoryRow.
const memoryColumns = `
	id, content, source, domain, timestamp, status,
	entity_status, relationship_status, embedding_status,
	enrichment_attempts, enrichment_error,
	created_at, updated_at, enriched_at,
	metadata,
	summary, key_points,
	classification_status, summarization_status,
	state, state_updated_at,
	created_by, session_id, source_context,
	access_count, last_accessed_at, decay_score, decay_updated_at, deleted_at, content_hash, supersedes_id,
	memory_type, importance, owner_id, version, has_embedding,
	valid_from, valid_to, visibility, scope_kind, scope_id, workspace, tier, expires_at, lifecycle_state
`

// Store creates or updates a memory. If memory.ID already names an existing
// row this is update_memory (§4.3); otherwise it is create_memory.
func (s *MemoryStore) Store(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if memory.Content == "" {
		return fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}

	if memory.ID != "" {
		exists, err := s.exists(ctx, memory.ID)
		if err != nil {
			return err
		}
		if exists {
			return s.updateMemory(ctx, memory)
		}
	}

	return s.createMemory(ctx, memory)
}

// createMemory implements create_memory (spec.md §4.3): compute content_hash,
// validate tier/ttl, apply the dedup policy, insert the row, normalise tags,
// enqueue embedding, snapshot version 1, and bump sync_state.pending_changes.
func (s *MemoryStore) createMemory(ctx context.Context, memory *types.Memory) error {
	if memory.ID == "" {
		memory.ID = fmt.Sprintf("mem:%s:%x", defaultDomain(memory.Domain), sha256.Sum256([]byte(memory.Content+time.Now().String())))[:48]
	}

	memory.ContentHash = computeContentHash(memory.Content)

	if memory.Tier == "" {
		memory.Tier = types.TierPermanent
	}
	if memory.Tier == types.TierPermanent && memory.TTLSeconds != 0 {
		return fmt.Errorf("%w: tier=permanent cannot set a ttl", storage.ErrInvalidInput)
	}
	if memory.Tier == types.TierDaily {
		ttl := memory.TTLSeconds
		if ttl < types.DefaultDailyTTLSeconds {
			ttl = types.DefaultDailyTTLSeconds
		}
		expires := time.Now().Add(time.Duration(ttl) * time.Second)
		memory.ExpiresAt = &expires
	}
	if memory.Workspace == "" {
		memory.Workspace = "default"
	}
	if err := validateWorkspace(memory.Workspace); err != nil {
		return fmt.Errorf("%w: invalid workspace %q", storage.ErrInvalidInput, memory.Workspace)
	}
	if memory.Scope.Kind == "" {
		memory.Scope = types.GlobalScope()
	}
	if memory.Visibility == "" {
		memory.Visibility = types.VisibilityPrivate
	}
	if memory.LifecycleState == "" {
		memory.LifecycleState = types.LifecycleActive
	}

	// Dedup policy: look for an active row with the same hash in scope+workspace.
	dup, err := s.findDuplicate(ctx, memory.ContentHash, memory.Scope, memory.Workspace)
	if err != nil {
		return err
	}
	if dup != "" {
		switch memory.DedupMode {
		case types.DedupSkip:
			existing, getErr := s.Get(ctx, dup)
			if getErr != nil {
				return getErr
			}
			*memory = *existing
			return nil
		case types.DedupReject:
			return fmt.Errorf("%w: duplicate content in scope %s/%s", storage.ErrInvalidInput, memory.Scope, memory.Workspace)
		case types.DedupReplace:
			memory.ID = dup
			return s.updateMemory(ctx, memory)
		case types.DedupAllow, "":
			// fall through: insert unconditionally
		}
	}

	now := time.Now()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	memory.UpdatedAt = memory.CreatedAt
	memory.ValidFrom = memory.CreatedAt
	memory.Version = 1
	if memory.Status == "" {
		memory.Status = types.StatusPending
	}
	for _, s := range []*types.EnrichmentStatus{&memory.EntityStatus, &memory.RelationshipStatus, &memory.ClassificationStatus, &memory.SummarizationStatus, &memory.EmbeddingStatus} {
		if *s == "" {
			*s = types.EnrichmentPending
		}
	}

	metadataJSON, sourceContextJSON, keyPointsJSON, err := marshalMemoryJSON(memory)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: createMemory begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertMemoryRow(ctx, tx, memory, metadataJSON, sourceContextJSON, keyPointsJSON); err != nil {
		return err
	}

	if err := replaceTags(ctx, tx, memory.ID, memory.Tags); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_versions (memory_id, version, content, metadata, snapshot_at)
		VALUES (?, 1, ?, ?, ?)
	`, memory.ID, memory.Content, nullableBytes(metadataJSON), memory.CreatedAt); err != nil {
		return fmt.Errorf("sqlite: snapshot version 1: %w", err)
	}

	if !memory.DeferEmbedding {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO embedding_queue (memory_id, state, enqueued_at, updated_at)
			VALUES (?, 'pending', ?, ?)
		`, memory.ID, now, now); err != nil {
			return fmt.Errorf("sqlite: enqueue embedding: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sync_state SET pending_changes = pending_changes + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("sqlite: bump sync_state: %w", err)
	}

	return tx.Commit()
}

// updateMemory implements update_memory (spec.md §4.3): re-normalise tags,
// bump version with a new snapshot, and re-enqueue embedding when content
// changed. Runs inside a transaction so the version bump and row write are
// atomic.
func (s *MemoryStore) updateMemory(ctx context.Context, memory *types.Memory) error {
	current, err := s.Get(ctx, memory.ID)
	if err != nil {
		return err
	}

	if memory.Tier == "" {
		memory.Tier = current.Tier
	}
	if memory.Tier == types.TierPermanent && memory.TTLSeconds != 0 {
		return fmt.Errorf("%w: tier=permanent cannot set a ttl", storage.ErrInvalidInput)
	}
	contentChanged := memory.Content != current.Content

	memory.CreatedAt = current.CreatedAt
	memory.Version = current.Version + 1
	memory.UpdatedAt = time.Now()
	memory.ValidFrom = current.ValidFrom

	if contentChanged {
		memory.ContentHash = computeContentHash(memory.Content)
		memory.EmbeddingStatus = types.EnrichmentPending
	} else {
		memory.ContentHash = current.ContentHash
		if memory.EmbeddingStatus == "" {
			memory.EmbeddingStatus = current.EmbeddingStatus
		}
	}
	if memory.Workspace == "" {
		memory.Workspace = current.Workspace
	}
	if memory.Scope.Kind == "" {
		memory.Scope = current.Scope
	}
	if memory.Visibility == "" {
		memory.Visibility = current.Visibility
	}
	if memory.LifecycleState == "" {
		memory.LifecycleState = current.LifecycleState
	}
	if memory.Status == "" {
		memory.Status = current.Status
	}

	metadataJSON, sourceContextJSON, keyPointsJSON, err := marshalMemoryJSON(memory)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: updateMemory begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertMemoryRow(ctx, tx, memory, metadataJSON, sourceContextJSON, keyPointsJSON); err != nil {
		return err
	}

	if memory.Tags != nil {
		if err := replaceTags(ctx, tx, memory.ID, memory.Tags); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_versions (memory_id, version, content, metadata, snapshot_at)
		VALUES (?, ?, ?, ?, ?)
	`, memory.ID, memory.Version, memory.Content, nullableBytes(metadataJSON), memory.UpdatedAt); err != nil {
		return fmt.Errorf("sqlite: snapshot version %d: %w", memory.Version, err)
	}

	if contentChanged && !memory.DeferEmbedding {
		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET has_embedding = 0 WHERE id = ?`, memory.ID); err != nil {
			return fmt.Errorf("sqlite: clear has_embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO embedding_queue (memory_id, state, attempts, enqueued_at, updated_at)
			VALUES (?, 'pending', 0, ?, ?)
			ON CONFLICT(memory_id) DO UPDATE SET state = 'pending', attempts = 0, enqueued_at = excluded.enqueued_at, updated_at = excluded.updated_at
		`, memory.ID, now, now); err != nil {
			return fmt.Errorf("sqlite: re-enqueue embedding: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sync_state SET pending_changes = pending_changes + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("sqlite: bump sync_state: %w", err)
	}

	return tx.Commit()
}

// findDuplicate returns the id of an active memory sharing contentHash
// within the same scope and workspace, or "" if none exists.
func (s *MemoryStore) findDuplicate(ctx context.Context, contentHash string, scope types.Scope, workspace string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM memories
		WHERE content_hash = ? AND deleted_at IS NULL
		  AND scope_kind = ? AND scope_id = ? AND workspace = ?
		LIMIT 1
	`, contentHash, string(scope.Kind), scope.ID, workspace).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: findDuplicate: %w", err)
	}
	return id, nil
}

func defaultDomain(domain string) string {
	if domain == "" {
		return "general"
	}
	return domain
}

// marshalMemoryJSON serializes the Metadata, SourceContext, and Keywords
// (stored in key_points) fields, enforcing the SourceContext size cap.
func marshalMemoryJSON(memory *types.Memory) (metadataJSON, sourceContextJSON, keyPointsJSON []byte, err error) {
	if memory.Metadata != nil {
		metadataJSON, err = json.Marshal(memory.Metadata)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	if len(memory.Keywords) > 0 {
		keyPointsJSON, err = json.Marshal(memory.Keywords)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal keywords: %w", err)
		}
	}
	if memory.SourceContext != nil {
		sourceContextJSON, err = json.Marshal(memory.SourceContext)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal source_context: %w", err)
		}
		if len(sourceContextJSON) > maxSourceContextBytes {
			return nil, nil, nil, fmt.Errorf("source_context exceeds maximum allowed size of %d bytes (got %d bytes)",
				maxSourceContextBytes, len(sourceContextJSON))
		}
	}
	return metadataJSON, sourceContextJSON, keyPointsJSON, nil
}

// insertMemoryRow upserts the full memories row for memory.
func insertMemoryRow(ctx context.Context, tx dbTX, memory *types.Memory, metadataJSON, sourceContextJSON, keyPointsJSON []byte) error {
	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, source = excluded.source, domain = excluded.domain,
			timestamp = excluded.timestamp, status = excluded.status,
			entity_status = excluded.entity_status, relationship_status = excluded.relationship_status,
			embedding_status = excluded.embedding_status, enrichment_attempts = excluded.enrichment_attempts,
			enrichment_error = excluded.enrichment_error, updated_at = excluded.updated_at,
			enriched_at = excluded.enriched_at, metadata = excluded.metadata,
			summary = excluded.summary, key_points = excluded.key_points,
			classification_status = excluded.classification_status, summarization_status = excluded.summarization_status,
			state = excluded.state, state_updated_at = excluded.state_updated_at,
			created_by = excluded.created_by, session_id = excluded.session_id, source_context = excluded.source_context,
			access_count = excluded.access_count, last_accessed_at = excluded.last_accessed_at,
			decay_score = excluded.decay_score, decay_updated_at = excluded.decay_updated_at,
			deleted_at = excluded.deleted_at, content_hash = excluded.content_hash, supersedes_id = excluded.supersedes_id,
			memory_type = excluded.memory_type, importance = excluded.importance, owner_id = excluded.owner_id,
			version = excluded.version, has_embedding = excluded.has_embedding,
			valid_from = excluded.valid_from, valid_to = excluded.valid_to,
			visibility = excluded.visibility, scope_kind = excluded.scope_kind, scope_id = excluded.scope_id,
			workspace = excluded.workspace, tier = excluded.tier, expires_at = excluded.expires_at,
			lifecycle_state = excluded.lifecycle_state
	`

	hasEmbedding := 0
	if len(memory.Embedding) > 0 {
		hasEmbedding = 1
	}

	_, err := tx.ExecContext(ctx, query,
		memory.ID, memory.Content, memory.Source, memory.Domain, nullableTime(&memory.Timestamp), memory.Status,
		memory.EntityStatus, memory.RelationshipStatus, memory.EmbeddingStatus,
		memory.EnrichmentAttempts, nullableString(memory.EnrichmentError),
		memory.CreatedAt, memory.UpdatedAt, nullableTime(memory.EnrichedAt),
		nullableBytes(metadataJSON),
		nullableString(memory.Summary), nullableBytes(keyPointsJSON),
		memory.ClassificationStatus, memory.SummarizationStatus,
		nullableString(memory.State), nullableTime(memory.StateUpdatedAt),
		nullableString(memory.CreatedBy), nullableString(memory.SessionID), nullableBytes(sourceContextJSON),
		memory.AccessCount, nullableTime(memory.LastAccessedAt), memory.DecayScore, nullableTime(memory.DecayUpdatedAt),
		nullableTime(memory.DeletedAt), nullableString(memory.ContentHash), nullableString(memory.SupersedesID),
		nullableString(memory.MemoryType), memory.Importance, nullableString(memory.OwnerID),
		memory.Version, hasEmbedding,
		memory.ValidFrom, nullableTime(memory.ValidTo),
		memory.Visibility, string(memory.Scope.Kind), memory.Scope.ID, memory.Workspace, memory.Tier, nullableTime(memory.ExpiresAt),
		memory.LifecycleState,
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// Get retrieves a memory by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ? AND valid_to IS NULL AND deleted_at IS NULL`, id)
	memory, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}

	tags, err := loadTags(ctx, s.db, memory.ID)
	if err != nil {
		return nil, err
	}
	memory.Tags = tags

	return memory, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting Get and
// List share a single column-to-struct mapping.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemoryRow decodes one memories row (column order per memoryColumns)
// into a types.Memory, unmarshalling its JSON-encoded fields.
func scanMemoryRow(row rowScanner) (*types.Memory, error) {
	var memory types.Memory
	var metadataJSON, keyPointsJSON, sourceContextJSON sql.NullString
	var enrichedAt, timestamp, stateUpdatedAt, lastAccessedAt, decayUpdatedAt, deletedAt sql.NullTime
	var domain, state, createdBy, sessionID, enrichmentError, summary, contentHash, supersedesID, memoryType, ownerID sql.NullString
	var validTo, expiresAt sql.NullTime
	var scopeKind, scopeID string
	var hasEmbedding int

	err := row.Scan(
		&memory.ID, &memory.Content, &memory.Source, &domain, &timestamp, &memory.Status,
		&memory.EntityStatus, &memory.RelationshipStatus, &memory.EmbeddingStatus,
		&memory.EnrichmentAttempts, &enrichmentError,
		&memory.CreatedAt, &memory.UpdatedAt, &enrichedAt,
		&metadataJSON,
		&summary, &keyPointsJSON,
		&memory.ClassificationStatus, &memory.SummarizationStatus,
		&state, &stateUpdatedAt,
		&createdBy, &sessionID, &sourceContextJSON,
		&memory.AccessCount, &lastAccessedAt, &memory.DecayScore, &decayUpdatedAt, &deletedAt, &contentHash, &supersedesID,
		&memoryType, &memory.Importance, &ownerID, &memory.Version, &hasEmbedding,
		&memory.ValidFrom, &validTo,
		&memory.Visibility, &scopeKind, &scopeID, &memory.Workspace, &memory.Tier, &expiresAt,
		&memory.LifecycleState,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &memory.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if keyPointsJSON.Valid && keyPointsJSON.String != "" {
		if err := json.Unmarshal([]byte(keyPointsJSON.String), &memory.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}
	if sourceContextJSON.Valid && sourceContextJSON.String != "" {
		if err := json.Unmarshal([]byte(sourceContextJSON.String), &memory.SourceContext); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source_context: %w", err)
		}
	}

	if enrichedAt.Valid {
		memory.EnrichedAt = &enrichedAt.Time
	}
	if domain.Valid {
		memory.Domain = domain.String
	}
	if timestamp.Valid {
		memory.Timestamp = timestamp.Time
	}
	if enrichmentError.Valid {
		memory.EnrichmentError = enrichmentError.String
	}
	if summary.Valid {
		memory.Summary = summary.String
	}
	if state.Valid {
		memory.State = state.String
	}
	if stateUpdatedAt.Valid {
		t := stateUpdatedAt.Time
		memory.StateUpdatedAt = &t
	}
	if createdBy.Valid {
		memory.CreatedBy = createdBy.String
	}
	if sessionID.Valid {
		memory.SessionID = sessionID.String
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		memory.LastAccessedAt = &t
	}
	if decayUpdatedAt.Valid {
		t := decayUpdatedAt.Time
		memory.DecayUpdatedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		memory.DeletedAt = &t
	}
	if contentHash.Valid {
		memory.ContentHash = contentHash.String
	}
	if supersedesID.Valid {
		memory.SupersedesID = supersedesID.String
	}
	if memoryType.Valid {
		memory.MemoryType = memoryType.String
	}
	if ownerID.Valid {
		memory.OwnerID = ownerID.String
	}
	if validTo.Valid {
		t := validTo.Time
		memory.ValidTo = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		memory.ExpiresAt = &t
	}
	memory.Scope = types.Scope{Kind: types.ScopeKind(scopeKind), ID: scopeID}

	return &memory, nil
}

// List retrieves memories with pagination and filtering.
// metadataOperators allowlists the JSON-extract comparisons MetadataEquals
// may perform; no caller-supplied operator ever reaches the query.
func metadataCondition(key string, value interface{}) (string, interface{}) {
	expr := "json_extract(metadata, '$." + strings.ReplaceAll(key, "'", "") + "')"
	if value == nil {
		return expr + " IS NULL", nil
	}
	return expr + " = ?", value
}

func (s *MemoryStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	opts.Normalize()

	var conditions []string
	var args []interface{}

	if statusFilter, ok := opts.Filter["status"]; ok {
		var statusStr string
		switch v := statusFilter.(type) {
		case string:
			statusStr = v
		case types.MemoryStatus:
			statusStr = string(v)
		}
		if statusStr != "" {
			conditions = append(conditions, "status = ?")
			args = append(args, statusStr)
		}
	}

	if opts.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, opts.State)
	}
	if opts.CreatedBy != "" {
		conditions = append(conditions, "created_by = ?")
		args = append(args, opts.CreatedBy)
	}
	if !opts.CreatedAfter.IsZero() {
		conditions = append(conditions, "created_at > ?")
		args = append(args, opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, opts.CreatedBefore)
	}
	if opts.MinDecayScore > 0 {
		conditions = append(conditions, "decay_score >= ?")
		args = append(args, opts.MinDecayScore)
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if !opts.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL AND valid_to IS NULL")
	}
	if opts.OnlyDeleted {
		conditions = append(conditions, "deleted_at IS NOT NULL")
	}
	if opts.MemoryType != "" {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, opts.MemoryType)
	}
	if opts.Tier != "" {
		conditions = append(conditions, "tier = ?")
		args = append(args, string(opts.Tier))
	}
	if len(opts.Workspace) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Workspace)), ",")
		conditions = append(conditions, "workspace IN ("+placeholders+")")
		for _, w := range opts.Workspace {
			args = append(args, w)
		}
	}
	if opts.Scope.Kind != "" {
		conditions = append(conditions, "scope_kind = ? AND scope_id = ?")
		args = append(args, string(opts.Scope.Kind), opts.Scope.ID)
	}
	if !opts.IncludeArchived {
		conditions = append(conditions, "lifecycle_state != ?")
		args = append(args, string(types.LifecycleArchived))
	}
	if !opts.IncludeTranscripts {
		conditions = append(conditions, "memory_type != 'transcript-chunk'")
	}
	for key, value := range opts.MetadataEquals {
		cond, arg := metadataCondition(key, value)
		conditions = append(conditions, cond)
		if arg != nil {
			args = append(args, arg)
		}
	}
	for _, tag := range opts.Tags {
		conditions = append(conditions, `id IN (
			SELECT mt.memory_id FROM memory_tags mt
			JOIN tags t ON t.id = mt.tag_id
			WHERE t.name = ?
		)`)
		args = append(args, strings.ToLower(strings.TrimSpace(tag)))
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := "SELECT " + memoryColumns + " FROM memories" + whereClause +
		fmt.Sprintf(" ORDER BY %s %s", opts.SortBy, opts.SortOrder) + " LIMIT ? OFFSET ?"
	listArgs := append(append([]interface{}{}, args...), opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, listArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var memories []types.Memory
	var ids []string
	for rows.Next() {
		memory, err := scanMemoryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, *memory)
		ids = append(ids, memory.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}

	tagsByID, err := loadTagsBatch(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range memories {
		memories[i].Tags = tagsByID[memories[i].ID]
	}

	countQuery := "SELECT COUNT(*) FROM memories" + whereClause
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}

	result := &storage.PaginatedResult[types.Memory]{
		Items:    memories,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(memories) < total,
	}

	return result, nil
}

// Update modifies an existing memory.
func (s *MemoryStore) Update(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	exists, err := s.exists(ctx, memory.ID)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}

	return s.updateMemory(ctx, memory)
}

// Delete soft-deletes a memory (delete_memory, spec.md §4.3): it sets
// valid_to/deleted_at and invalidates every active cross-reference edge
// touching the id, since a crossref pointing at a deleted memory is no
// longer a valid traversal edge.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: delete begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE memories SET deleted_at = ?, valid_to = ?
		WHERE id = ? AND deleted_at IS NULL
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE crossrefs SET valid_to = ?
		WHERE (from_id = ? OR to_id = ?) AND valid_to IS NULL
	`, now, id, id); err != nil {
		return fmt.Errorf("sqlite: invalidate crossrefs: %w", err)
	}

	return tx.Commit()
}

// Purge hard-deletes a memory by ID (permanent removal).
func (s *MemoryStore) Purge(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to purge memory: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// UpdateStatus updates the processing status of a memory.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status types.MemoryStatus) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	query := "UPDATE memories SET status = ?, updated_at = ? WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// UpdateEnrichment updates enrichment metadata for a memory.
func (s *MemoryStore) UpdateEnrichment(ctx context.Context, id string, enrichment storage.EnrichmentUpdate) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	query := `
		UPDATE memories
		SET
			entity_status = ?,
			relationship_status = ?,
			embedding_status = ?,
			enrichment_attempts = ?,
			enrichment_error = ?,
			enriched_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		enrichment.EntityStatus,
		enrichment.RelationshipStatus,
		enrichment.EmbeddingStatus,
		enrichment.EnrichmentAttempts,
		enrichment.EnrichmentError,
		nullableTime(enrichment.EnrichedAt),
		time.Now(),
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to update enrichment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// UpdateState updates the lifecycle state of a memory with state transition validation (Opus Issue #6).
func (s *MemoryStore) UpdateState(ctx context.Context, id string, state string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	if state == "" {
		return fmt.Errorf("%w: state is required", storage.ErrInvalidInput)
	}

	if !types.IsValidLifecycleState(state) {
		return fmt.Errorf("%w: invalid state: %s", storage.ErrInvalidInput, state)
	}

	// Get current state to validate transition
	currentMem, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	// Validate state transition
	if !types.IsValidStateTransition(currentMem.State, state) {
		return fmt.Errorf("invalid state transition: cannot transition from '%s' to '%s'", currentMem.State, state)
	}

	now := time.Now()
	query := `
		UPDATE memories
		SET
			state = ?,
			state_updated_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, state, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// GetDB returns the underlying database connection.
// This is used for direct database operations like config persistence.
func (s *MemoryStore) GetDB() *sql.DB {
	return s.db
}

// IncrementAccessCount atomically increments access_count and sets
// last_accessed_at to the current UTC time for the given memory ID.
// Returns ErrNotFound if the memory does not exist.
func (s *MemoryStore) IncrementAccessCount(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	query := `
		UPDATE memories
		SET access_count = access_count + 1,
		    last_accessed_at = ?,
		    decay_score = MIN(decay_score + 0.1, 1.0)
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to increment access count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// UpdateDecayScores applies time-based decay to all active memories.
// This should be called periodically (e.g., daily). Returns count of updated rows.
// Uses a simple linear approximation: factor = 1/(1 + daysSince/halfLife)
// At 60 days: factor ≈ 0.5 (half). At 120 days: factor ≈ 0.33.
func (s *MemoryStore) UpdateDecayScores(ctx context.Context) (int, error) {
	query := `
		UPDATE memories
		SET decay_score = MAX(0.0,
			decay_score * CASE
				WHEN (julianday('now') - julianday(COALESCE(last_accessed_at, created_at))) > 0
				THEN (1.0 / (1.0 + (julianday('now') - julianday(COALESCE(last_accessed_at, created_at))) / 60.0))
				ELSE 1.0
			END
		),
		decay_updated_at = CURRENT_TIMESTAMP
		WHERE deleted_at IS NULL
		  AND (state IS NULL OR state = 'active')
	`

	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to update decay scores: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to get rows affected: %w", err)
	}

	return int(n), nil
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so that other
// processes (e.g., memento-mcp after memento-web exits) can open the database
// without encountering stale WAL state.
func (s *MemoryStore) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}

	return s.db.Close()
}

// GetRelatedMemories returns the IDs of memories that share at least one
// entity with the given memory. This provides 1-hop graph traversal support
// for the GraphTraversal engine.
func (s *MemoryStore) GetRelatedMemories(ctx context.Context, memoryID string) ([]string, error) {
	query := `
		SELECT DISTINCT me2.memory_id
		FROM memory_entities me1
		JOIN memory_entities me2 ON me1.entity_id = me2.entity_id
		WHERE me1.memory_id = ?
		  AND me2.memory_id != ?
	`
	rows, err := s.db.QueryContext(ctx, query, memoryID, memoryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetRelatedMemories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: GetRelatedMemories scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: GetRelatedMemories rows: %w", err)
	}
	return ids, nil
}

// Restore un-deletes a soft-deleted memory by clearing its deleted_at timestamp.
func (s *MemoryStore) Restore(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE memories SET deleted_at = NULL, valid_to = NULL, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL",
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to restore memory: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// GetEvolutionChain returns the full version history for a memory,
// ordered oldest → newest. It walks backward via supersedes_id and forward
// via reverse lookup. Capped at 50 hops to prevent loops.
func (s *MemoryStore) GetEvolutionChain(ctx context.Context, memoryID string) ([]*types.Memory, error) {
	if memoryID == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	const maxChain = 50

	// Fetch a memory by ID, ignoring soft-delete filter so we can see superseded versions.
	fetchByID := func(id string) (*types.Memory, error) {
		row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
		m, err := scanMemoryRow(row)
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if tags, tagErr := loadTags(ctx, s.db, m.ID); tagErr == nil {
			m.Tags = tags
		}
		return m, nil
	}

	// Walk backward to find the oldest ancestor.
	current, err := fetchByID(memoryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetEvolutionChain: %w", err)
	}

	// Build the chain: start from current, walk back to root.
	var chain []*types.Memory
	visited := map[string]bool{current.ID: true}
	node := current

	for len(chain) < maxChain {
		if node.SupersedesID == "" {
			break
		}
		if visited[node.SupersedesID] {
			break // cycle guard
		}
		parent, err := fetchByID(node.SupersedesID)
		if err != nil {
			break // ancestor may have been purged
		}
		visited[parent.ID] = true
		chain = append([]*types.Memory{parent}, chain...) // prepend
		node = parent
	}

	// Append the starting memory.
	chain = append(chain, current)

	// Walk forward: find memories that supersede any node in the chain.
	tip := chain[len(chain)-1]
	for len(chain) < maxChain {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id FROM memories WHERE supersedes_id = ? LIMIT 1`, tip.ID)
		if err != nil {
			break
		}
		var nextID string
		if rows.Next() {
			_ = rows.Scan(&nextID)
		}
		rows.Close()

		if nextID == "" || visited[nextID] {
			break
		}
		next, err := fetchByID(nextID)
		if err != nil {
			break
		}
		visited[nextID] = true
		chain = append(chain, next)
		tip = next
	}

	return chain, nil
}

// CreateMemoryLink creates a typed link between two memories in the memory_links table.
func (s *MemoryStore) CreateMemoryLink(ctx context.Context, id, sourceID, targetID, linkType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memory_links (id, source_id, target_id, type) VALUES (?, ?, ?, ?)`,
		id, sourceID, targetID, linkType,
	)
	if err != nil {
		return fmt.Errorf("sqlite: CreateMemoryLink: %w", err)
	}
	return nil
}

// GetMemoriesByRelationType returns memories connected to memoryID via
// memory_links of the given type (e.g. "CONTAINS").
func (s *MemoryStore) GetMemoriesByRelationType(ctx context.Context, memoryID string, relType string) ([]*types.Memory, error) {
	if memoryID == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if relType == "" {
		return nil, fmt.Errorf("%w: relation type is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT DISTINCT m.id
		FROM memory_links ml
		JOIN memories m ON m.id = ml.target_id
		WHERE ml.source_id = ? AND ml.type = ? AND m.deleted_at IS NULL
	`
	rows, err := s.db.QueryContext(ctx, query, memoryID, relType)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetMemoriesByRelationType: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: GetMemoriesByRelationType scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: GetMemoriesByRelationType rows: %w", err)
	}

	var memories []*types.Memory
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if err != nil {
			continue // skip if not found (e.g. deleted between queries)
		}
		memories = append(memories, m)
	}
	return memories, nil
}

// exists checks if a memory with the given ID exists.
func (s *MemoryStore) exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return count > 0, nil
}

// nullableTime converts a time pointer to sql.NullTime.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullableBytes converts a byte slice to sql.NullString.
func nullableBytes(b []byte) sql.NullString {
	if b == nil || len(b) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableString converts a string to sql.NullString.
// An empty string is treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
// Handles bare paths ("/path/to/db.sqlite") and file: URIs ("file:/path/to/db.sqlite?mode=rwc").
// Returns empty string for in-memory databases or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database path
// AND no other process currently holds them open (via lsof).
// Returns false if lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	// Check if any process has the database or WAL files open.
	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		// lsof not available (e.g., Alpine Docker) — conservative fallback.
		return false
	}

	// Check the main db file, -shm, and -wal in a single lsof invocation.
	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof returns exit code 1 when no files are open — that means stale.
		return true
	}

	// If lsof produced output, some process has these files open — not stale.
	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

// fileExists returns true if the path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
