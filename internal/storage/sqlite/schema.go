package sqlite

// migrationStep is one forward-only, transactionally-applied schema change.
type migrationStep struct {
	version uint
	name    string
	sql     string
}

// migrations lists every schema version in order, embedded as Go strings
// rather than read from a migrations directory so the package works from a
// single binary and against `:memory:` databases with no filesystem support.
var migrations = []migrationStep{
	{version: 1, name: "initial_schema", sql: schemaV1},
	{version: 2, name: "scope_columns", sql: schemaV2Scope},
	{version: 3, name: "entities", sql: schemaV3Entities},
	{version: 4, name: "mention_count_backfill", sql: schemaV4MentionBackfill},
	{version: 5, name: "expires_at", sql: schemaV5ExpiresAt},
	{version: 6, name: "content_hash_backfill", sql: schemaV6ContentHash},
	{version: 7, name: "tier_workspace", sql: schemaV7TierWorkspace},
	{version: 8, name: "event_memory_fields", sql: schemaV8EventMemory},
	{version: 9, name: "salience_history", sql: schemaV9Salience},
	{version: 10, name: "sessions", sql: schemaV10Sessions},
	{version: 11, name: "lifecycle_state", sql: schemaV11Lifecycle},
	{version: 12, name: "enrichment_tracking", sql: schemaV12Enrichment},
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    memory_type TEXT NOT NULL DEFAULT 'note',
    importance REAL NOT NULL DEFAULT 0.5,
    access_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_accessed_at TIMESTAMP,
    owner_id TEXT,
    version INTEGER NOT NULL DEFAULT 1,
    has_embedding INTEGER NOT NULL DEFAULT 0,
    valid_from TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    valid_to TIMESTAMP,
    deleted_at TIMESTAMP,
    supersedes_id TEXT,
    metadata TEXT,
    status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_memories_valid_to ON memories(valid_to);
CREATE INDEX IF NOT EXISTS idx_memories_memory_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_supersedes_id ON memories(supersedes_id);

CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS memory_tags (
    memory_id TEXT NOT NULL,
    tag_id INTEGER NOT NULL,
    PRIMARY KEY (memory_id, tag_id),
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_tag_id ON memory_tags(tag_id);

CREATE TABLE IF NOT EXISTS crossrefs (
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    edge_type TEXT NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 1.0,
    strength REAL NOT NULL DEFAULT 1.0,
    source TEXT NOT NULL DEFAULT 'auto',
    source_context TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    valid_from TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    valid_to TIMESTAMP,
    pinned INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    PRIMARY KEY (from_id, to_id, edge_type),
    FOREIGN KEY (from_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (to_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_crossrefs_to_id ON crossrefs(to_id);
CREATE INDEX IF NOT EXISTS idx_crossrefs_valid_to ON crossrefs(valid_to);
CREATE INDEX IF NOT EXISTS idx_crossrefs_edge_type ON crossrefs(edge_type);

CREATE TABLE IF NOT EXISTS memory_versions (
    memory_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    content TEXT NOT NULL,
    metadata TEXT,
    snapshot_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (memory_id, version),
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS embeddings (
    memory_id TEXT PRIMARY KEY,
    embedding BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS embedding_queue (
    memory_id TEXT PRIMARY KEY,
    state TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    enqueued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_embedding_queue_state ON embedding_queue(state);

CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    memory_id TEXT,
    action TEXT NOT NULL,
    detail TEXT,
    occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    pending_changes INTEGER NOT NULL DEFAULT 0,
    last_synced_at TIMESTAMP,
    last_sync_error TEXT
);
INSERT OR IGNORE INTO sync_state (id, pending_changes) VALUES (1, 0);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    id UNINDEXED,
    content,
    content='memories',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, id, content) VALUES (new.rowid, new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, id, content) VALUES ('delete', old.rowid, old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, id, content) VALUES ('delete', old.rowid, old.id, old.content);
    INSERT INTO memories_fts(rowid, id, content) VALUES (new.rowid, new.id, new.content);
END;
`

const schemaV2Scope = `
ALTER TABLE memories ADD COLUMN visibility TEXT NOT NULL DEFAULT 'private';
ALTER TABLE memories ADD COLUMN scope_kind TEXT NOT NULL DEFAULT 'global';
ALTER TABLE memories ADD COLUMN scope_id TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope_kind, scope_id);
CREATE INDEX IF NOT EXISTS idx_memories_visibility ON memories(visibility);
`

const schemaV3Entities = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    normalized_name TEXT NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    aliases TEXT,
    mention_count INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(normalized_name, type)
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);

CREATE TABLE IF NOT EXISTS memory_entities (
    memory_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    relation TEXT NOT NULL DEFAULT 'mentions',
    confidence REAL NOT NULL DEFAULT 1.0,
    char_offset INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (memory_id, entity_id, relation),
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_memory_entities_entity ON memory_entities(entity_id);
`

const schemaV4MentionBackfill = `
UPDATE entities
SET mention_count = (
    SELECT COUNT(*) FROM memory_entities WHERE memory_entities.entity_id = entities.id
)
WHERE mention_count = 0;
`

const schemaV5ExpiresAt = `
ALTER TABLE memories ADD COLUMN expires_at TIMESTAMP;
CREATE INDEX IF NOT EXISTS idx_memories_expires_at ON memories(expires_at);
`

const schemaV6ContentHash = `
ALTER TABLE memories ADD COLUMN content_hash TEXT;
CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(content_hash);
`

const schemaV7TierWorkspace = `
ALTER TABLE memories ADD COLUMN tier TEXT NOT NULL DEFAULT 'permanent';
ALTER TABLE memories ADD COLUMN workspace TEXT NOT NULL DEFAULT 'default';

CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_workspace ON memories(workspace);
`

const schemaV8EventMemory = `
ALTER TABLE memories ADD COLUMN event_time TIMESTAMP;
ALTER TABLE memories ADD COLUMN event_duration_seconds INTEGER NOT NULL DEFAULT 0;
ALTER TABLE memories ADD COLUMN trigger_pattern TEXT;
ALTER TABLE memories ADD COLUMN procedure_success_count INTEGER NOT NULL DEFAULT 0;
ALTER TABLE memories ADD COLUMN procedure_failure_count INTEGER NOT NULL DEFAULT 0;
ALTER TABLE memories ADD COLUMN summary_of_id TEXT;
`

const schemaV9Salience = `
CREATE TABLE IF NOT EXISTS salience_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    memory_id TEXT NOT NULL,
    score REAL NOT NULL,
    recency_component REAL NOT NULL,
    frequency_component REAL NOT NULL,
    importance_component REAL NOT NULL,
    feedback_component REAL NOT NULL,
    computed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_salience_history_memory ON salience_history(memory_id);
`

const schemaV10Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT,
    workspace TEXT NOT NULL DEFAULT 'default',
    started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    ended_at TIMESTAMP,
    message_count INTEGER NOT NULL DEFAULT 0,
    summary TEXT,
    context TEXT,
    metadata TEXT
);

CREATE TABLE IF NOT EXISTS session_memories (
    session_id TEXT NOT NULL,
    memory_id TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'referenced',
    relevance REAL NOT NULL DEFAULT 1.0,
    added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (session_id, memory_id, role),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_session_memories_memory ON session_memories(memory_id);

CREATE TABLE IF NOT EXISTS session_chunk_ranges (
    session_id TEXT NOT NULL,
    start_message_index INTEGER NOT NULL,
    end_message_index INTEGER NOT NULL,
    memory_id TEXT NOT NULL,
    PRIMARY KEY (session_id, start_message_index),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`

const schemaV11Lifecycle = `
ALTER TABLE memories ADD COLUMN lifecycle_state TEXT NOT NULL DEFAULT 'active';
CREATE INDEX IF NOT EXISTS idx_memories_lifecycle_state ON memories(lifecycle_state);
`

// schemaV12Enrichment adds the async-enrichment tracking columns used by the
// extraction pipeline (entity/relationship/classification/summarisation) and
// provenance fields (who/what session created a memory), none of which are
// named by the core spec's memory model but which every write path in the
// enrichment pipeline depends on.
const schemaV12Enrichment = `
ALTER TABLE memories ADD COLUMN source TEXT NOT NULL DEFAULT '';
ALTER TABLE memories ADD COLUMN domain TEXT NOT NULL DEFAULT '';
ALTER TABLE memories ADD COLUMN timestamp TIMESTAMP;
ALTER TABLE memories ADD COLUMN entity_status TEXT NOT NULL DEFAULT 'pending';
ALTER TABLE memories ADD COLUMN relationship_status TEXT NOT NULL DEFAULT 'pending';
ALTER TABLE memories ADD COLUMN classification_status TEXT NOT NULL DEFAULT 'pending';
ALTER TABLE memories ADD COLUMN summarization_status TEXT NOT NULL DEFAULT 'pending';
ALTER TABLE memories ADD COLUMN embedding_status TEXT NOT NULL DEFAULT 'pending';
ALTER TABLE memories ADD COLUMN enrichment_attempts INTEGER NOT NULL DEFAULT 0;
ALTER TABLE memories ADD COLUMN enrichment_error TEXT;
ALTER TABLE memories ADD COLUMN enriched_at TIMESTAMP;
ALTER TABLE memories ADD COLUMN summary TEXT;
ALTER TABLE memories ADD COLUMN key_points TEXT;
ALTER TABLE memories ADD COLUMN state TEXT;
ALTER TABLE memories ADD COLUMN state_updated_at TIMESTAMP;
ALTER TABLE memories ADD COLUMN created_by TEXT;
ALTER TABLE memories ADD COLUMN session_id TEXT;
ALTER TABLE memories ADD COLUMN source_context TEXT;
ALTER TABLE memories ADD COLUMN decay_score REAL NOT NULL DEFAULT 0;
ALTER TABLE memories ADD COLUMN decay_updated_at TIMESTAMP;

CREATE INDEX IF NOT EXISTS idx_memories_entity_status ON memories(entity_status);
CREATE INDEX IF NOT EXISTS idx_memories_session_id ON memories(session_id);

-- memory_links predates crossrefs and is kept for untyped structural links
-- (e.g. a document's chunks to its parent) that do not carry a crossrefs
-- score/confidence pair.
CREATE TABLE IF NOT EXISTS memory_links (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (source_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (target_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_memory_links_source ON memory_links(source_id, type);
`
