package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/engramhq/engram/internal/storage"
)

// EmbeddingProvider implements storage.EmbeddingProvider using SQLite.
// Vectors are float32, serialized 4 bytes per dimension little-endian —
// byte length always equals dimension * 4, per the embedding invariant.
type EmbeddingProvider struct {
	db *sql.DB
}

// NewEmbeddingProvider creates a new SQLite embedding provider.
func NewEmbeddingProvider(db *sql.DB) *EmbeddingProvider {
	return &EmbeddingProvider{db: db}
}

// StoreEmbedding stores a vector embedding for a memory, inferring the
// dimension from the vector's length. Satisfies embedding.Store.
func (p *EmbeddingProvider) StoreEmbedding(ctx context.Context, memoryID string, vector []float32, model string) error {
	return p.StoreEmbeddingDim(ctx, memoryID, vector, len(vector), model)
}

// StoreEmbeddingDim stores a vector embedding with an explicit, independently
// validated dimension.
func (p *EmbeddingProvider) StoreEmbeddingDim(ctx context.Context, memoryID string, embedding []float32, dimension int, model string) error {
	if memoryID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}

	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	if len(embedding) != dimension {
		return fmt.Errorf("%w: embedding length (%d) does not match dimension (%d)",
			storage.ErrInvalidInput, len(embedding), dimension)
	}

	embeddingBytes := serializeEmbedding(embedding)

	query := `
		INSERT INTO embeddings (memory_id, embedding, dimension, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(memory_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := p.db.ExecContext(ctx, query, memoryID, embeddingBytes, dimension, model); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, `UPDATE memories SET has_embedding = 1 WHERE id = ?`, memoryID); err != nil {
		return fmt.Errorf("failed to flag has_embedding: %w", err)
	}

	return nil
}

// GetEmbedding retrieves the embedding for a memory.
// Returns storage.ErrNotFound if not found.
func (p *EmbeddingProvider) GetEmbedding(ctx context.Context, memoryID string) ([]float32, error) {
	if memoryID == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	query := `SELECT embedding, dimension FROM embeddings WHERE memory_id = ?`

	var embeddingBytes []byte
	var dimension int

	err := p.db.QueryRowContext(ctx, query, memoryID).Scan(&embeddingBytes, &dimension)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	embedding, err := deserializeEmbedding(embeddingBytes, dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize embedding: %w", err)
	}

	return embedding, nil
}

// DeleteEmbedding removes an embedding from the database.
// Returns storage.ErrNotFound if the embedding doesn't exist.
func (p *EmbeddingProvider) DeleteEmbedding(ctx context.Context, memoryID string) error {
	if memoryID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := p.db.ExecContext(ctx, `DELETE FROM embeddings WHERE memory_id = ?`, memoryID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return storage.ErrNotFound
	}

	if _, err := p.db.ExecContext(ctx, `UPDATE memories SET has_embedding = 0 WHERE id = ?`, memoryID); err != nil {
		return fmt.Errorf("failed to clear has_embedding: %w", err)
	}

	return nil
}

// GetDimension returns the embedding dimension used for a given model.
// Returns storage.ErrNotFound if no embeddings for that model exist yet.
func (p *EmbeddingProvider) GetDimension(ctx context.Context, model string) (int, error) {
	if model == "" {
		return 0, fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	var dimension int
	err := p.db.QueryRowContext(ctx, `SELECT dimension FROM embeddings WHERE model = ? LIMIT 1`, model).Scan(&dimension)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("failed to get dimension: %w", err)
	}

	return dimension, nil
}

// serializeEmbedding packs a float32 vector little-endian, 4 bytes per
// dimension — byte length always equals len(embedding) * 4.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding unpacks a float32 vector, validating buf's length
// against the expected dimension first.
func deserializeEmbedding(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}

	expectedSize := dimension * 4
	if len(buf) != expectedSize {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", expectedSize, len(buf))
	}

	embedding := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		embedding[i] = math.Float32frombits(bits)
	}

	return embedding, nil
}
