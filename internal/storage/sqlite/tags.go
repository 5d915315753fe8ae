package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// dbTX is the subset of *sql.DB / *sql.Tx that tag and CRUD helpers need.
type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// replaceTags re-normalises the tag set for a memory: tags are stored
// case-insensitively (insert-or-ignore on lowercase name), and the
// memory_tags link set is replaced wholesale rather than diffed, since a
// memory's tag count is small.
func replaceTags(ctx context.Context, tx dbTX, memoryID string, tags []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_tags WHERE memory_id = ?", memoryID); err != nil {
		return fmt.Errorf("sqlite: clear tags: %w", err)
	}

	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		name := strings.ToLower(strings.TrimSpace(tag))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO tags (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("sqlite: insert tag %q: %w", name, err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO memory_tags (memory_id, tag_id)
			SELECT ?, id FROM tags WHERE name = ?
		`, memoryID, name)
		if err != nil {
			return fmt.Errorf("sqlite: link tag %q: %w", name, err)
		}
	}
	return nil
}

// loadTags returns the lowercase tag names attached to a memory, sorted.
func loadTags(ctx context.Context, tx dbTX, memoryID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN memory_tags mt ON mt.tag_id = t.id
		WHERE mt.memory_id = ?
		ORDER BY t.name
	`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan tag: %w", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// loadTagsBatch returns tag names keyed by memory id for a set of ids, one
// query instead of N+1 per row in List.
func loadTagsBatch(ctx context.Context, tx dbTX, memoryIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(memoryIDs)), ",")
	args := make([]interface{}, len(memoryIDs))
	for i, id := range memoryIDs {
		args[i] = id
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT mt.memory_id, t.name FROM tags t
		JOIN memory_tags mt ON mt.tag_id = t.id
		WHERE mt.memory_id IN (%s)
		ORDER BY t.name
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load tags batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memoryID, name string
		if err := rows.Scan(&memoryID, &name); err != nil {
			return nil, fmt.Errorf("sqlite: scan tag batch: %w", err)
		}
		result[memoryID] = append(result[memoryID], name)
	}
	return result, rows.Err()
}

// editDistance computes Levenshtein distance between two lowercase strings,
// used by tag validation to suggest near matches (edit distance <= 2).
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// ValidateTags reports which of the candidate tags are already known
// (case-insensitively) and, for unknown tags, suggests existing tags within
// edit distance <= 2.
func (s *MemoryStore) ValidateTags(ctx context.Context, candidates []string) (known []string, unknown []string, suggestions map[string][]string, err error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM tags")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sqlite: ValidateTags: %w", err)
	}
	var all []string
	for rows.Next() {
		var name string
		if scanErr := rows.Scan(&name); scanErr != nil {
			rows.Close()
			return nil, nil, nil, fmt.Errorf("sqlite: ValidateTags scan: %w", scanErr)
		}
		all = append(all, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	existing := make(map[string]bool, len(all))
	for _, name := range all {
		existing[name] = true
	}

	suggestions = make(map[string][]string)
	for _, candidate := range candidates {
		name := strings.ToLower(strings.TrimSpace(candidate))
		if existing[name] {
			known = append(known, name)
			continue
		}
		unknown = append(unknown, name)
		var near []string
		for _, existingName := range all {
			if editDistance(name, existingName) <= 2 {
				near = append(near, existingName)
			}
		}
		if len(near) > 0 {
			suggestions[name] = near
		}
	}
	return known, unknown, suggestions, nil
}
