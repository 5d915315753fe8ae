package sqlite

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/engramhq/engram/internal/storage"
)

// normalizeContent lowercases and whitespace-collapses content so that
// cosmetic edits (re-wrapping, trailing spaces, case) do not change the
// dedup identity of a memory.
func normalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// computeContentHash returns the sha256: -prefixed hex digest of the
// normalised content, matching the invariant that content_hash always
// equals the hash of the normalised current content.
func computeContentHash(content string) string {
	sum := sha256.Sum256([]byte(normalizeContent(content)))
	return "sha256:" + hex.EncodeToString(sum[:])
}

var workspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// validateWorkspace checks workspace against the short-identifier pattern
// create_memory requires. An empty workspace is rejected by the caller
// before this runs (callers default to "default").
func validateWorkspace(workspace string) error {
	if !workspacePattern.MatchString(workspace) {
		return storage.ErrInvalidInput
	}
	return nil
}
