package types

import (
	"math"
	"time"
)

// CrossReference is a typed, confidence-weighted directed edge between
// two memories. Identity is the ordered triple (FromID, ToID, EdgeType);
// at most one active (ValidTo == nil) row may exist per triple.
type CrossReference struct {
	FromID string   `json:"from_id"`
	ToID   string   `json:"to_id"`
	Type   EdgeType `json:"type"`

	// Score is the algorithmic similarity that produced this edge —
	// immutable once written.
	Score float64 `json:"score"`

	// Confidence decays over time (half-life from config) unless Pinned.
	Confidence float64 `json:"confidence"`

	// Strength is a user-adjustable weight, mutable independently of Score.
	Strength float64 `json:"strength"`

	Source        EdgeSource `json:"source"`
	SourceContext string     `json:"source_context,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	Pinned   bool                   `json:"pinned"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Active reports whether the edge is currently in force.
func (c *CrossReference) Active() bool { return c.ValidTo == nil }

// ConfidenceAt returns the time-decayed confidence at instant `now`,
// given a half-life in days. Pinned edges never decay.
func (c *CrossReference) ConfidenceAt(now time.Time, halfLifeDays float64) float64 {
	if c.Pinned || halfLifeDays <= 0 {
		return c.Confidence
	}
	days := now.Sub(c.CreatedAt).Hours() / 24.0
	if days <= 0 {
		return c.Confidence
	}
	return c.Confidence * math.Pow(2, -days/halfLifeDays)
}
