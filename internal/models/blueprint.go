// internal/models/blueprint.go
package models

import "time"

// SourceSynthesis marks a blueprint row produced by merging all expert
// results; rows carrying an expert name are the per-expert audit trail.
const SourceSynthesis = "synthesis"

// Blueprint is the durable output of processing one scene. Rows are
// append-only: regeneration inserts a new row, the most recent synthesis
// row is authoritative.
type Blueprint struct {
	ID         string    `json:"id"`
	SceneID    int64     `json:"sceneId"`
	SourceUsed string    `json:"sourceUsed"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DeltaSummary is a compressed digest of a scene's blueprint, carried
// forward as continuity context for the next scene. It is derived state:
// on a cache miss it is rebuilt from the persisted blueprint.
type DeltaSummary struct {
	SceneNumber int    `json:"sceneNumber"`
	Content     string `json:"content"`
}
