// internal/models/scene.go
package models

import "time"

// Scene is one entry in the project outline. Scenes are created by the
// intake tooling and are read-only to the pipeline; only blueprints are
// written back.
type Scene struct {
	ID          int64     `json:"id"`
	SceneNumber int       `json:"sceneNumber"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Characters  string    `json:"characters"` // comma-separated names
	Act         int       `json:"act"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ActForScene derives the act from the scene number when the outline
// does not carry one: scenes 1-6 are act 1, 7-24 act 2, the rest act 3.
func ActForScene(sceneNumber int) int {
	switch {
	case sceneNumber <= 6:
		return 1
	case sceneNumber <= 24:
		return 2
	default:
		return 3
	}
}

// ExpertResult is one expert consultation for one scene. It lives only
// for the duration of the scene's processing turn; the response text is
// persisted separately as an audit row.
type ExpertResult struct {
	Source   string `json:"source"`
	Query    string `json:"query"`
	Response string `json:"response"`
}
