// internal/models/confidence.go
package models

// ConfidenceScore measures how much the experts consulted for a scene
// agreed with each other. All three values are in [0,1]; with fewer than
// two successful expert results every value is exactly zero.
type ConfidenceScore struct {
	Agreement float64 `json:"agreement"`
	Diversity float64 `json:"diversity"`
	Overall   float64 `json:"overall"`
}
