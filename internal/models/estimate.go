// internal/models/estimate.go
package models

import "time"

// CostEstimate is the pre-run token/cost/time forecast. It is never
// persisted and is produced without any I/O.
type CostEstimate struct {
	NumScenes       int           `json:"numScenes"`
	ScenesToProcess int           `json:"scenesToProcess"`
	StartFrom       int           `json:"startFrom"`
	TotalTokens     int           `json:"totalTokens"`
	EstimatedCost   float64       `json:"estimatedCost"`
	CostPerScene    float64       `json:"costPerScene"`
	EstimatedTime   time.Duration `json:"estimatedTime"`
	CostBreakdown   CostBreakdown `json:"costBreakdown"`
}

// CostBreakdown splits the estimated spend across the three token pools.
type CostBreakdown struct {
	SynthesisInput  float64 `json:"synthesisInput"`
	SynthesisOutput float64 `json:"synthesisOutput"`
	ExpertQueries   float64 `json:"expertQueries"`
}
