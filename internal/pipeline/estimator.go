// internal/pipeline/estimator.go
package pipeline

import (
	"time"

	"lizzy-pipeline/internal/common/config"
	"lizzy-pipeline/internal/models"
)

// Estimator forecasts token spend, dollar cost and wall-clock time for
// a run before it is authorized. It performs no I/O; all inputs are the
// configured per-scene constants.
type Estimator struct {
	cfg config.EstimatorConfig
}

func NewEstimator(cfg config.EstimatorConfig) *Estimator {
	return &Estimator{cfg: cfg}
}

// Estimate forecasts a full or resume run over numScenes scenes
// starting at startFrom.
func (e *Estimator) Estimate(numScenes, startFrom int) models.CostEstimate {
	if startFrom < 1 {
		startFrom = 1
	}
	scenesToProcess := numScenes - startFrom + 1
	if scenesToProcess < 0 {
		scenesToProcess = 0
	}

	totalInput := e.cfg.InputTokensPerScene * scenesToProcess
	totalOutput := e.cfg.OutputTokensPerScene * scenesToProcess

	// The first scene of a from-the-top run has no predecessor, so one
	// fewer delta is generated.
	numDeltas := scenesToProcess
	if startFrom == 1 && scenesToProcess > 0 {
		numDeltas = scenesToProcess - 1
	}
	totalDelta := e.cfg.DeltaTokensPerScene * numDeltas

	synthesisInput := float64(totalInput+totalDelta) / 1_000_000 * e.cfg.SynthesisInputRate
	synthesisOutput := float64(totalOutput) / 1_000_000 * e.cfg.SynthesisOutputRate
	expertQueries := float64(totalInput) * 0.5 / 1_000_000 * e.cfg.ExpertQueryRate

	totalCost := synthesisInput + synthesisOutput + expertQueries

	costPerScene := 0.0
	if scenesToProcess > 0 {
		costPerScene = totalCost / float64(scenesToProcess)
	}

	return models.CostEstimate{
		NumScenes:       numScenes,
		ScenesToProcess: scenesToProcess,
		StartFrom:       startFrom,
		TotalTokens:     totalInput + totalOutput + totalDelta,
		EstimatedCost:   totalCost,
		CostPerScene:    costPerScene,
		EstimatedTime:   time.Duration(float64(scenesToProcess)*e.cfg.SecondsPerScene) * time.Second,
		CostBreakdown: models.CostBreakdown{
			SynthesisInput:  synthesisInput,
			SynthesisOutput: synthesisOutput,
			ExpertQueries:   expertQueries,
		},
	}
}

// EstimateRegeneration forecasts a selective-regeneration run over an
// explicit scene set, priced at the per-scene rate of a full run.
func (e *Estimator) EstimateRegeneration(numScenes int, sceneNumbers []int) models.CostEstimate {
	base := e.Estimate(numScenes, 1)

	count := len(sceneNumbers)
	estimate := base
	estimate.ScenesToProcess = count
	estimate.EstimatedCost = base.CostPerScene * float64(count)
	estimate.EstimatedTime = time.Duration(float64(count)*e.cfg.SecondsPerScene) * time.Second
	estimate.TotalTokens = 0
	if base.ScenesToProcess > 0 {
		estimate.TotalTokens = base.TotalTokens / base.ScenesToProcess * count
	}

	share := 0.0
	if base.ScenesToProcess > 0 {
		share = float64(count) / float64(base.ScenesToProcess)
	}
	estimate.CostBreakdown = models.CostBreakdown{
		SynthesisInput:  base.CostBreakdown.SynthesisInput * share,
		SynthesisOutput: base.CostBreakdown.SynthesisOutput * share,
		ExpertQueries:   base.CostBreakdown.ExpertQueries * share,
	}

	return estimate
}
