// internal/pipeline/estimator_test.go
package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lizzy-pipeline/internal/common/config"
)

// ==========================================
// TEST HELPERS
// ==========================================

func createTestEstimator() *Estimator {
	return NewEstimator(config.EstimatorConfig{
		InputTokensPerScene:  3500,
		OutputTokensPerScene: 4000,
		DeltaTokensPerScene:  350,
		SynthesisInputRate:   2.50,
		SynthesisOutputRate:  10.00,
		ExpertQueryRate:      0.15,
		SecondsPerScene:      52.5,
	})
}

// ==========================================
// FULL RUN ESTIMATES
// ==========================================

func TestEstimate_FullRun(t *testing.T) {
	estimator := createTestEstimator()

	estimate := estimator.Estimate(30, 1)

	assert.Equal(t, 30, estimate.NumScenes)
	assert.Equal(t, 30, estimate.ScenesToProcess)
	assert.Equal(t, 1, estimate.StartFrom)

	// First scene has no predecessor, so only 29 deltas are generated.
	assert.Equal(t, 30*3500+30*4000+29*350, estimate.TotalTokens)

	assert.InDelta(t, 0.287875, estimate.CostBreakdown.SynthesisInput, 0.000001)
	assert.InDelta(t, 1.20, estimate.CostBreakdown.SynthesisOutput, 0.000001)
	assert.InDelta(t, 0.007875, estimate.CostBreakdown.ExpertQueries, 0.000001)
	assert.InDelta(t, 1.49575, estimate.EstimatedCost, 0.000001)

	assert.Equal(t, 1575*time.Second, estimate.EstimatedTime)
	assert.InDelta(t, estimate.EstimatedCost/30, estimate.CostPerScene, 0.000001)
}

func TestEstimate_TokenPoolRoles(t *testing.T) {
	// Distinct magnitudes per pool so a swapped field shows up in the sum:
	// input counts per scene, output counts per scene, delta counts per
	// generated delta.
	estimator := NewEstimator(config.EstimatorConfig{
		InputTokensPerScene:  100,
		OutputTokensPerScene: 10,
		DeltaTokensPerScene:  1,
	})

	estimate := estimator.Estimate(3, 1)
	assert.Equal(t, 3*100+3*10+2*1, estimate.TotalTokens)
}

func TestEstimate_ResumeRun(t *testing.T) {
	estimator := createTestEstimator()

	estimate := estimator.Estimate(30, 16)

	assert.Equal(t, 15, estimate.ScenesToProcess)
	assert.Equal(t, 16, estimate.StartFrom)

	// A resume run needs a delta for every processed scene: scene 16's
	// context is rebuilt from scene 15's persisted blueprint.
	assert.Equal(t, 15*3500+15*4000+15*350, estimate.TotalTokens)
	// 15 * 52.5s truncates to whole seconds.
	assert.Equal(t, 787*time.Second, estimate.EstimatedTime)
}

func TestEstimate_Clamps(t *testing.T) {
	estimator := createTestEstimator()

	t.Run("start from below one", func(t *testing.T) {
		estimate := estimator.Estimate(10, 0)
		assert.Equal(t, 1, estimate.StartFrom)
		assert.Equal(t, 10, estimate.ScenesToProcess)
	})

	t.Run("start beyond outline", func(t *testing.T) {
		estimate := estimator.Estimate(10, 40)
		assert.Equal(t, 0, estimate.ScenesToProcess)
		assert.Zero(t, estimate.TotalTokens)
		assert.Zero(t, estimate.EstimatedCost)
		assert.Zero(t, estimate.CostPerScene)
	})

	t.Run("empty outline", func(t *testing.T) {
		estimate := estimator.Estimate(0, 1)
		assert.Equal(t, 0, estimate.ScenesToProcess)
		assert.Zero(t, estimate.EstimatedCost)
	})
}

func TestEstimate_Deterministic(t *testing.T) {
	estimator := createTestEstimator()

	first := estimator.Estimate(24, 5)
	second := estimator.Estimate(24, 5)

	assert.Equal(t, first, second)
}

// ==========================================
// REGENERATION ESTIMATES
// ==========================================

func TestEstimateRegeneration_PricedPerScene(t *testing.T) {
	estimator := createTestEstimator()

	base := estimator.Estimate(30, 1)
	estimate := estimator.EstimateRegeneration(30, []int{3, 9, 17})

	assert.Equal(t, 3, estimate.ScenesToProcess)
	assert.InDelta(t, base.CostPerScene*3, estimate.EstimatedCost, 0.000001)
	assert.Equal(t, 157*time.Second, estimate.EstimatedTime)
	assert.Equal(t, base.TotalTokens/30*3, estimate.TotalTokens)
}

func TestEstimateRegeneration_EmptySelection(t *testing.T) {
	estimator := createTestEstimator()

	estimate := estimator.EstimateRegeneration(30, nil)

	assert.Equal(t, 0, estimate.ScenesToProcess)
	assert.Zero(t, estimate.EstimatedCost)
	assert.Zero(t, estimate.TotalTokens)
}
