// internal/pipeline/orchestrator_test.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "lizzy-pipeline/internal/common/errors"
	"lizzy-pipeline/internal/common/logger"
	"lizzy-pipeline/internal/models"
)

// ==========================================
// FAKES
// ==========================================

type fakeStore struct {
	mu         sync.Mutex
	scenes     []models.Scene
	saved      []models.Blueprint
	pingErr    error
	saveErr    map[string]error // keyed by sourceUsed
	listErr    error
	blueprints map[string]string // "sceneID/source" -> content
}

func newFakeStore(sceneCount int) *fakeStore {
	store := &fakeStore{
		saveErr:    make(map[string]error),
		blueprints: make(map[string]string),
	}
	for i := 1; i <= sceneCount; i++ {
		store.scenes = append(store.scenes, models.Scene{
			ID:          int64(i),
			SceneNumber: i,
			Title:       fmt.Sprintf("Scene %d", i),
			Description: fmt.Sprintf("Description of scene %d", i),
			Act:         models.ActForScene(i),
		})
	}
	return store
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) ListScenes(ctx context.Context) ([]models.Scene, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.scenes, nil
}

func (s *fakeStore) SaveBlueprint(ctx context.Context, sceneID int64, sourceUsed, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveErr[sourceUsed]; err != nil {
		return "", err
	}
	s.saved = append(s.saved, models.Blueprint{
		SceneID:    sceneID,
		SourceUsed: sourceUsed,
		Content:    content,
	})
	s.blueprints[fmt.Sprintf("%d/%s", sceneID, sourceUsed)] = content
	return fmt.Sprintf("bp-%d", len(s.saved)), nil
}

func (s *fakeStore) LatestBlueprint(ctx context.Context, sceneID int64, sourceUsed string) (*models.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.blueprints[fmt.Sprintf("%d/%s", sceneID, sourceUsed)]
	if !ok {
		return nil, errors.New("BLUEPRINT_NOT_FOUND")
	}
	return &models.Blueprint{SceneID: sceneID, SourceUsed: sourceUsed, Content: content}, nil
}

func (s *fakeStore) savedFor(sceneID int64, sourceUsed string) []models.Blueprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Blueprint
	for _, bp := range s.saved {
		if bp.SceneID == sceneID && bp.SourceUsed == sourceUsed {
			matched = append(matched, bp)
		}
	}
	return matched
}

type fakeExperts struct {
	sources  []string
	failAll  map[int]bool // scene numbers whose queries all fail
	mu       sync.Mutex
	queries  []map[string]string
	response func(source, query string) string
}

func newFakeExperts() *fakeExperts {
	return &fakeExperts{
		sources: []string{"structure", "pattern", "reference"},
		failAll: make(map[int]bool),
		response: func(source, query string) string {
			return fmt.Sprintf("%s advice with escalating dramatic momentum", source)
		},
	}
}

func (e *fakeExperts) SourceNames() []string { return e.sources }

func (e *fakeExperts) QueryAll(ctx context.Context, queries map[string]string) []models.ExpertResult {
	e.mu.Lock()
	e.queries = append(e.queries, queries)
	e.mu.Unlock()

	for sceneNumber := range e.failAll {
		marker := fmt.Sprintf("Scene %d:", sceneNumber)
		for _, query := range queries {
			if containsOwnScene(query, marker) && e.failAll[sceneNumber] {
				return nil
			}
		}
	}

	var results []models.ExpertResult
	for _, source := range e.sources {
		query, ok := queries[source]
		if !ok {
			continue
		}
		results = append(results, models.ExpertResult{
			Source:   source,
			Query:    query,
			Response: e.response(source, query),
		})
	}
	return results
}

// containsOwnScene matches the scene marker in the SCENE CONTEXT block,
// not in the previous/next context lines.
func containsOwnScene(query, marker string) bool {
	return strings.Contains(query, "SCENE CONTEXT:\n"+marker)
}

type fakeCompletion struct {
	mu        sync.Mutex
	calls     []string
	synthErr  error
	deltaErr  error
	synthesis string
	delta     string
}

func newFakeCompletion() *fakeCompletion {
	return &fakeCompletion{
		synthesis: "synthesized blueprint",
		delta:     "compressed delta",
	}
}

func (c *fakeCompletion) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, userPrompt)
	// Delta requests carry no system prompt.
	if systemPrompt == "" {
		if c.deltaErr != nil {
			return "", c.deltaErr
		}
		return c.delta, nil
	}
	if c.synthErr != nil {
		return "", c.synthErr
	}
	return c.synthesis, nil
}

// ==========================================
// TEST HELPERS
// ==========================================

func createTestOrchestrator(store *fakeStore, experts *fakeExperts, completion *fakeCompletion) *Orchestrator {
	prompts := &PromptBuilder{
		Project: "Test Project",
		Genre:   "drama",
	}
	config := &Config{
		ExpertTimeout:    time.Second,
		SynthesisTimeout: time.Second,
		DeltaTimeout:     time.Second,
		DeltaTargetWords: 250,
	}
	return NewOrchestrator(config, store, experts, completion, prompts, nil, nil, logger.NewNoOpLogger())
}

// ==========================================
// FULL RUN
// ==========================================

func TestRun_FullRunAllScenesSucceed(t *testing.T) {
	store := newFakeStore(3)
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	assert.Equal(t, 3, report.Completed)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Cancelled)
	assert.Equal(t, 3, report.LastCompleted)
	assert.NotEmpty(t, report.RunID)

	// Every scene reaches Done and persists one synthesis blueprint plus
	// one audit row per expert.
	for n := 1; n <= 3; n++ {
		assert.Equal(t, models.StateDone, orch.Status()[n])
		assert.Len(t, store.savedFor(int64(n), models.SourceSynthesis), 1)
		assert.Len(t, store.savedFor(int64(n), "structure"), 1)
		assert.Len(t, store.savedFor(int64(n), "pattern"), 1)
		assert.Len(t, store.savedFor(int64(n), "reference"), 1)
	}

	// Each completed scene leaves a delta for its successor.
	assert.Equal(t, 3, orch.Cache().Len())
	delta, ok := orch.Cache().Get(1)
	assert.True(t, ok)
	assert.Equal(t, "compressed delta", delta)
}

func TestRun_ScenesProcessedInOrder(t *testing.T) {
	store := newFakeStore(4)
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	for i, outcome := range report.Outcomes {
		assert.Equal(t, i+1, outcome.SceneNumber)
	}
}

func TestRun_SecondSceneSeesFirstScenesDelta(t *testing.T) {
	store := newFakeStore(2)
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	_, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})
	require.NoError(t, err)

	require.Len(t, experts.queries, 2)
	firstQuery := experts.queries[0]["structure"]
	secondQuery := experts.queries[1]["structure"]

	assert.Contains(t, firstQuery, "Previous: none")
	assert.Contains(t, secondQuery, "DELTA SUMMARY:\ncompressed delta")
}

// ==========================================
// FAILURE ISOLATION
// ==========================================

func TestRun_AllExpertsFailForOneScene(t *testing.T) {
	store := newFakeStore(3)
	experts := newFakeExperts()
	experts.failAll[2] = true
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, models.StateFailed, orch.Status()[2])
	assert.Equal(t, models.StateDone, orch.Status()[3])
	assert.Equal(t, string(stderrors.ErrCodeAllExpertsFailed), report.Outcomes[1].ErrorCode)

	// Scene 2 persisted nothing.
	assert.Empty(t, store.savedFor(2, models.SourceSynthesis))

	// Scene 3 still ran, falling back to scene 2's raw description since
	// no delta was cached for it.
	thirdQuery := experts.queries[2]["structure"]
	assert.Contains(t, thirdQuery, "Previous: Scene 2: Scene 2 - Description of scene 2")
}

func TestRun_SynthesisFailureFallsBackToConcatenation(t *testing.T) {
	store := newFakeStore(1)
	experts := newFakeExperts()
	completion := newFakeCompletion()
	completion.synthErr = errors.New("SYNTHESIS_FAILED")
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.True(t, report.Outcomes[0].SynthesisFallback)

	saved := store.savedFor(1, models.SourceSynthesis)
	require.Len(t, saved, 1)
	assert.Contains(t, saved[0].Content, "=== STRUCTURE ===")
	assert.Contains(t, saved[0].Content, "=== PATTERN ===")
	assert.Contains(t, saved[0].Content, "=== REFERENCE ===")
}

func TestRun_DeltaFailureFallsBackToTruncation(t *testing.T) {
	store := newFakeStore(2)
	experts := newFakeExperts()
	completion := newFakeCompletion()
	completion.deltaErr = errors.New("DELTA_COMPRESSION_FAILED")
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)
	assert.True(t, report.Outcomes[0].DeltaFallback)

	// The truncated blueprint still feeds scene 2's context.
	delta, ok := orch.Cache().Get(1)
	require.True(t, ok)
	assert.Equal(t, "synthesized blueprint", delta)
}

func TestRun_BlueprintWriteFailureFailsScene(t *testing.T) {
	store := newFakeStore(1)
	store.saveErr[models.SourceSynthesis] = errors.New("PERSISTENCE_FAILED")
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, string(stderrors.ErrCodePersistenceFailed), report.Outcomes[0].ErrorCode)
}

func TestRun_AuditWriteFailureDoesNotFailScene(t *testing.T) {
	store := newFakeStore(1)
	store.saveErr["pattern"] = errors.New("disk full")
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Len(t, store.savedFor(1, models.SourceSynthesis), 1)
	assert.Len(t, store.savedFor(1, "structure"), 1)
	assert.Empty(t, store.savedFor(1, "pattern"))
}

func TestRun_StoreUnavailableAbortsRun(t *testing.T) {
	store := newFakeStore(3)
	store.pingErr = errors.New("connection refused")
	orch := createTestOrchestrator(store, newFakeExperts(), newFakeCompletion())

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, stderrors.ErrCodeStoreUnavailable, stderrors.CodeOf(err))
}

// ==========================================
// RESUME
// ==========================================

func TestRun_ResumeRebuildsDeltaFromPersistedBlueprint(t *testing.T) {
	store := newFakeStore(4)
	// Scenes 1-2 were completed by an earlier run.
	store.blueprints["1/synthesis"] = "persisted blueprint one"
	store.blueprints["2/synthesis"] = "persisted blueprint two"
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{
		Mode:      models.ModeResume,
		StartFrom: 3,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, 3, report.Outcomes[0].SceneNumber)
	assert.Equal(t, 4, report.Outcomes[1].SceneNumber)

	// Scene 3's context was rebuilt from scene 2's persisted blueprint,
	// compressed into a fresh delta.
	thirdQuery := experts.queries[0]["structure"]
	assert.Contains(t, thirdQuery, "Scene 2: Scene 2\n\nDELTA SUMMARY:\ncompressed delta")

	// Untouched scenes are not tracked.
	_, tracked := orch.Status()[1]
	assert.False(t, tracked)
}

// ==========================================
// REGENERATE
// ==========================================

func TestRun_RegenerateAppendsNewBlueprints(t *testing.T) {
	store := newFakeStore(10)
	store.blueprints["2/synthesis"] = "older blueprint two"
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	report, err := orch.Run(context.Background(), models.RunRequest{
		Mode:         models.ModeRegenerate,
		SceneNumbers: []int{9, 3},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)

	// Selection is processed in ascending order regardless of input order.
	assert.Equal(t, 3, report.Outcomes[0].SceneNumber)
	assert.Equal(t, 9, report.Outcomes[1].SceneNumber)

	assert.Len(t, store.savedFor(3, models.SourceSynthesis), 1)
	assert.Len(t, store.savedFor(9, models.SourceSynthesis), 1)
	assert.Empty(t, store.savedFor(4, models.SourceSynthesis))
}

func TestRun_RegenerateUnknownSceneFails(t *testing.T) {
	store := newFakeStore(5)
	orch := createTestOrchestrator(store, newFakeExperts(), newFakeCompletion())

	report, err := orch.Run(context.Background(), models.RunRequest{
		Mode:         models.ModeRegenerate,
		SceneNumbers: []int{3, 42},
	})

	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, stderrors.ErrCodeSceneNotFound, stderrors.CodeOf(err))
}

// ==========================================
// CANCELLATION
// ==========================================

func TestRun_CancellationStopsAtSceneBoundary(t *testing.T) {
	store := newFakeStore(5)
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	// Cancel while the second scene is synthesizing; the scene in flight
	// must still complete.
	var once sync.Once
	origResponse := experts.response
	experts.response = func(source, query string) string {
		if containsOwnScene(query, "Scene 2:") {
			once.Do(orch.RequestCancel)
		}
		return origResponse(source, query)
	}

	report, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 2, report.LastCompleted)
	assert.Len(t, report.Outcomes, 2)

	// Scene 2 finished persisting despite the cancel landing mid-scene.
	assert.Len(t, store.savedFor(2, models.SourceSynthesis), 1)
	assert.Empty(t, store.savedFor(3, models.SourceSynthesis))
}

func TestRun_ContextCancellationStopsRun(t *testing.T) {
	store := newFakeStore(5)
	experts := newFakeExperts()
	completion := newFakeCompletion()
	orch := createTestOrchestrator(store, experts, completion)

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	origResponse := experts.response
	experts.response = func(source, query string) string {
		once.Do(cancel)
		return origResponse(source, query)
	}

	report, err := orch.Run(ctx, models.RunRequest{Mode: models.ModeFull})

	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Completed)
}

// ==========================================
// STATUS
// ==========================================

func TestStatus_SnapshotsTerminalStates(t *testing.T) {
	store := newFakeStore(2)
	experts := newFakeExperts()
	experts.failAll[1] = true
	orch := createTestOrchestrator(store, experts, newFakeCompletion())

	_, err := orch.Run(context.Background(), models.RunRequest{Mode: models.ModeFull})
	require.NoError(t, err)

	status := orch.Status()
	assert.Equal(t, models.StateFailed, status[1])
	assert.Equal(t, models.StateDone, status[2])
	assert.Len(t, status, 2)
}
