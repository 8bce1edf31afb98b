// internal/pipeline/orchestrator.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	stderrors "lizzy-pipeline/internal/common/errors"
	"lizzy-pipeline/internal/completion"
	"lizzy-pipeline/internal/common/logger"
	"lizzy-pipeline/internal/common/metrics"
	"lizzy-pipeline/internal/common/observability"
	"lizzy-pipeline/internal/models"
)

// SceneStore is the durable collaborator: the outline plus the
// append-only blueprint history.
type SceneStore interface {
	Ping(ctx context.Context) error
	ListScenes(ctx context.Context) ([]models.Scene, error)
	SaveBlueprint(ctx context.Context, sceneID int64, sourceUsed, content string) (string, error)
	LatestBlueprint(ctx context.Context, sceneID int64, sourceUsed string) (*models.Blueprint, error)
}

// ExpertPool fans scene queries out to the configured expert sources
// and returns whatever succeeded.
type ExpertPool interface {
	SourceNames() []string
	QueryAll(ctx context.Context, queries map[string]string) []models.ExpertResult
}

// CompletionService produces synthesis and delta-compression text.
type CompletionService interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config holds the orchestrator's own knobs; collaborator timeouts and
// retries live in the client configs.
type Config struct {
	ExpertTimeout    time.Duration
	SynthesisTimeout time.Duration
	DeltaTimeout     time.Duration
	DeltaTargetWords int
}

func DefaultConfig() *Config {
	return &Config{
		ExpertTimeout:    90 * time.Second,
		SynthesisTimeout: 60 * time.Second,
		DeltaTimeout:     30 * time.Second,
		DeltaTargetWords: 250,
	}
}

// Orchestrator drives the per-scene state machine: fetch context, fan
// out expert queries, synthesize, score, persist, cache the delta. One
// orchestrator owns one run; the cache and state registry are reset at
// run start.
type Orchestrator struct {
	config     *Config
	store      SceneStore
	experts    ExpertPool
	completion CompletionService
	prompts    *PromptBuilder
	cache      *ContextCache
	lock       *RunLock // optional
	obs        *observability.Observability
	logger     logger.Logger

	mu     sync.RWMutex
	states map[int]models.SceneState

	cancelled atomic.Bool
}

func NewOrchestrator(
	config *Config,
	store SceneStore,
	experts ExpertPool,
	completion CompletionService,
	prompts *PromptBuilder,
	lock *RunLock,
	obs *observability.Observability,
	log logger.Logger,
) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Orchestrator{
		config:     config,
		store:      store,
		experts:    experts,
		completion: completion,
		prompts:    prompts,
		cache:      NewContextCache(),
		lock:       lock,
		obs:        obs,
		logger:     log.WithFields(map[string]interface{}{"component": "orchestrator"}),
		states:     make(map[int]models.SceneState),
	}
}

// RequestCancel asks the run to stop at the next scene boundary. The
// in-flight scene always completes through its delta-caching step.
func (o *Orchestrator) RequestCancel() {
	o.cancelled.Store(true)
}

// Status returns a snapshot of every tracked scene's state.
func (o *Orchestrator) Status() map[int]models.SceneState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snapshot := make(map[int]models.SceneState, len(o.states))
	for n, s := range o.states {
		snapshot[n] = s
	}
	return snapshot
}

// Cache exposes the run's context cache, mainly for the end-of-run report.
func (o *Orchestrator) Cache() *ContextCache {
	return o.cache
}

func (o *Orchestrator) setState(sceneNumber int, state models.SceneState) {
	o.mu.Lock()
	o.states[sceneNumber] = state
	o.mu.Unlock()
}

// Run executes one pipeline run. Store unavailability at initialization
// is the only error that aborts the run; every per-scene failure is
// isolated into that scene's outcome.
func (o *Orchestrator) Run(ctx context.Context, req models.RunRequest) (*models.RunReport, error) {
	if err := o.store.Ping(ctx); err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}

	if o.lock != nil {
		if err := o.lock.Acquire(ctx); err != nil {
			return nil, stderrors.NewRunInProgressError(err.Error())
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := o.lock.Release(releaseCtx); err != nil {
				o.logger.Warn("failed to release run lock", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	scenes, err := o.store.ListScenes(ctx)
	if err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}

	byNumber := make(map[int]*models.Scene, len(scenes))
	for i := range scenes {
		byNumber[scenes[i].SceneNumber] = &scenes[i]
	}

	selected, err := selectScenes(scenes, req)
	if err != nil {
		return nil, err
	}

	o.resetStates(selected)
	o.cancelled.Store(false)

	report := &models.RunReport{
		RunID: uuid.New().String(),
		Mode:  req.Mode,
	}

	o.logger.Info("run started", map[string]interface{}{
		"runId":  report.RunID,
		"mode":   string(req.Mode),
		"scenes": len(selected),
	})

	for _, scene := range selected {
		if o.cancelled.Load() || ctx.Err() != nil {
			report.Cancelled = true
			o.logger.Info("run cancelled at scene boundary", map[string]interface{}{
				"runId":         report.RunID,
				"nextScene":     scene.SceneNumber,
				"lastCompleted": report.LastCompleted,
			})
			break
		}

		// The in-flight scene must finish persisting and caching even
		// if cancellation lands mid-scene, so per-scene work runs on a
		// detached context with its own stage timeouts.
		sceneCtx := context.WithoutCancel(ctx)
		outcome := o.process(sceneCtx, scene, byNumber, len(scenes), string(req.Mode))

		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.State == models.StateDone {
			report.Completed++
			if scene.SceneNumber > report.LastCompleted {
				report.LastCompleted = scene.SceneNumber
			}
		} else {
			report.Failed++
		}
	}

	o.logger.Info("run finished", map[string]interface{}{
		"runId":     report.RunID,
		"completed": report.Completed,
		"failed":    report.Failed,
		"cancelled": report.Cancelled,
	})

	return report, nil
}

// selectScenes resolves the run mode into an ordered work list.
func selectScenes(scenes []models.Scene, req models.RunRequest) ([]*models.Scene, error) {
	byNumber := make(map[int]*models.Scene, len(scenes))
	for i := range scenes {
		byNumber[scenes[i].SceneNumber] = &scenes[i]
	}

	switch req.Mode {
	case models.ModeRegenerate:
		numbers := append([]int(nil), req.SceneNumbers...)
		sort.Ints(numbers)
		var selected []*models.Scene
		for _, n := range numbers {
			scene, ok := byNumber[n]
			if !ok {
				return nil, stderrors.NewSceneNotFoundError(n)
			}
			selected = append(selected, scene)
		}
		return selected, nil

	case models.ModeResume:
		startFrom := req.StartFrom
		if startFrom < 1 {
			startFrom = 1
		}
		var selected []*models.Scene
		for i := range scenes {
			if scenes[i].SceneNumber >= startFrom {
				selected = append(selected, &scenes[i])
			}
		}
		return selected, nil

	default:
		selected := make([]*models.Scene, len(scenes))
		for i := range scenes {
			selected[i] = &scenes[i]
		}
		return selected, nil
	}
}

func (o *Orchestrator) resetStates(selected []*models.Scene) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = make(map[int]models.SceneState, len(selected))
	for _, scene := range selected {
		o.states[scene.SceneNumber] = models.StatePending
	}
}

// process runs one scene through the state machine and never returns an
// error: every failure mode is folded into the outcome.
func (o *Orchestrator) process(ctx context.Context, scene *models.Scene, byNumber map[int]*models.Scene, sceneCount int, mode string) models.ProcessingOutcome {
	outcome := models.ProcessingOutcome{
		SceneNumber: scene.SceneNumber,
		SceneTitle:  scene.Title,
	}

	log := o.logger.WithFields(map[string]interface{}{"sceneNumber": scene.SceneNumber})
	start := time.Now()
	metrics.ScenesActive.Inc()
	defer metrics.ScenesActive.Dec()

	fail := func(state models.SceneState, stdErr *stderrors.StandardError) models.ProcessingOutcome {
		o.setState(scene.SceneNumber, models.StateFailed)
		outcome.State = models.StateFailed
		outcome.ErrorCode = string(stdErr.Code)
		metrics.ScenesFailed.WithLabelValues(mode, string(stdErr.Code)).Inc()
		if o.obs != nil {
			o.obs.RecordSceneProcessed(ctx, string(models.StateFailed))
			o.obs.RecordSceneDuration(ctx, time.Since(start), string(models.StateFailed))
		}
		log.Warn("scene failed", map[string]interface{}{
			"state":     string(state),
			"errorCode": string(stdErr.Code),
			"details":   stdErr.Details,
		})
		return outcome
	}

	// --- FetchingContext ---
	o.setState(scene.SceneNumber, models.StateFetchingContext)
	stageStart := time.Now()
	outline := o.prompts.BuildStoryOutline(sceneCount)
	previous := o.previousContext(ctx, scene, byNumber)
	next := nextContext(scene, byNumber)
	metrics.StageDuration.WithLabelValues("fetching_context").Observe(time.Since(stageStart).Seconds())

	// --- QueryingExperts ---
	o.setState(scene.SceneNumber, models.StateQueryingExperts)
	stageStart = time.Now()
	queries := make(map[string]string)
	for _, source := range o.experts.SourceNames() {
		queries[source] = o.prompts.BuildExpertQuery(scene, source, outline, previous, next)
	}
	expertCtx, cancelExperts := context.WithTimeout(ctx, o.config.ExpertTimeout)
	results := o.experts.QueryAll(expertCtx, queries)
	cancelExperts()
	metrics.StageDuration.WithLabelValues("querying_experts").Observe(time.Since(stageStart).Seconds())
	outcome.ExpertCount = len(results)

	if len(results) == 0 {
		return fail(models.StateQueryingExperts, stderrors.NewAllExpertsFailedError(scene.SceneNumber))
	}

	// --- Synthesizing ---
	o.setState(scene.SceneNumber, models.StateSynthesizing)
	stageStart = time.Now()
	sources := make([]string, len(results))
	for i, r := range results {
		sources[i] = r.Source
	}
	systemPrompt := o.prompts.BuildSynthesisSystemPrompt(scene, outline, previous, next, sources)
	userPrompt := o.prompts.BuildSynthesisUserPrompt(results)

	synthCtx, cancelSynth := context.WithTimeout(ctx, o.config.SynthesisTimeout)
	blueprint, err := o.completion.Complete(synthCtx, systemPrompt, userPrompt)
	cancelSynth()
	if err != nil {
		// Degraded service, not fatal: fall back to the labeled
		// concatenation of the raw expert texts.
		stdErr := stderrors.NewSynthesisFailedError(err)
		if errors.Is(err, completion.ErrCompletionTimeout) {
			stdErr = stderrors.NewSynthesisTimeoutError()
		}
		blueprint = ConcatenateExpertResults(results)
		outcome.SynthesisFallback = true
		metrics.SynthesisFallbacks.Inc()
		log.Warn("synthesis failed, using expert concatenation", map[string]interface{}{
			"errorCode": string(stdErr.Code),
			"details":   stdErr.Details,
		})
	}
	metrics.StageDuration.WithLabelValues("synthesizing").Observe(time.Since(stageStart).Seconds())

	// --- Scoring ---
	o.setState(scene.SceneNumber, models.StateScoring)
	outcome.Confidence = ScoreConfidence(results)

	// --- Persisting ---
	o.setState(scene.SceneNumber, models.StatePersisting)
	stageStart = time.Now()
	if _, err := o.store.SaveBlueprint(ctx, scene.ID, models.SourceSynthesis, blueprint); err != nil {
		return fail(models.StatePersisting, stderrors.NewPersistenceFailedError(err))
	}
	for _, result := range results {
		// Audit rows are best-effort; the synthesis row is the scene's
		// durable output.
		if _, err := o.store.SaveBlueprint(ctx, scene.ID, result.Source, result.Response); err != nil {
			log.Warn("failed to persist expert audit row", map[string]interface{}{
				"source": result.Source,
				"error":  err.Error(),
			})
		}
	}
	metrics.StageDuration.WithLabelValues("persisting").Observe(time.Since(stageStart).Seconds())

	// Delta derivation completes before Done so the next scene's
	// context fetch can rely on the cache.
	delta, deltaFallback := o.deriveDelta(ctx, scene, blueprint)
	o.cache.Put(scene.SceneNumber, delta)
	outcome.DeltaFallback = deltaFallback

	o.setState(scene.SceneNumber, models.StateDone)
	outcome.State = models.StateDone
	metrics.ScenesCompleted.WithLabelValues(mode).Inc()
	if o.obs != nil {
		o.obs.RecordSceneProcessed(ctx, string(models.StateDone))
		o.obs.RecordSceneDuration(ctx, time.Since(start), string(models.StateDone))
	}

	log.Info("scene completed", map[string]interface{}{
		"expertCount":       outcome.ExpertCount,
		"synthesisFallback": outcome.SynthesisFallback,
		"deltaFallback":     outcome.DeltaFallback,
		"confidence":        outcome.Confidence.Overall,
		"durationMs":        time.Since(start).Milliseconds(),
	})

	return outcome
}

// previousContext resolves the feed-forward context for a scene: the
// predecessor's cached delta, a delta rebuilt from its persisted
// blueprint, its raw description, or "none" for the first scene.
func (o *Orchestrator) previousContext(ctx context.Context, scene *models.Scene, byNumber map[int]*models.Scene) string {
	prev, ok := byNumber[scene.SceneNumber-1]
	if !ok {
		return "none"
	}

	if delta, ok := o.cache.Get(prev.SceneNumber); ok {
		return fmt.Sprintf("Scene %d: %s\n\nDELTA SUMMARY:\n%s", prev.SceneNumber, prev.Title, delta)
	}

	// Cache miss with a persisted blueprint: resume runs land here for
	// the scene just below start_from.
	if bp, err := o.store.LatestBlueprint(ctx, prev.ID, models.SourceSynthesis); err == nil {
		delta, _ := o.deriveDelta(ctx, prev, bp.Content)
		o.cache.Put(prev.SceneNumber, delta)
		return fmt.Sprintf("Scene %d: %s\n\nDELTA SUMMARY:\n%s", prev.SceneNumber, prev.Title, delta)
	}

	return fmt.Sprintf("Scene %d: %s - %s", prev.SceneNumber, prev.Title, prev.Description)
}

// nextContext is always the raw description: the next scene has not
// been processed yet and cannot have a delta.
func nextContext(scene *models.Scene, byNumber map[int]*models.Scene) string {
	next, ok := byNumber[scene.SceneNumber+1]
	if !ok {
		return "none"
	}
	return fmt.Sprintf("Scene %d: %s - %s", next.SceneNumber, next.Title, next.Description)
}

// deriveDelta compresses a blueprint into the feed-forward digest,
// falling back to word truncation when the compression call fails.
func (o *Orchestrator) deriveDelta(ctx context.Context, scene *models.Scene, blueprint string) (string, bool) {
	prompt := o.prompts.BuildDeltaPrompt(scene, blueprint, o.config.DeltaTargetWords)

	deltaCtx, cancel := context.WithTimeout(ctx, o.config.DeltaTimeout)
	defer cancel()

	delta, err := o.completion.Complete(deltaCtx, "", prompt)
	if err != nil {
		stdErr := stderrors.NewDeltaCompressionFailedError(scene.SceneNumber, err)
		o.logger.Warn("delta compression failed, truncating blueprint", map[string]interface{}{
			"errorCode": string(stdErr.Code),
			"details":   stdErr.Details,
		})
		return TruncateWords(blueprint, o.config.DeltaTargetWords), true
	}
	return delta, false
}
