// cmd/pipeline-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lizzy-pipeline/internal/common/config"
	"lizzy-pipeline/internal/common/database"
	stderrors "lizzy-pipeline/internal/common/errors"
	"lizzy-pipeline/internal/common/logger"
	"lizzy-pipeline/internal/common/observability"
	"lizzy-pipeline/internal/common/validation"
	"lizzy-pipeline/internal/completion"
	"lizzy-pipeline/internal/experts"
	"lizzy-pipeline/internal/models"
	"lizzy-pipeline/internal/pipeline"
	"lizzy-pipeline/internal/store"
)

const usage = `Usage: pipeline-manager <command> [flags]

Commands:
  run       process scenes through the expert/synthesis pipeline
  estimate  forecast token spend, cost and time for a run
  seed      import a JSON outline document into the scene store
  status    show per-scene blueprint coverage
`

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	switch os.Args[1] {
	case "run":
		runCommand(cfg, zapLog, log, os.Args[2:])
	case "estimate":
		estimateCommand(cfg, zapLog, log, os.Args[2:])
	case "seed":
		seedCommand(cfg, zapLog, log, os.Args[2:])
	case "status":
		statusCommand(cfg, zapLog, log, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// ==========================================
// RUN
// ==========================================

func runCommand(cfg *config.Config, zapLog *zap.Logger, log logger.Logger, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	startFrom := fs.Int("start-from", 0, "resume from this scene number")
	sceneList := fs.String("scenes", "", "comma-separated scene numbers to regenerate")
	fs.Parse(args)

	req, err := buildRunRequest(*startFrom, *sceneList)
	if err != nil {
		zapLog.Fatal("invalid run flags", zap.Error(err))
	}

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	pg := connectPostgres(ctx, cfg, zapLog)
	defer pg.Close()

	redisClient := connectRedis(ctx, cfg, zapLog)
	defer redisClient.Close()

	sceneStore := store.NewSceneStore(pg.DB, log)
	if err := sceneStore.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("schema initialization failed", zap.Error(err))
	}

	expertClient := experts.NewClient(expertsConfig(cfg), &expertLoggerAdapter{log})
	completionClient := completion.NewClient(completionConfig(cfg), &completionLoggerAdapter{log})

	prompts := &pipeline.PromptBuilder{
		Project:   cfg.Pipeline.Project,
		Genre:     cfg.Pipeline.Genre,
		Logline:   cfg.Pipeline.Logline,
		Framework: cfg.Pipeline.Framework,
	}

	hostname, _ := os.Hostname()
	runLock := pipeline.NewRunLock(
		redisClient.Client,
		cfg.Pipeline.RunLockKey,
		config.GetDuration(cfg.Pipeline.RunLockTTL),
		fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	)

	orchCfg := pipeline.DefaultConfig()
	orchCfg.DeltaTargetWords = cfg.Pipeline.DeltaTargetTokens
	// Stage bounds: the per-source/per-call client timeouts plus headroom
	// for retries and scheduling.
	orchCfg.ExpertTimeout = config.GetDuration(cfg.Experts.Timeout) + 10*time.Second
	orchCfg.SynthesisTimeout = config.GetDuration(cfg.Completion.Timeout) + 10*time.Second

	orch := pipeline.NewOrchestrator(orchCfg, sceneStore, expertClient, completionClient,
		prompts, runLock, obs, log)

	// Print the forecast before committing to the spend.
	scenes, err := sceneStore.ListScenes(ctx)
	if err != nil {
		zapLog.Fatal("failed to list scenes", zap.Error(err))
	}
	printEstimate(runEstimate(cfg, len(scenes), req))

	startMetricsServer(cfg, zapLog)

	// First signal requests a stop at the next scene boundary; the scene
	// in flight still finishes. A second signal kills the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		zapLog.Info("Shutdown signal received, stopping after current scene...")
		orch.RequestCancel()
		<-sigCh
		zapLog.Fatal("second signal received, aborting")
	}()

	report, err := orch.Run(ctx, req)
	if err != nil {
		code := stderrors.CodeOf(err)
		zapLog.Fatal("run failed",
			zap.String("code", string(code)),
			zap.String("category", stderrors.GetErrorCategory(code)),
			zap.Bool("retryable", stderrors.IsRetryableErrorCode(code)),
			zap.Error(err))
	}

	printReport(report)
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func buildRunRequest(startFrom int, sceneList string) (models.RunRequest, error) {
	if sceneList != "" {
		if startFrom > 0 {
			return models.RunRequest{}, fmt.Errorf("-scenes and -start-from are mutually exclusive")
		}
		var numbers []int
		for _, part := range strings.Split(sceneList, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 1 {
				return models.RunRequest{}, fmt.Errorf("invalid scene number %q", part)
			}
			numbers = append(numbers, n)
		}
		return models.RunRequest{Mode: models.ModeRegenerate, SceneNumbers: numbers}, nil
	}

	if startFrom > 1 {
		return models.RunRequest{Mode: models.ModeResume, StartFrom: startFrom}, nil
	}
	return models.RunRequest{Mode: models.ModeFull}, nil
}

func printReport(report *models.RunReport) {
	fmt.Printf("\nRun %s (%s)\n", report.RunID, report.Mode)
	for _, outcome := range report.Outcomes {
		line := fmt.Sprintf("  scene %2d  %-7s", outcome.SceneNumber, outcome.State)
		if outcome.State == models.StateDone {
			line += fmt.Sprintf("  experts=%d confidence=%.2f", outcome.ExpertCount, outcome.Confidence.Overall)
			if outcome.SynthesisFallback {
				line += "  (synthesis fallback)"
			}
		} else {
			line += "  " + outcome.ErrorCode
		}
		fmt.Println(line)
	}
	fmt.Printf("completed=%d failed=%d lastCompleted=%d cancelled=%v\n",
		report.Completed, report.Failed, report.LastCompleted, report.Cancelled)
}

// ==========================================
// ESTIMATE
// ==========================================

func estimateCommand(cfg *config.Config, zapLog *zap.Logger, log logger.Logger, args []string) {
	fs := flag.NewFlagSet("estimate", flag.ExitOnError)
	sceneCount := fs.Int("scene-count", 0, "number of scenes (default: count from the store)")
	startFrom := fs.Int("start-from", 1, "first scene to process")
	sceneList := fs.String("scenes", "", "comma-separated scene numbers to regenerate")
	fs.Parse(args)

	numScenes := *sceneCount
	if numScenes == 0 {
		ctx := context.Background()
		pg := connectPostgres(ctx, cfg, zapLog)
		defer pg.Close()

		scenes, err := store.NewSceneStore(pg.DB, log).ListScenes(ctx)
		if err != nil {
			zapLog.Fatal("failed to list scenes", zap.Error(err))
		}
		numScenes = len(scenes)
	}

	req, err := buildRunRequest(*startFrom, *sceneList)
	if err != nil {
		zapLog.Fatal("invalid estimate flags", zap.Error(err))
	}

	printEstimate(runEstimate(cfg, numScenes, req))
}

func runEstimate(cfg *config.Config, numScenes int, req models.RunRequest) models.CostEstimate {
	estimator := pipeline.NewEstimator(cfg.Estimator)
	if req.Mode == models.ModeRegenerate {
		return estimator.EstimateRegeneration(numScenes, req.SceneNumbers)
	}
	startFrom := req.StartFrom
	if startFrom < 1 {
		startFrom = 1
	}
	return estimator.Estimate(numScenes, startFrom)
}

func printEstimate(estimate models.CostEstimate) {
	fmt.Printf("Scenes to process: %d\n", estimate.ScenesToProcess)
	fmt.Printf("Estimated tokens:  %d\n", estimate.TotalTokens)
	fmt.Printf("Estimated cost:    $%.4f ($%.4f/scene)\n", estimate.EstimatedCost, estimate.CostPerScene)
	fmt.Printf("  synthesis input:  $%.4f\n", estimate.CostBreakdown.SynthesisInput)
	fmt.Printf("  synthesis output: $%.4f\n", estimate.CostBreakdown.SynthesisOutput)
	fmt.Printf("  expert queries:   $%.4f\n", estimate.CostBreakdown.ExpertQueries)
	fmt.Printf("Estimated time:    %s\n", estimate.EstimatedTime)
}

// ==========================================
// SEED
// ==========================================

func seedCommand(cfg *config.Config, zapLog *zap.Logger, log logger.Logger, args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	outlinePath := fs.String("outline", "", "path to the JSON outline document")
	fs.Parse(args)

	if *outlinePath == "" {
		zapLog.Fatal("seed requires -outline")
	}

	document, err := os.ReadFile(*outlinePath)
	if err != nil {
		zapLog.Fatal("failed to read outline", zap.Error(err))
	}

	outline, err := validation.ParseOutline(document)
	if err != nil {
		zapLog.Fatal("outline rejected", zap.Error(stderrors.NewOutlineInvalidError(err.Error())))
	}

	ctx := context.Background()
	pg := connectPostgres(ctx, cfg, zapLog)
	defer pg.Close()

	sceneStore := store.NewSceneStore(pg.DB, log)
	if err := sceneStore.EnsureSchema(ctx); err != nil {
		zapLog.Fatal("schema initialization failed", zap.Error(err))
	}

	scenes := make([]models.Scene, len(outline.Scenes))
	for i, entry := range outline.Scenes {
		scenes[i] = models.Scene{
			SceneNumber: entry.SceneNumber,
			Title:       entry.Title,
			Description: entry.Description,
			Characters:  entry.Characters,
			Act:         entry.Act,
		}
	}

	inserted, err := sceneStore.ImportScenes(ctx, scenes)
	if err != nil {
		zapLog.Fatal("import failed", zap.Error(err))
	}

	fmt.Printf("Imported %d of %d scenes (existing scene numbers skipped)\n", inserted, len(scenes))
}

// ==========================================
// STATUS
// ==========================================

func statusCommand(cfg *config.Config, zapLog *zap.Logger, log logger.Logger, args []string) {
	ctx := context.Background()
	pg := connectPostgres(ctx, cfg, zapLog)
	defer pg.Close()

	sceneStore := store.NewSceneStore(pg.DB, log)

	scenes, err := sceneStore.ListScenes(ctx)
	if err != nil {
		zapLog.Fatal("failed to list scenes", zap.Error(err))
	}

	synthesized := 0
	for _, scene := range scenes {
		has, err := sceneStore.SceneHasSynthesis(ctx, scene.ID)
		if err != nil {
			zapLog.Fatal("status query failed", zap.Error(err))
		}
		marker := " "
		if has {
			marker = "x"
			synthesized++
		}
		fmt.Printf("  [%s] scene %2d  act %d  %s\n", marker, scene.SceneNumber, scene.Act, scene.Title)
	}
	fmt.Printf("%d/%d scenes have a synthesis blueprint\n", synthesized, len(scenes))
}

// ==========================================
// WIRING
// ==========================================

func connectPostgres(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) *database.PostgresClient {
	var pg *database.PostgresClient
	err := retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")
	return pg
}

func connectRedis(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) *database.RedisClient {
	var redisClient *database.RedisClient
	err := retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	zapLog.Info("Redis connected successfully")
	return redisClient
}

func expertsConfig(cfg *config.Config) *experts.Config {
	ecfg := experts.LoadConfig()
	for _, source := range cfg.Experts.Sources {
		ecfg.Sources = append(ecfg.Sources, experts.Source{
			Name:    source.Name,
			BaseURL: source.BaseURL,
		})
	}
	if cfg.Experts.QueryMode != "" {
		ecfg.QueryMode = cfg.Experts.QueryMode
	}
	if cfg.Experts.Timeout > 0 {
		ecfg.Timeout = config.GetDuration(cfg.Experts.Timeout)
	}
	if cfg.Experts.MaxRetries > 0 {
		ecfg.MaxRetries = cfg.Experts.MaxRetries
	}
	return ecfg
}

func completionConfig(cfg *config.Config) *completion.Config {
	ccfg := completion.LoadConfig()
	ccfg.BaseURL = cfg.Completion.BaseURL
	ccfg.APIKey = cfg.Completion.APIKey
	if cfg.Completion.Model != "" {
		ccfg.Model = cfg.Completion.Model
	}
	if cfg.Completion.Temperature > 0 {
		ccfg.Temperature = cfg.Completion.Temperature
	}
	if cfg.Completion.MaxTokens > 0 {
		ccfg.MaxTokens = cfg.Completion.MaxTokens
	}
	if cfg.Completion.Timeout > 0 {
		ccfg.Timeout = config.GetDuration(cfg.Completion.Timeout)
	}
	if cfg.Completion.MaxRetries > 0 {
		ccfg.MaxRetries = cfg.Completion.MaxRetries
	}
	return ccfg
}

func startMetricsServer(cfg *config.Config, zapLog *zap.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()
}

// Logger adapters for clients that define their own Logger interfaces
type expertLoggerAdapter struct {
	logger.Logger
}

func (a *expertLoggerAdapter) With(fields map[string]interface{}) experts.Logger {
	return &expertLoggerAdapter{a.Logger.With(fields)}
}

type completionLoggerAdapter struct {
	logger.Logger
}

func (a *completionLoggerAdapter) With(fields map[string]interface{}) completion.Logger {
	return &completionLoggerAdapter{a.Logger.With(fields)}
}
