// internal/store/scenestore.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lizzy-pipeline/internal/common/logger"
	"lizzy-pipeline/internal/models"
)

var (
	ErrSceneNotFound     = errors.New("SCENE_NOT_FOUND")
	ErrBlueprintNotFound = errors.New("BLUEPRINT_NOT_FOUND")
)

// SceneStore is the durable home of the project outline and every
// blueprint the pipeline produces. Blueprint rows are append-only.
type SceneStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewSceneStore(db *sql.DB, log logger.Logger) *SceneStore {
	return &SceneStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "scene-store"}),
	}
}

// EnsureSchema creates the scenes and blueprints tables if absent.
func (s *SceneStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scenes (
			id BIGSERIAL PRIMARY KEY,
			scene_number INT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			characters TEXT NOT NULL DEFAULT '',
			act INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS blueprints (
			id UUID PRIMARY KEY,
			scene_id BIGINT NOT NULL REFERENCES scenes(id),
			source_used TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blueprints_scene_source
			ON blueprints (scene_id, source_used, created_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Ping verifies the store is reachable.
func (s *SceneStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListScenes returns the full outline ordered by scene number.
func (s *SceneStore) ListScenes(ctx context.Context) ([]models.Scene, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scene_number, title, description, characters, act, created_at
		FROM scenes
		ORDER BY scene_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []models.Scene
	for rows.Next() {
		var sc models.Scene
		if err := rows.Scan(&sc.ID, &sc.SceneNumber, &sc.Title, &sc.Description,
			&sc.Characters, &sc.Act, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		scenes = append(scenes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	return scenes, nil
}

// GetScene returns one scene by its outline number.
func (s *SceneStore) GetScene(ctx context.Context, sceneNumber int) (*models.Scene, error) {
	var sc models.Scene
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scene_number, title, description, characters, act, created_at
		FROM scenes
		WHERE scene_number = $1`, sceneNumber).Scan(
		&sc.ID, &sc.SceneNumber, &sc.Title, &sc.Description,
		&sc.Characters, &sc.Act, &sc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: scene %d", ErrSceneNotFound, sceneNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("get scene %d: %w", sceneNumber, err)
	}
	return &sc, nil
}

// ImportScenes inserts outline scenes, skipping numbers that already
// exist. Returns how many rows were inserted.
func (s *SceneStore) ImportScenes(ctx context.Context, scenes []models.Scene) (int, error) {
	inserted := 0
	for _, sc := range scenes {
		act := sc.Act
		if act == 0 {
			act = models.ActForScene(sc.SceneNumber)
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO scenes (scene_number, title, description, characters, act)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (scene_number) DO NOTHING`,
			sc.SceneNumber, sc.Title, sc.Description, sc.Characters, act)
		if err != nil {
			return inserted, fmt.Errorf("import scene %d: %w", sc.SceneNumber, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

// SaveBlueprint appends one blueprint row and returns its generated ID.
func (s *SceneStore) SaveBlueprint(ctx context.Context, sceneID int64, sourceUsed, content string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blueprints (id, scene_id, source_used, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, sceneID, sourceUsed, content, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("save blueprint: %w", err)
	}
	return id, nil
}

// LatestBlueprint returns the most recent blueprint row for a scene and
// source. Regeneration appends rows, so newest wins.
func (s *SceneStore) LatestBlueprint(ctx context.Context, sceneID int64, sourceUsed string) (*models.Blueprint, error) {
	var bp models.Blueprint
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scene_id, source_used, content, created_at
		FROM blueprints
		WHERE scene_id = $1 AND source_used = $2
		ORDER BY created_at DESC
		LIMIT 1`, sceneID, sourceUsed).Scan(
		&bp.ID, &bp.SceneID, &bp.SourceUsed, &bp.Content, &bp.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: scene %d source %s", ErrBlueprintNotFound, sceneID, sourceUsed)
	}
	if err != nil {
		return nil, fmt.Errorf("latest blueprint: %w", err)
	}
	return &bp, nil
}

// ExpertResults returns every non-synthesis blueprint row for a scene,
// newest first. This is the per-expert audit trail.
func (s *SceneStore) ExpertResults(ctx context.Context, sceneID int64) ([]models.Blueprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scene_id, source_used, content, created_at
		FROM blueprints
		WHERE scene_id = $1 AND source_used <> $2
		ORDER BY created_at DESC`, sceneID, models.SourceSynthesis)
	if err != nil {
		return nil, fmt.Errorf("expert results: %w", err)
	}
	defer rows.Close()

	var results []models.Blueprint
	for rows.Next() {
		var bp models.Blueprint
		if err := rows.Scan(&bp.ID, &bp.SceneID, &bp.SourceUsed, &bp.Content, &bp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blueprint: %w", err)
		}
		results = append(results, bp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expert results: %w", err)
	}
	return results, nil
}

// SceneHasSynthesis reports whether a scene already has at least one
// synthesis blueprint. Resume mode uses this to find its start point.
func (s *SceneStore) SceneHasSynthesis(ctx context.Context, sceneID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM blueprints
		WHERE scene_id = $1 AND source_used = $2`,
		sceneID, models.SourceSynthesis).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("scene has synthesis: %w", err)
	}
	return count > 0, nil
}
