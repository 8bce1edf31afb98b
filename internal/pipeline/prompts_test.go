// internal/pipeline/prompts_test.go
package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"lizzy-pipeline/internal/models"
)

// ==========================================
// TEST HELPERS
// ==========================================

func createTestPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		Project:   "The Long Night",
		Genre:     "thriller",
		Logline:   "A detective races to stop a killer before sunrise.",
		Framework: "Apply three-act structure with escalating midpoint reversals.",
	}
}

func createTestScene() *models.Scene {
	return &models.Scene{
		ID:          5,
		SceneNumber: 5,
		Title:       "The Warehouse",
		Description: "The detective corners the informant among shipping crates.",
		Characters:  "Mara, Voss",
		Act:         1,
	}
}

// ==========================================
// OUTLINE AND CONTEXT
// ==========================================

func TestBuildStoryOutline(t *testing.T) {
	builder := createTestPromptBuilder()

	outline := builder.BuildStoryOutline(30)

	assert.Contains(t, outline, "PROJECT: The Long Night")
	assert.Contains(t, outline, "GENRE: thriller")
	assert.Contains(t, outline, "LOGLINE: A detective races")
	assert.Contains(t, outline, "STRUCTURE: 30 scenes")
}

func TestBuildStoryOutline_OmitsEmptyFields(t *testing.T) {
	builder := &PromptBuilder{Project: "Untitled"}

	outline := builder.BuildStoryOutline(12)

	assert.Contains(t, outline, "PROJECT: Untitled")
	assert.NotContains(t, outline, "GENRE")
	assert.NotContains(t, outline, "LOGLINE")
}

// ==========================================
// EXPERT QUERIES
// ==========================================

func TestBuildExpertQuery_KnownSources(t *testing.T) {
	builder := createTestPromptBuilder()
	scene := createTestScene()
	outline := builder.BuildStoryOutline(30)

	tests := []struct {
		source   string
		persona  string
		sections []string
	}{
		{
			source:   "structure",
			persona:  "SCREENPLAY STRUCTURE AND CRAFT EXPERT",
			sections: []string{"STRUCTURAL_FUNCTION", "BEAT_ENGINEERING", "PACING_AND_TRANSITIONS"},
		},
		{
			source:   "pattern",
			persona:  "CLASSICAL DRAMATIC THEORY EXPERT",
			sections: []string{"DIALOGUE_DYNAMICS", "CHARACTER_PSYCHOLOGY", "DRAMATIC_TECHNIQUE"},
		},
		{
			source:   "reference",
			persona:  "MODERN EXECUTION EXPERT",
			sections: []string{"VISUAL_STORYTELLING", "PACING_AND_RHYTHM", "EXECUTION_NOTES"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			query := builder.BuildExpertQuery(scene, tt.source, outline, "previous delta", "next description")

			assert.Contains(t, query, tt.persona)
			for _, section := range tt.sections {
				assert.Contains(t, query, "## "+section)
			}
			assert.Contains(t, query, "Scene 5: The Warehouse")
			assert.Contains(t, query, "Previous: previous delta")
			assert.Contains(t, query, "Next: next description")
			assert.Contains(t, query, "OUTPUT REQUIREMENTS")
			assert.Contains(t, query, builder.Framework)
		})
	}
}

func TestBuildExpertQuery_UnknownSourceFallsBackToGeneric(t *testing.T) {
	builder := createTestPromptBuilder()
	scene := createTestScene()

	query := builder.BuildExpertQuery(scene, "folklore", "outline", "", "")

	assert.Contains(t, query, "You are a FOLKLORE EXPERT")
	assert.Contains(t, query, "Provide concrete, executable guidance")
	assert.NotContains(t, query, "## STRUCTURAL_FUNCTION")
}

func TestBuildExpertQuery_FirstSceneHasNoPrevious(t *testing.T) {
	builder := createTestPromptBuilder()
	scene := createTestScene()

	query := builder.BuildExpertQuery(scene, "structure", "outline", "", "Scene 6: next")

	assert.Contains(t, query, "Previous: none")
}

func TestContextSection_DefaultsCharacters(t *testing.T) {
	builder := createTestPromptBuilder()
	scene := createTestScene()
	scene.Characters = ""

	section := builder.contextSection(scene, "outline", "prev", "next")

	assert.Contains(t, section, "Characters: main characters")
}

// ==========================================
// SYNTHESIS PROMPTS
// ==========================================

func TestBuildSynthesisSystemPrompt(t *testing.T) {
	builder := createTestPromptBuilder()
	scene := createTestScene()

	prompt := builder.BuildSynthesisSystemPrompt(scene, "outline", "prev", "next",
		[]string{"structure", "pattern"})

	assert.Contains(t, prompt, "MASTER CONSULTANT")
	assert.Contains(t, prompt, "EXPERT CONSULTATIONS: structure, pattern")
	assert.Contains(t, prompt, "EXECUTIVE_SUMMARY")
	assert.Contains(t, prompt, builder.Framework)
}

func TestBuildSynthesisUserPrompt(t *testing.T) {
	builder := createTestPromptBuilder()

	prompt := builder.BuildSynthesisUserPrompt([]models.ExpertResult{
		{Source: "structure", Response: "structural advice"},
		{Source: "pattern", Response: "pattern advice"},
	})

	assert.Contains(t, prompt, "=== STRUCTURE EXPERT ANALYSIS ===\nstructural advice")
	assert.Contains(t, prompt, "=== PATTERN EXPERT ANALYSIS ===\npattern advice")
	assert.Contains(t, prompt, "Synthesize these expert perspectives")
}

// ==========================================
// DELTA AND FALLBACKS
// ==========================================

func TestBuildDeltaPrompt(t *testing.T) {
	builder := createTestPromptBuilder()
	scene := createTestScene()

	prompt := builder.BuildDeltaPrompt(scene, "full blueprint text", 350)

	assert.Contains(t, prompt, "350-token DELTA SUMMARY")
	assert.Contains(t, prompt, "Scene 5: The Warehouse")
	assert.Contains(t, prompt, "full blueprint text")
	assert.Contains(t, prompt, "(350 tokens max)")
}

func TestConcatenateExpertResults(t *testing.T) {
	concatenated := ConcatenateExpertResults([]models.ExpertResult{
		{Source: "structure", Response: "first"},
		{Source: "reference", Response: "second"},
	})

	assert.Contains(t, concatenated, "=== STRUCTURE ===\nfirst")
	assert.Contains(t, concatenated, "=== REFERENCE ===\nsecond")

	// Deterministic: same input, same output.
	assert.Equal(t, concatenated, ConcatenateExpertResults([]models.ExpertResult{
		{Source: "structure", Response: "first"},
		{Source: "reference", Response: "second"},
	}))
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		limit    int
		expected string
	}{
		{name: "under limit untouched", text: "one two three", limit: 5, expected: "one two three"},
		{name: "at limit untouched", text: "one two three", limit: 3, expected: "one two three"},
		{name: "over limit truncated", text: "one two three four", limit: 2, expected: "one two..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncateWords(tt.text, tt.limit))
		})
	}
}

func TestTruncateWords_LongBlueprint(t *testing.T) {
	blueprint := strings.Repeat("word ", 500)

	truncated := TruncateWords(blueprint, 250)

	assert.Len(t, strings.Fields(truncated), 250)
	assert.True(t, strings.HasSuffix(truncated, "..."))
}
