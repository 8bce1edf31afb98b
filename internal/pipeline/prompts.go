// internal/pipeline/prompts.go
package pipeline

import (
	"fmt"
	"strings"

	"lizzy-pipeline/internal/models"
)

// PromptBuilder assembles the expert, synthesis and delta prompts. The
// framework text is static configuration; everything else comes from
// the outline and the feed-forward context strings.
type PromptBuilder struct {
	Project   string
	Genre     string
	Logline   string
	Framework string
}

// expertSections maps each expert source to the section headings its
// persona is asked to fill in. Unknown sources get a generic ask.
var expertSections = map[string]struct {
	persona  string
	sections []string
}{
	"structure": {
		persona: "You are a SCREENPLAY STRUCTURE AND CRAFT EXPERT consulting on this project.",
		sections: []string{
			"## STRUCTURAL_FUNCTION\nPropose where this scene falls structurally and what beat it must hit.",
			"## BEAT_ENGINEERING\nAdvise which dramatic beats must occur within this scene.",
			"## PACING_AND_TRANSITIONS\nSpecify pacing requirements and transitions into and out of the scene.",
		},
	},
	"pattern": {
		persona: "You are a CLASSICAL DRAMATIC THEORY EXPERT consulting on this project.",
		sections: []string{
			"## DIALOGUE_DYNAMICS\nAdvise how to construct dialogue, subtext and power shifts.",
			"## CHARACTER_PSYCHOLOGY\nPropose each character's objective, tactics and obstacles.",
			"## DRAMATIC_TECHNIQUE\nRecommend dramatic tools to deploy: irony, reversal, recognition.",
		},
	},
	"reference": {
		persona: "You are a MODERN EXECUTION EXPERT consulting on this project.",
		sections: []string{
			"## VISUAL_STORYTELLING\nPropose visual approach, shot design and setting utilization.",
			"## PACING_AND_RHYTHM\nSpecify tempo, cutting and beat timing.",
			"## EXECUTION_NOTES\nIdentify execution risks, pitfalls and reference examples.",
		},
	},
}

// BuildStoryOutline renders the project-level context shared by every
// expert query and the synthesis prompt.
func (b *PromptBuilder) BuildStoryOutline(sceneCount int) string {
	var parts []string

	if b.Project != "" {
		parts = append(parts, fmt.Sprintf("PROJECT: %s", b.Project))
	}
	if b.Genre != "" {
		parts = append(parts, fmt.Sprintf("GENRE: %s", b.Genre))
	}
	if b.Logline != "" {
		parts = append(parts, fmt.Sprintf("LOGLINE: %s", b.Logline))
	}
	parts = append(parts, fmt.Sprintf("STRUCTURE: %d scenes", sceneCount))

	return strings.Join(parts, "\n")
}

// contextSection renders the scene plus its feed-forward context. The
// previous string is the predecessor's delta summary or raw description;
// "none" marks the first scene.
func (b *PromptBuilder) contextSection(scene *models.Scene, outline, previous, next string) string {
	characters := scene.Characters
	if characters == "" {
		characters = "main characters"
	}
	if previous == "" {
		previous = "none"
	}
	if next == "" {
		next = "none"
	}

	return fmt.Sprintf(`STORY OUTLINE:
%s

SCENE CONTEXT:
Scene %d: %s
Act: %d
Description: %s
Characters: %s

SURROUNDING SCENES:
Previous: %s
Next: %s`,
		outline, scene.SceneNumber, scene.Title, scene.Act,
		scene.Description, characters, previous, next)
}

// BuildExpertQuery renders the consultation query for one source.
func (b *PromptBuilder) BuildExpertQuery(scene *models.Scene, source, outline, previous, next string) string {
	var parts []string

	expert, known := expertSections[source]
	if known {
		parts = append(parts, expert.persona)
	} else {
		parts = append(parts, fmt.Sprintf("You are a %s EXPERT consulting on this project.", strings.ToUpper(source)))
	}

	if b.Framework != "" {
		parts = append(parts, b.Framework)
	}

	parts = append(parts, b.contextSection(scene, outline, previous, next))

	parts = append(parts, `**OUTPUT REQUIREMENTS:**
- Bullet points only (no paragraphs)
- Five to seven bullets per section
- Active, specific guidance (not theoretical analysis)

**DIRECTIVE:** Extend and critique the surrounding context; do not restate it.`)

	if known {
		parts = append(parts, expert.sections...)
	} else {
		parts = append(parts, "Provide concrete, executable guidance for writing this scene.")
	}

	return strings.Join(parts, "\n\n")
}

// BuildSynthesisSystemPrompt renders the system message for merging all
// expert results into one blueprint.
func (b *PromptBuilder) BuildSynthesisSystemPrompt(scene *models.Scene, outline, previous, next string, sources []string) string {
	var parts []string

	parts = append(parts, "You are a MASTER CONSULTANT synthesizing expert advice into one scene blueprint.")
	if b.Framework != "" {
		parts = append(parts, b.Framework)
	}
	parts = append(parts, b.contextSection(scene, outline, previous, next))

	parts = append(parts, fmt.Sprintf("EXPERT CONSULTATIONS: %s", strings.Join(sources, ", ")))

	parts = append(parts, `YOUR TASK:
Synthesize all expert perspectives into ONE comprehensive, actionable scene blueprint.
- If experts disagree, prioritize clarity and character truth
- Reference expert insights directly
- Bullet points only, five to seven per section
- Sections: EXECUTIVE_SUMMARY, STRUCTURAL_FUNCTION, DRAMATIC_BEATS, DIALOGUE_AND_SUBTEXT, CHARACTER_PSYCHOLOGY, PITFALLS_TO_AVOID`)

	return strings.Join(parts, "\n\n")
}

// BuildSynthesisUserPrompt renders the user message carrying the raw
// expert results.
func (b *PromptBuilder) BuildSynthesisUserPrompt(results []models.ExpertResult) string {
	sections := make([]string, 0, len(results)+1)
	for _, result := range results {
		sections = append(sections, fmt.Sprintf("=== %s EXPERT ANALYSIS ===\n%s",
			strings.ToUpper(result.Source), result.Response))
	}
	sections = append(sections, "---\n\nSynthesize these expert perspectives into a comprehensive scene blueprint using the exact format specified.")
	return strings.Join(sections, "\n\n")
}

// BuildDeltaPrompt renders the compression request that turns a full
// blueprint into a bounded feed-forward digest.
func (b *PromptBuilder) BuildDeltaPrompt(scene *models.Scene, blueprint string, targetTokens int) string {
	return fmt.Sprintf(`Compress this scene blueprint into a %d-token DELTA SUMMARY.

Focus on:
- What changed (character arcs, relationships, power dynamics)
- Key dramatic beats that occurred
- Emotional/tonal shifts
- Setup for next scene

Scene %d: %s

FULL BLUEPRINT:
%s

Provide a tight, bullet-point summary (%d tokens max) focusing on CHANGES and MOMENTUM.`,
		targetTokens, scene.SceneNumber, scene.Title, blueprint, targetTokens)
}

// ConcatenateExpertResults is the deterministic synthesis fallback: the
// raw expert texts labeled by source.
func ConcatenateExpertResults(results []models.ExpertResult) string {
	sections := make([]string, 0, len(results))
	for _, result := range results {
		sections = append(sections, fmt.Sprintf("=== %s ===\n%s",
			strings.ToUpper(result.Source), result.Response))
	}
	return strings.Join(sections, "\n\n")
}

// TruncateWords is the delta-compression fallback: the first limit
// words of the blueprint.
func TruncateWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[:limit], " ") + "..."
}
