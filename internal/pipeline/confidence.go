// internal/pipeline/confidence.go
package pipeline

import (
	"strings"

	"lizzy-pipeline/internal/models"
)

const (
	minKeywordLength  = 5  // keywords are words longer than this
	keywordsPerExpert = 50 // first N distinct keywords per response
)

// ScoreConfidence measures expert agreement for one scene. Agreement is
// the mean pairwise Jaccard similarity over each response's significant
// keywords; diversity is its complement; overall rewards a balance
// between consensus and spread. With fewer than two results confidence
// is undefined and every score is zero.
func ScoreConfidence(results []models.ExpertResult) models.ConfidenceScore {
	if len(results) < 2 {
		return models.ConfidenceScore{}
	}

	keywordSets := make([]map[string]struct{}, 0, len(results))
	for _, result := range results {
		keywordSets = append(keywordSets, extractKeywords(result.Response))
	}

	var agreements []float64
	for i := 0; i < len(keywordSets); i++ {
		for j := i + 1; j < len(keywordSets); j++ {
			if sim, ok := jaccard(keywordSets[i], keywordSets[j]); ok {
				agreements = append(agreements, sim)
			}
		}
	}

	agreement := 0.0
	if len(agreements) > 0 {
		sum := 0.0
		for _, a := range agreements {
			sum += a
		}
		agreement = sum / float64(len(agreements))
	}

	diversity := 1.0 - agreement

	// Both extremes reduce usefulness: pure agreement means redundant
	// experts, pure disagreement means no usable consensus.
	overall := agreement*0.6 + (1.0-abs(diversity-0.5)*2)*0.4
	overall = clamp01(overall)

	return models.ConfidenceScore{
		Agreement: clamp01(agreement),
		Diversity: clamp01(diversity),
		Overall:   overall,
	}
}

// extractKeywords takes the first keywordsPerExpert distinct lowercased
// words longer than minKeywordLength, in order of appearance.
func extractKeywords(response string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(response)) {
		if len(word) <= minKeywordLength {
			continue
		}
		if _, seen := keywords[word]; seen {
			continue
		}
		keywords[word] = struct{}{}
		if len(keywords) >= keywordsPerExpert {
			break
		}
	}
	return keywords
}

func jaccard(a, b map[string]struct{}) (float64, bool) {
	union := len(a)
	intersection := 0
	for word := range b {
		if _, ok := a[word]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0, false
	}
	return float64(intersection) / float64(union), true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
