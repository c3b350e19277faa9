package understanding

import (
	"strings"

	"github.com/kokoro-ai/kokoro/pkg/capability"
)

// Keyword match weights. Primary keywords carry the capability's core
// vocabulary; secondary ones are supporting signals.
const (
	primaryWeight   = 1.0
	secondaryWeight = 0.4
	negativeWeight  = 0.8
)

// ScoreKeywords computes the raw keyword score of one message against
// one capability, clamped to [0, 1]. Matching is substring-based so
// Japanese text needs no tokenizer.
func ScoreKeywords(text string, cap *capability.Capability) float64 {
	lower := strings.ToLower(text)

	score := 0.0
	for _, kw := range cap.PrimaryKeywords {
		if kw != "" && strings.Contains(lower, kw) {
			score += primaryWeight
		}
	}
	for _, kw := range cap.SecondaryKeywords {
		if kw != "" && strings.Contains(lower, kw) {
			score += secondaryWeight
		}
	}
	for _, kw := range cap.NegativeKeywords {
		if kw != "" && strings.Contains(lower, kw) {
			score -= negativeWeight
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ScoreAll scores the message against every catalog capability.
func ScoreAll(text string, catalog *capability.Catalog) map[string]float64 {
	scores := make(map[string]float64, catalog.Count())
	for _, cap := range catalog.List() {
		scores[cap.Name] = ScoreKeywords(text, cap)
	}
	return scores
}

// TopScore returns the best-scoring capability and its score. The
// fallback capability never wins on keywords alone; it wins by default
// when nothing else clears the floor.
func TopScore(scores map[string]float64) (string, float64) {
	best, bestScore := "", -1.0
	for name, score := range scores {
		if name == capability.GeneralConversation {
			continue
		}
		if score > bestScore || (score == bestScore && name < best) {
			best, bestScore = name, score
		}
	}
	if best == "" {
		return capability.GeneralConversation, 0
	}
	return best, bestScore
}
