package understanding

import (
	"strings"

	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// Lexicons are bilingual (Japanese primary, English secondary). They are
// matched against the lowercased message.

var urgencyLexicon = map[protocol.Urgency][]string{
	protocol.UrgencyCritical: {
		"緊急", "至急", "今すぐ", "大至急", "emergency", "urgent", "asap", "immediately",
	},
	protocol.UrgencyHigh: {
		"急ぎ", "早めに", "今日中", "なるはや", "quickly", "soon", "today",
	},
	protocol.UrgencyMedium: {
		"明日まで", "今週中", "this week", "by tomorrow",
	},
}

var emotionLexicon = map[protocol.Emotion][]string{
	protocol.EmotionNegative: {
		"困った", "困って", "大変", "つらい", "辛い", "不安", "イライラ", "最悪",
		"疲れた", "しんどい", "ダメ", "できない", "frustrated", "upset", "terrible",
		"worried", "stressed", "angry",
	},
	protocol.EmotionPositive: {
		"嬉しい", "うれしい", "ありがとう", "助かる", "助かった", "最高", "楽しい",
		"よかった", "great", "thanks", "thank you", "awesome", "happy",
	},
}

// stopWords end any multi-step flow unconditionally.
var stopWords = []string{
	"やめる", "やめて", "キャンセル", "中断", "中止", "cancel", "stop", "quit",
}

// continuationMarkers signal "this short reply continues the current
// flow" during an in-flow interruption check.
var continuationMarkers = []string{
	"それで", "続き", "続けて", "はい", "ええ", "うん", "そう", "ok", "yes", "continue",
}

// contextExpressions are demonstratives resolved against the list
// context or the last assistant output.
var contextExpressions = []string{
	"これ", "それ", "あれ", "さっきの", "最初の", "最後の", "一番目", "this", "that", "the first", "the last",
}

// positiveAnswers and negativeAnswers parse confirmation replies.
var positiveAnswers = []string{
	"はい", "うん", "ええ", "お願い", "おねがい", "了解", "いいよ", "どうぞ", "yes", "ok", "sure", "yep",
}

var negativeAnswers = []string{
	"いいえ", "いや", "やめる", "やめて", "だめ", "ダメ", "不要", "no", "nope", "don't",
}

// DetectUrgency scans the message for urgency markers, highest first.
func DetectUrgency(text string) protocol.Urgency {
	lower := strings.ToLower(text)
	for _, level := range []protocol.Urgency{protocol.UrgencyCritical, protocol.UrgencyHigh, protocol.UrgencyMedium} {
		for _, marker := range urgencyLexicon[level] {
			if strings.Contains(lower, marker) {
				return level
			}
		}
	}
	return protocol.UrgencyLow
}

// DetectEmotion buckets the message; negative wins ties because a
// distressed user must never be missed.
func DetectEmotion(text string) protocol.Emotion {
	lower := strings.ToLower(text)
	for _, marker := range emotionLexicon[protocol.EmotionNegative] {
		if strings.Contains(lower, marker) {
			return protocol.EmotionNegative
		}
	}
	for _, marker := range emotionLexicon[protocol.EmotionPositive] {
		if strings.Contains(lower, marker) {
			return protocol.EmotionPositive
		}
	}
	return protocol.EmotionNeutral
}

// IsStopWord reports whether the message is an unconditional flow abort.
func IsStopWord(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	for _, w := range stopWords {
		if trimmed == w || strings.HasPrefix(trimmed, w) {
			return true
		}
	}
	return false
}

// IsContinuation reports whether the message reads as a continuation of
// an in-progress flow.
func IsContinuation(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, m := range continuationMarkers {
		if strings.HasPrefix(lower, m) {
			return true
		}
	}
	return false
}

// HasContextExpression reports whether the message references earlier
// output ("さっきの", "the first").
func HasContextExpression(text string) bool {
	lower := strings.ToLower(text)
	for _, expr := range contextExpressions {
		if strings.Contains(lower, expr) {
			return true
		}
	}
	return false
}

// ParseConfirmation classifies a reply in a confirmation flow.
// Returns "yes", "no" or "" when the answer is unparseable.
func ParseConfirmation(text string) string {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return ""
	}
	for _, w := range negativeAnswers {
		if strings.HasPrefix(trimmed, strings.ToLower(w)) {
			return "no"
		}
	}
	for _, w := range positiveAnswers {
		if strings.HasPrefix(trimmed, strings.ToLower(w)) {
			return "yes"
		}
	}
	return ""
}
