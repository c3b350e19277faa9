package understanding

import (
	"strings"

	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// Pronoun resolution searches the recent conversation window backwards
// for person mentions. Distance decides confidence: the nearest third of
// the window scores 1.0, the middle 0.7, the far third 0.4. Resolutions
// below the floor are dropped rather than guessed.
const pronounConfidenceFloor = 0.7

var personPronouns = []string{
	"彼女", "彼", "あの人", "その人", "例の人", "she", "he", "they", "that person",
}

// honorifics stripped from name mentions before matching.
var honorifics = []string{"さん", "くん", "君", "ちゃん", "様", "さま", "氏", "先生", "部長", "課長", "社長"}

// StripHonorific removes a trailing honorific from a name mention.
func StripHonorific(name string) string {
	trimmed := strings.TrimSpace(name)
	for _, h := range honorifics {
		if strings.HasSuffix(trimmed, h) && len(trimmed) > len(h) {
			return strings.TrimSuffix(trimmed, h)
		}
	}
	return trimmed
}

// MatchPerson finds the person whose name or alias appears in the text,
// honorifics stripped. Exact containment only; no phonetic guessing.
func MatchPerson(text string, persons []memory.Person) (*memory.Person, bool) {
	stripped := StripHonorific(text)
	for i := range persons {
		p := &persons[i]
		if p.Name != "" && (strings.Contains(stripped, p.Name) || strings.Contains(text, p.Name)) {
			return p, true
		}
		for _, alias := range p.Aliases {
			if alias != "" && strings.Contains(stripped, alias) {
				return p, true
			}
		}
	}
	return nil, false
}

// ResolvePronouns maps person pronouns in the message to recently
// mentioned persons. The most recent mention wins; unresolvable pronouns
// are omitted from the result entirely.
func ResolvePronouns(text string, conversation []memory.ConversationEntry, persons []memory.Person) []protocol.PronounResolution {
	var found []string
	for _, pr := range personPronouns {
		if strings.Contains(text, pr) {
			found = append(found, pr)
		}
	}
	if len(found) == 0 || len(conversation) == 0 {
		return nil
	}

	var out []protocol.PronounResolution
	for _, pronoun := range found {
		referent, confidence := nearestPersonMention(conversation, persons)
		if referent == "" || confidence < pronounConfidenceFloor {
			continue
		}
		out = append(out, protocol.PronounResolution{
			Pronoun:    pronoun,
			Referent:   referent,
			Confidence: confidence,
		})
	}
	return out
}

// nearestPersonMention walks the window newest-first and returns the
// first person mention with its distance-derived confidence.
func nearestPersonMention(conversation []memory.ConversationEntry, persons []memory.Person) (string, float64) {
	n := len(conversation)
	for i := n - 1; i >= 0; i-- {
		entry := conversation[i]
		person, ok := MatchPerson(entry.Text, persons)
		if !ok {
			// A named sender also counts as a mention.
			person, ok = MatchPerson(entry.Sender, persons)
		}
		if !ok {
			continue
		}
		return person.Name, distanceConfidence(n-1-i, n)
	}
	return "", 0
}

func distanceConfidence(distance, window int) float64 {
	if window <= 0 {
		return 0
	}
	third := (window + 2) / 3
	switch {
	case distance < third:
		return 1.0
	case distance < 2*third:
		return 0.7
	default:
		return 0.4
	}
}
