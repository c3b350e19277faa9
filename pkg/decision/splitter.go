package decision

import (
	"strings"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/understanding"
)

// Connectors that join sequential requests. Longer connectors are listed
// first so "してから" wins over a bare "して".
var sequenceConnectors = []string{
	"してから",
	"、それから",
	"それから",
	"、そして",
	"そして",
	" and then ",
	" then ",
}

// splitPlan detects a compound request and maps each segment to an
// action. It returns nil unless at least two segments resolve to
// distinct concrete capabilities; ambiguous compounds run as one turn.
func (e *Engine) splitPlan(tc *protocol.Context, ur protocol.UnderstandingResult) []protocol.PlannedAction {
	if !e.multiplan {
		return nil
	}

	segments := splitSegments(tc.Message.Text)
	if len(segments) < 2 {
		return nil
	}

	var plan []protocol.PlannedAction
	for _, seg := range segments {
		scores := understanding.ScoreAll(seg.text, e.catalog)
		name, score := understanding.TopScore(scores)
		if name == capability.GeneralConversation || score < e.floor {
			return nil
		}
		plan = append(plan, protocol.PlannedAction{
			Action: name,
			Params: map[string]any{"segment": seg.text},
			Offset: seg.offset,
		})
	}
	if len(plan) < 2 {
		return nil
	}

	// Execution order follows message order; the byte offset is the
	// deterministic tiebreak.
	for i := 1; i < len(plan); i++ {
		for j := i; j > 0 && plan[j].Offset < plan[j-1].Offset; j-- {
			plan[j], plan[j-1] = plan[j-1], plan[j]
		}
	}
	return plan
}

type segment struct {
	text   string
	offset int
}

// splitSegments cuts the message at the first-matching connector chain.
func splitSegments(text string) []segment {
	segments := []segment{{text: text, offset: 0}}

	for _, conn := range sequenceConnectors {
		var next []segment
		for _, seg := range segments {
			parts := strings.Split(seg.text, conn)
			if len(parts) == 1 {
				next = append(next, seg)
				continue
			}
			offset := seg.offset
			for _, part := range parts {
				trimmed := strings.TrimSpace(part)
				if trimmed != "" {
					lead := len(part) - len(strings.TrimLeft(part, " \t"))
					next = append(next, segment{text: trimmed, offset: offset + lead})
				}
				offset += len(part) + len(conn)
			}
		}
		segments = next
	}
	return segments
}
