// Package gate is the authorization step between deciding an action and
// executing it. It is a pure function of its inputs: no I/O, no clock,
// no randomness, so a decision can always be replayed from the audit
// record.
package gate

import (
	"strings"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// Request is everything the gate may consider.
type Request struct {
	Action     string
	Capability *capability.Capability // nil when the action is unknown
	Confidence float64
	Message    string
	Emotion    protocol.Emotion
	// Proactive marks gate traversals that originate from the system
	// rather than a user message.
	Proactive bool
}

// safetyPattern is a hard rule checked before the risk ladder. A match
// overrides whatever the ladder would have said.
type safetyPattern struct {
	name        string
	markers     []string
	level       protocol.AuthzLevel
	enforcement protocol.EnforcementAction
	redirect    string
}

// The pattern table is ordered; the first match wins.
var safetyPatterns = []safetyPattern{
	{
		// A distressed user gets listened to, not processed.
		name: "user_distress",
		markers: []string{
			"死にたい", "消えたい", "限界", "もう無理", "もうむり", "誰も分かってくれない",
			"want to die", "can't take it", "breaking down",
		},
		level:       protocol.AuthzRequireDoubleCheck,
		enforcement: protocol.EnforcementForceListening,
	},
	{
		// Requests to exfiltrate credentials or secrets are blocked.
		name: "secret_exfiltration",
		markers: []string{
			"パスワードを教えて", "パスワード教えて", "認証情報", "apiキー", "api key",
			"secret key", "アクセストークン", "access token", "credentials",
		},
		level:       protocol.AuthzRequireDoubleCheck,
		enforcement: protocol.EnforcementBlockAndSuggest,
		redirect:    "セキュリティ上の理由でお答えできません。管理者にご確認ください。",
	},
	{
		// Drafting public criticism of the company gets a warning, not
		// a block.
		name: "company_criticism",
		markers: []string{
			"会社を批判", "会社の悪口", "晒して", "内部告発して", "badmouth the company",
		},
		level:       protocol.AuthzRequireConfirmation,
		enforcement: protocol.EnforcementWarnOnly,
	},
}

// Evaluate runs the safety patterns, then the risk ladder. The returned
// decision is advisory for AUTO_APPROVE and binding otherwise.
func Evaluate(req Request) protocol.GateDecision {
	if d, matched := matchSafetyPatterns(req); matched {
		return d
	}

	// Unknown actions never auto-approve.
	if req.Capability == nil {
		return protocol.GateDecision{
			Level:       protocol.AuthzRequireConfirmation,
			Enforcement: protocol.EnforcementNone,
			Reason:      "unknown_capability",
		}
	}

	level := ladder(req.Capability.RiskLevel)

	// Low understanding confidence demotes an auto-approval.
	if level == protocol.AuthzAutoApprove && req.Confidence < 0.7 {
		return protocol.GateDecision{
			Level:       protocol.AuthzRequireConfirmation,
			Enforcement: protocol.EnforcementNone,
			Reason:      "low_confidence",
		}
	}

	if req.Capability.RequiresConfirmation && level == protocol.AuthzAutoApprove {
		level = protocol.AuthzRequireConfirmation
	}

	return protocol.GateDecision{
		Level:       level,
		Enforcement: protocol.EnforcementNone,
	}
}

func matchSafetyPatterns(req Request) (protocol.GateDecision, bool) {
	lower := strings.ToLower(req.Message)
	for _, p := range safetyPatterns {
		for _, marker := range p.markers {
			if strings.Contains(lower, strings.ToLower(marker)) {
				return protocol.GateDecision{
					Level:       p.level,
					Enforcement: p.enforcement,
					Pattern:     p.name,
					Redirect:    p.redirect,
					Reason:      "safety_pattern",
				}, true
			}
		}
	}
	return protocol.GateDecision{}, false
}

// ladder maps capability risk to the minimum authorization level.
func ladder(risk protocol.RiskLevel) protocol.AuthzLevel {
	switch risk {
	case protocol.RiskLow, protocol.RiskMedium:
		return protocol.AuthzAutoApprove
	case protocol.RiskHigh:
		return protocol.AuthzRequireConfirmation
	case protocol.RiskCritical:
		return protocol.AuthzRequireDoubleCheck
	default:
		// Unrecognized risk reads as the strictest level.
		return protocol.AuthzRequireDoubleCheck
	}
}
