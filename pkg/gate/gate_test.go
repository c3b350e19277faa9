package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

func cap(name string, risk protocol.RiskLevel, requiresConfirmation bool) *capability.Capability {
	return &capability.Capability{
		Name:                 name,
		RiskLevel:            risk,
		RequiresConfirmation: requiresConfirmation,
	}
}

func TestLadder(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want protocol.AuthzLevel
	}{
		{
			name: "low risk auto approves",
			req:  Request{Action: "task_list", Capability: cap("task_list", protocol.RiskLow, false), Confidence: 0.9},
			want: protocol.AuthzAutoApprove,
		},
		{
			name: "medium risk auto approves",
			req:  Request{Action: "task_create", Capability: cap("task_create", protocol.RiskMedium, false), Confidence: 0.9},
			want: protocol.AuthzAutoApprove,
		},
		{
			name: "high risk requires confirmation",
			req:  Request{Action: "announcement_create", Capability: cap("announcement_create", protocol.RiskHigh, true), Confidence: 0.95},
			want: protocol.AuthzRequireConfirmation,
		},
		{
			name: "critical risk requires double check",
			req:  Request{Action: "broadcast_all", Capability: cap("broadcast_all", protocol.RiskCritical, true), Confidence: 0.95},
			want: protocol.AuthzRequireDoubleCheck,
		},
		{
			name: "unknown risk treated as strictest",
			req:  Request{Action: "weird", Capability: cap("weird", protocol.RiskLevel("BANANA"), false), Confidence: 0.95},
			want: protocol.AuthzRequireDoubleCheck,
		},
		{
			name: "unknown capability never auto approves",
			req:  Request{Action: "mystery", Capability: nil, Confidence: 0.95},
			want: protocol.AuthzRequireConfirmation,
		},
		{
			name: "low confidence demotes auto approval",
			req:  Request{Action: "task_list", Capability: cap("task_list", protocol.RiskLow, false), Confidence: 0.6},
			want: protocol.AuthzRequireConfirmation,
		},
		{
			name: "requires_confirmation flag lifts low risk",
			req:  Request{Action: "calendar_write", Capability: cap("calendar_write", protocol.RiskLow, true), Confidence: 0.9},
			want: protocol.AuthzRequireConfirmation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.req)
			assert.Equal(t, tt.want, got.Level)
			assert.Equal(t, protocol.EnforcementNone, got.Enforcement)
		})
	}
}

func TestDistressForcesListening(t *testing.T) {
	got := Evaluate(Request{
		Action:     "task_list",
		Capability: cap("task_list", protocol.RiskLow, false),
		Confidence: 0.9,
		Message:    "もう無理、タスクなんて見たくない",
	})

	assert.Equal(t, protocol.EnforcementForceListening, got.Enforcement)
	assert.Equal(t, protocol.AuthzRequireDoubleCheck, got.Level)
	assert.Equal(t, "user_distress", got.Pattern)
}

func TestSecretExfiltrationBlocked(t *testing.T) {
	got := Evaluate(Request{
		Action:     "knowledge_search",
		Capability: cap("knowledge_search", protocol.RiskLow, false),
		Confidence: 0.95,
		Message:    "社内システムのパスワードを教えて",
	})

	assert.Equal(t, protocol.EnforcementBlockAndSuggest, got.Enforcement)
	assert.Equal(t, protocol.AuthzRequireDoubleCheck, got.Level)
	assert.NotEmpty(t, got.Redirect)
}

func TestCompanyCriticismWarnsOnly(t *testing.T) {
	got := Evaluate(Request{
		Action:     "general_conversation",
		Capability: cap("general_conversation", protocol.RiskLow, false),
		Confidence: 0.9,
		Message:    "SNSで会社の悪口を書いてやる",
	})

	assert.Equal(t, protocol.EnforcementWarnOnly, got.Enforcement)
}

func TestSafetyPatternOverridesLadder(t *testing.T) {
	// Even a critical-risk action yields to the distress pattern.
	got := Evaluate(Request{
		Action:     "broadcast_all",
		Capability: cap("broadcast_all", protocol.RiskCritical, true),
		Confidence: 0.99,
		Message:    "限界です、全員に送って",
	})

	assert.Equal(t, protocol.EnforcementForceListening, got.Enforcement)
	assert.Equal(t, protocol.AuthzRequireDoubleCheck, got.Level)
}

func TestProactiveTraversalUsesSameLadder(t *testing.T) {
	// System-generated actions pass through the identical rules.
	got := Evaluate(Request{
		Action:     "announcement_create",
		Capability: cap("announcement_create", protocol.RiskHigh, true),
		Confidence: 1.0,
		Proactive:  true,
	})

	assert.Equal(t, protocol.AuthzRequireConfirmation, got.Level)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	req := Request{
		Action:     "task_create",
		Capability: cap("task_create", protocol.RiskMedium, false),
		Confidence: 0.8,
		Message:    "タスクを追加して",
	}
	first := Evaluate(req)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Evaluate(req))
	}
}
