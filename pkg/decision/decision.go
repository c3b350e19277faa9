// Package decision selects the action for a turn. A weighted score over
// keyword evidence, intent match, recency, life-axis alignment and
// conversational fit ranks every capability; the winner must clear a
// floor or the turn falls back to conversation.
package decision

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
)

// Weights of the scoring components. They sum to 1.0; the negative
// keyword penalty is already folded into the keyword score upstream.
type Weights struct {
	Keyword  float64
	Intent   float64
	Recency  float64
	LifeAxis float64
	Context  float64
}

// DefaultWeights is the tuned production weighting.
func DefaultWeights() Weights {
	return Weights{
		Keyword:  0.30,
		Intent:   0.25,
		Recency:  0.15,
		LifeAxis: 0.15,
		Context:  0.15,
	}
}

// Engine ranks capabilities and assembles the decision.
type Engine struct {
	catalog    *capability.Catalog
	weights    Weights
	floor      float64
	multiplan  bool
	confirmBar float64
}

// Option tunes the engine.
type Option func(*Engine)

// WithFloor overrides the selection floor.
func WithFloor(floor float64) Option {
	return func(e *Engine) {
		e.floor = floor
	}
}

// WithWeights overrides the component weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) {
		e.weights = w
	}
}

// WithMultiAction enables compound request splitting.
func WithMultiAction(on bool) Option {
	return func(e *Engine) {
		e.multiplan = on
	}
}

func NewEngine(catalog *capability.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:    catalog,
		weights:    DefaultWeights(),
		floor:      0.3,
		confirmBar: 0.7,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide picks the action for this turn. The result always names a
// capability; when nothing clears the floor it is the conversation
// fallback.
func (e *Engine) Decide(tc *protocol.Context, ur protocol.UnderstandingResult) protocol.DecisionResult {
	result := protocol.DecisionResult{
		ID:     uuid.NewString(),
		Params: map[string]any{},
	}

	if plan := e.splitPlan(tc, ur); len(plan) > 1 {
		first := plan[0]
		result.Action = first.Action
		result.Params = first.Params
		result.Plan = plan
		result.Confidence = ur.Confidence
		result.RiskLevel = e.riskOf(first.Action)
		result.Reasoning = "compound_request"
		e.applyConfirmationPolicy(&result, ur)
		// Any risky step taints the whole plan.
		for _, step := range plan {
			if cap, ok := e.catalog.Get(step.Action); ok {
				if cap.Dangerous || cap.RequiresConfirmation ||
					cap.RiskLevel == protocol.RiskHigh || cap.RiskLevel == protocol.RiskCritical {
					result.NeedsConfirmation = true
				}
			}
		}
		return result
	}

	name, score := e.rank(tc, ur)
	result.Action = name
	result.Confidence = score
	result.RiskLevel = e.riskOf(name)
	for k, v := range ur.Entities {
		result.Params[k] = v
	}

	if name == capability.GeneralConversation {
		// The fallback carries the understanding confidence so the
		// audit trail shows why nothing else was chosen.
		result.Confidence = ur.Confidence
		result.Reasoning = "below_floor"
	}

	e.applyConfirmationPolicy(&result, ur)
	return result
}

// rank computes the weighted score of every capability and returns the
// winner, or the fallback when nothing clears the floor.
func (e *Engine) rank(tc *protocol.Context, ur protocol.UnderstandingResult) (string, float64) {
	type ranked struct {
		name  string
		score float64
	}
	var all []ranked

	for _, cap := range e.catalog.List() {
		if cap.Name == capability.GeneralConversation {
			continue
		}
		all = append(all, ranked{cap.Name, e.score(cap, tc, ur)})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].name < all[j].name
	})

	if len(all) == 0 || all[0].score < e.floor {
		return capability.GeneralConversation, 0
	}
	return all[0].name, all[0].score
}

func (e *Engine) score(cap *capability.Capability, tc *protocol.Context, ur protocol.UnderstandingResult) float64 {
	w := e.weights

	keyword := ur.Scores[cap.Name]

	intent := 0.0
	if ur.Intent == cap.Name {
		intent = 1.0
	}

	return w.Keyword*keyword +
		w.Intent*intent +
		w.Recency*recencyScore(cap, tc) +
		w.LifeAxis*lifeAxisScore(cap, tc) +
		w.Context*contextFitScore(cap, tc)
}

// recencyScore rewards capabilities the user exercised recently,
// evidenced by recalled episodes.
func recencyScore(cap *capability.Capability, tc *protocol.Context) float64 {
	for i, ep := range tc.RecalledEpisodes {
		if ep.Type == cap.Name {
			if i == 0 {
				return 1.0
			}
			return 0.6
		}
	}
	return 0
}

// lifeAxisScore is neutral (0.5) without preference data; a message
// touching one of the user's life axes scores full alignment.
func lifeAxisScore(cap *capability.Capability, tc *protocol.Context) float64 {
	if tc.Preferences == nil || len(tc.Preferences.LifeAxes) == 0 {
		return 0.5
	}
	lower := strings.ToLower(tc.Message.Text)
	for _, axis := range tc.Preferences.LifeAxes {
		if axis != "" && strings.Contains(lower, strings.ToLower(axis)) {
			return 1.0
		}
	}
	return 0.5
}

// contextFitScore checks whether the capability's vocabulary already
// appears in the recent window, i.e. the topic continues.
func contextFitScore(cap *capability.Capability, tc *protocol.Context) float64 {
	if len(tc.RecentConversation) == 0 {
		return 0.5
	}
	window := tc.RecentConversation
	if len(window) > 5 {
		window = window[len(window)-5:]
	}
	for _, entry := range window {
		lower := strings.ToLower(entry.Text)
		for _, kw := range cap.PrimaryKeywords {
			if kw != "" && strings.Contains(lower, kw) {
				return 1.0
			}
		}
	}
	return 0.2
}

func (e *Engine) riskOf(action string) protocol.RiskLevel {
	if cap, ok := e.catalog.Get(action); ok {
		return cap.RiskLevel
	}
	return protocol.RiskLow
}

// applyConfirmationPolicy sets NeedsConfirmation from the decision's own
// evidence. The gate may later tighten this, never loosen it.
func (e *Engine) applyConfirmationPolicy(result *protocol.DecisionResult, ur protocol.UnderstandingResult) {
	if result.Action == capability.GeneralConversation {
		return
	}
	cap, ok := e.catalog.Get(result.Action)
	if !ok {
		result.NeedsConfirmation = true
		return
	}
	if cap.Dangerous || cap.RequiresConfirmation {
		result.NeedsConfirmation = true
	}
	if ur.Confidence < e.confirmBar && ur.Confidence >= 0.5 {
		result.NeedsConfirmation = true
	}
}

// ForcedListening is the pseudo-action recorded when a distress pattern
// overrides the decided action. No capability handler runs under this
// name; the conversation handler answers in listening mode instead.
const ForcedListening = "forced_listening"

// ApplyGate folds the authorization verdict into the decision. A
// confirmation demand from the gate is binding, and a forced-listening
// enforcement replaces the decided action outright.
func ApplyGate(result *protocol.DecisionResult, gd protocol.GateDecision) {
	result.Enforcement = gd.Enforcement

	if gd.Enforcement == protocol.EnforcementForceListening {
		result.Action = ForcedListening
		result.Confidence = 1.0
		result.RiskLevel = protocol.RiskCritical
		result.NeedsConfirmation = false
		return
	}

	switch gd.Level {
	case protocol.AuthzRequireConfirmation:
		result.NeedsConfirmation = true
	case protocol.AuthzRequireDoubleCheck:
		result.NeedsConfirmation = true
		if len(result.ConfirmationOptions) == 0 {
			result.ConfirmationOptions = []string{"1. 実行する", "2. やめる"}
		}
	}
}
