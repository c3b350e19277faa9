package observability

// Span names for the cognitive pipeline.
const (
	SpanPipelineRun   = "kokoro.pipeline.run"
	SpanContextBuild  = "kokoro.context.build"
	SpanUnderstanding = "kokoro.understanding"
	SpanGateDecision  = "kokoro.gate.decide"
	SpanDecision      = "kokoro.decision"
	SpanExecution     = "kokoro.execution"
	SpanKnowledge     = "kokoro.knowledge.search"
	SpanSynthesis     = "kokoro.knowledge.synthesis"
	SpanProactive     = "kokoro.proactive.generate"
	SpanLLMCall       = "kokoro.llm.call"
)

// Attribute keys. Tenant and user are hashed before they reach a span.
const (
	AttrTenant      = "kokoro.tenant"
	AttrUserHash    = "kokoro.user_hash"
	AttrAction      = "kokoro.action"
	AttrRiskLevel   = "kokoro.risk_level"
	AttrConfidence  = "kokoro.confidence"
	AttrOutcome     = "kokoro.outcome"
	AttrErrorKind   = "kokoro.error_kind"
	AttrEnforcement = "kokoro.enforcement"
	AttrProvider    = "kokoro.llm.provider"
)
