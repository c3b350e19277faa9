package memory

import "time"

// ConversationEntry is one message in the recent conversation window.
type ConversationEntry struct {
	Role     string    `json:"role"`
	SenderID string    `json:"sender_id"`
	Sender   string    `json:"sender"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Person is a known colleague or contact within the tenant.
type Person struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	Department string   `json:"department,omitempty"`
	Role       string   `json:"role,omitempty"`
}

// Task is a tenant-scoped work item.
type Task struct {
	ID         string     `json:"id"`
	Body       string     `json:"body"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	LimitDate  *time.Time `json:"limit_date,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Goal is a user goal tracked across sessions.
type Goal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Axis      string    `json:"axis,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Insight is a short derived observation about the user or team.
type Insight struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

// Preferences holds per-user settings and long-term values.
type Preferences struct {
	Locale   string            `json:"locale,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
	LifeAxes []string          `json:"life_axes,omitempty"`
}

// Episode is a PII-safe long-term memory record. The summary carries only
// factual meta, never user content; writes go through the redactor.
type Episode struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Type           string    `json:"type"`
	Summary        string    `json:"summary"`
	Entities       []string  `json:"entities,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	Importance     float64   `json:"importance"`
	CreatedAt      time.Time `json:"created_at"`
}

// KnowledgeChunk is a unit of retrievable text. The vector lives in the
// vector store; this is the durable metadata row joined after search.
type KnowledgeChunk struct {
	ID             string  `json:"chunk_id"`
	DocumentID     string  `json:"document_id"`
	Version        int     `json:"version"`
	Content        string  `json:"content"`
	Classification string  `json:"classification"`
	DepartmentID   string  `json:"department_id,omitempty"`
	Category       string  `json:"category,omitempty"`
	Page           int     `json:"page,omitempty"`
	QualityScore   float64 `json:"quality_score"`
	Boilerplate    bool    `json:"boilerplate,omitempty"`
}

// Chunk classification levels. Confidential chunks additionally require a
// department match on read.
const (
	ClassificationPublic       = "public"
	ClassificationInternal     = "internal"
	ClassificationConfidential = "confidential"
)

// Outcome is one completed decision, recorded fire-and-forget.
type Outcome struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"`
	Success    bool      `json:"success"`
	RiskLevel  string    `json:"risk_level"`
	ReasonCode string    `json:"reason_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Feedback ties an explicit user verdict to a prior decision.
type Feedback struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	Verdict    string    `json:"verdict"`
	CreatedAt  time.Time `json:"created_at"`
}
