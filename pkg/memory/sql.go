package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kokoro-ai/kokoro/pkg/config"
)

// SQLStore implements Store on database/sql. Supported drivers: sqlite3,
// postgres, mysql. Every statement filters by organization_id.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createMemoryTablesSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    organization_id VARCHAR(255) NOT NULL,
    room_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    sender_id VARCHAR(255) NOT NULL,
    sender VARCHAR(255) NOT NULL,
    text TEXT NOT NULL,
    at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_org_room_at ON conversations(organization_id, room_id, at);

CREATE TABLE IF NOT EXISTS conversation_summaries (
    organization_id VARCHAR(255) NOT NULL,
    room_id VARCHAR(255) NOT NULL,
    summary TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, room_id)
);

CREATE TABLE IF NOT EXISTS preferences (
    organization_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    locale VARCHAR(50),
    values_json TEXT,
    life_axes_json TEXT,
    PRIMARY KEY (organization_id, user_id)
);

CREATE TABLE IF NOT EXISTS persons (
    organization_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    aliases_json TEXT,
    department VARCHAR(255),
    role VARCHAR(255),
    PRIMARY KEY (organization_id, id)
);

CREATE TABLE IF NOT EXISTS tasks (
    organization_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    body TEXT NOT NULL,
    assigned_to VARCHAR(255),
    limit_date TIMESTAMP NULL,
    status VARCHAR(50) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_org_user ON tasks(organization_id, assigned_to, status);

CREATE TABLE IF NOT EXISTS goals (
    organization_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    title TEXT NOT NULL,
    axis VARCHAR(255),
    status VARCHAR(50) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, id)
);

CREATE TABLE IF NOT EXISTS insights (
    organization_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    summary TEXT NOT NULL,
    at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, id)
);

CREATE TABLE IF NOT EXISTS knowledge_chunks (
    organization_id VARCHAR(255) NOT NULL,
    chunk_id VARCHAR(255) NOT NULL,
    document_id VARCHAR(255) NOT NULL,
    version INTEGER NOT NULL,
    content TEXT NOT NULL,
    classification VARCHAR(50) NOT NULL,
    department_id VARCHAR(255),
    category VARCHAR(255),
    page INTEGER,
    quality_score REAL NOT NULL,
    boilerplate BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (organization_id, chunk_id)
);

CREATE TABLE IF NOT EXISTS episodes (
    organization_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    type VARCHAR(100) NOT NULL,
    summary VARCHAR(255) NOT NULL,
    entities_json TEXT,
    keywords_json TEXT,
    importance REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, id)
);

CREATE TABLE IF NOT EXISTS outcomes (
    organization_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    action VARCHAR(255) NOT NULL,
    confidence REAL NOT NULL,
    success BOOLEAN NOT NULL,
    risk_level VARCHAR(50) NOT NULL,
    reason_code VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, id)
);

CREATE TABLE IF NOT EXISTS feedback (
    organization_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    decision_id VARCHAR(255) NOT NULL,
    verdict VARCHAR(50) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (organization_id, id)
);

CREATE TABLE IF NOT EXISTS review_queue (
    organization_id VARCHAR(255) NOT NULL,
    decision_id VARCHAR(255) NOT NULL,
    reason VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// NewSQLStore opens the database, applies pool settings and bootstraps
// the schema.
func NewSQLStore(cfg *config.DatabaseConfig) (*SQLStore, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, newStoreError("Open", "failed to open database", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	s := &SQLStore{db: db, dialect: cfg.Driver}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreWithDB wraps an existing connection; used by tests and by
// the state store which shares the pool.
func NewSQLStoreWithDB(db *sql.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.bootstrap(); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the shared pool.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect reports the SQL driver name.
func (s *SQLStore) Dialect() string {
	return s.dialect
}

func (s *SQLStore) bootstrap() error {
	for _, stmt := range strings.Split(createMemoryTablesSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(s.rebind(stmt)); err != nil {
			return newStoreError("Bootstrap", "failed to create tables", err)
		}
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) RecentConversation(ctx context.Context, tenant, room string, limit int) ([]ConversationEntry, error) {
	if err := requireTenant("RecentConversation", tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT role, sender_id, sender, text, at FROM conversations
WHERE organization_id = ? AND room_id = ?
ORDER BY at DESC LIMIT ?`), tenant, room, limit)
	if err != nil {
		return nil, newStoreError("RecentConversation", "query failed", err)
	}
	defer rows.Close()

	var entries []ConversationEntry
	for rows.Next() {
		var e ConversationEntry
		if err := rows.Scan(&e.Role, &e.SenderID, &e.Sender, &e.Text, &e.At); err != nil {
			return nil, newStoreError("RecentConversation", "scan failed", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError("RecentConversation", "row iteration failed", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *SQLStore) ConversationSummary(ctx context.Context, tenant, room string) (string, error) {
	if err := requireTenant("ConversationSummary", tenant); err != nil {
		return "", err
	}

	var summary string
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT summary FROM conversation_summaries
WHERE organization_id = ? AND room_id = ?`), tenant, room).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", newStoreError("ConversationSummary", "query failed", err)
	}
	return summary, nil
}

func (s *SQLStore) UserPreferences(ctx context.Context, tenant, user string) (*Preferences, error) {
	if err := requireTenant("UserPreferences", tenant); err != nil {
		return nil, err
	}

	var locale sql.NullString
	var valuesJSON, axesJSON sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT locale, values_json, life_axes_json FROM preferences
WHERE organization_id = ? AND user_id = ?`), tenant, user).Scan(&locale, &valuesJSON, &axesJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, newStoreError("UserPreferences", "query failed", err)
	}

	prefs := &Preferences{Locale: locale.String}
	if valuesJSON.Valid && valuesJSON.String != "" {
		if err := json.Unmarshal([]byte(valuesJSON.String), &prefs.Values); err != nil {
			return nil, newStoreError("UserPreferences", "corrupt values_json", err)
		}
	}
	if axesJSON.Valid && axesJSON.String != "" {
		if err := json.Unmarshal([]byte(axesJSON.String), &prefs.LifeAxes); err != nil {
			return nil, newStoreError("UserPreferences", "corrupt life_axes_json", err)
		}
	}
	return prefs, nil
}

func (s *SQLStore) Persons(ctx context.Context, tenant string) ([]Person, error) {
	if err := requireTenant("Persons", tenant); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, name, aliases_json, department, role FROM persons
WHERE organization_id = ?`), tenant)
	if err != nil {
		return nil, newStoreError("Persons", "query failed", err)
	}
	defer rows.Close()

	var persons []Person
	for rows.Next() {
		var p Person
		var aliasesJSON, department, role sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &aliasesJSON, &department, &role); err != nil {
			return nil, newStoreError("Persons", "scan failed", err)
		}
		p.Department = department.String
		p.Role = role.String
		if aliasesJSON.Valid && aliasesJSON.String != "" {
			if err := json.Unmarshal([]byte(aliasesJSON.String), &p.Aliases); err != nil {
				return nil, newStoreError("Persons", "corrupt aliases_json", err)
			}
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (s *SQLStore) RecentTasks(ctx context.Context, tenant, user string, limit int) ([]Task, error) {
	if err := requireTenant("RecentTasks", tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, body, assigned_to, limit_date, status, created_at FROM tasks
WHERE organization_id = ? AND assigned_to = ? AND status <> 'done'
ORDER BY created_at DESC LIMIT ?`), tenant, user, limit)
	if err != nil {
		return nil, newStoreError("RecentTasks", "query failed", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var assignedTo sql.NullString
		var limitDate sql.NullTime
		if err := rows.Scan(&t.ID, &t.Body, &assignedTo, &limitDate, &t.Status, &t.CreatedAt); err != nil {
			return nil, newStoreError("RecentTasks", "scan failed", err)
		}
		t.AssignedTo = assignedTo.String
		if limitDate.Valid {
			d := limitDate.Time
			t.LimitDate = &d
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLStore) ActiveGoals(ctx context.Context, tenant, user string) ([]Goal, error) {
	if err := requireTenant("ActiveGoals", tenant); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, title, axis, status, created_at FROM goals
WHERE organization_id = ? AND status = 'active'
ORDER BY created_at DESC`), tenant)
	if err != nil {
		return nil, newStoreError("ActiveGoals", "query failed", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		var g Goal
		var axis sql.NullString
		if err := rows.Scan(&g.ID, &g.Title, &axis, &g.Status, &g.CreatedAt); err != nil {
			return nil, newStoreError("ActiveGoals", "scan failed", err)
		}
		g.Axis = axis.String
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

func (s *SQLStore) RecentInsights(ctx context.Context, tenant string, limit int) ([]Insight, error) {
	if err := requireTenant("RecentInsights", tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, summary, at FROM insights
WHERE organization_id = ?
ORDER BY at DESC LIMIT ?`), tenant, limit)
	if err != nil {
		return nil, newStoreError("RecentInsights", "query failed", err)
	}
	defer rows.Close()

	var insights []Insight
	for rows.Next() {
		var i Insight
		if err := rows.Scan(&i.ID, &i.Summary, &i.At); err != nil {
			return nil, newStoreError("RecentInsights", "scan failed", err)
		}
		insights = append(insights, i)
	}
	return insights, rows.Err()
}

func (s *SQLStore) KnowledgeChunks(ctx context.Context, tenant string, ids []string) ([]KnowledgeChunk, error) {
	if err := requireTenant("KnowledgeChunks", tenant); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenant)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(fmt.Sprintf(`
SELECT chunk_id, document_id, version, content, classification, department_id, category, page, quality_score, boilerplate
FROM knowledge_chunks
WHERE organization_id = ? AND chunk_id IN (%s)`, placeholders)), args...)
	if err != nil {
		return nil, newStoreError("KnowledgeChunks", "query failed", err)
	}
	defer rows.Close()

	var chunks []KnowledgeChunk
	for rows.Next() {
		var c KnowledgeChunk
		var departmentID, category sql.NullString
		var page sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Version, &c.Content, &c.Classification,
			&departmentID, &category, &page, &c.QualityScore, &c.Boilerplate); err != nil {
			return nil, newStoreError("KnowledgeChunks", "scan failed", err)
		}
		c.DepartmentID = departmentID.String
		c.Category = category.String
		c.Page = int(page.Int64)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLStore) EpisodesByKeywords(ctx context.Context, tenant string, keywords []string, limit int) ([]Episode, error) {
	if err := requireTenant("EpisodesByKeywords", tenant); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	// Keyword match is a LIKE scan over the serialized keyword list; the
	// episode table is small and importance-ordered.
	query := `
SELECT id, type, summary, entities_json, keywords_json, importance, created_at FROM episodes
WHERE organization_id = ?`
	args := []any{tenant}
	if len(keywords) > 0 {
		var likes []string
		for _, kw := range keywords {
			likes = append(likes, "keywords_json LIKE ?")
			args = append(args, "%"+kw+"%")
		}
		query += " AND (" + strings.Join(likes, " OR ") + ")"
	}
	query += " ORDER BY importance DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, newStoreError("EpisodesByKeywords", "query failed", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		var e Episode
		var entitiesJSON, keywordsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.Summary, &entitiesJSON, &keywordsJSON, &e.Importance, &e.CreatedAt); err != nil {
			return nil, newStoreError("EpisodesByKeywords", "scan failed", err)
		}
		e.OrganizationID = tenant
		if entitiesJSON.Valid && entitiesJSON.String != "" {
			if err := json.Unmarshal([]byte(entitiesJSON.String), &e.Entities); err != nil {
				return nil, newStoreError("EpisodesByKeywords", "corrupt entities_json", err)
			}
		}
		if keywordsJSON.Valid && keywordsJSON.String != "" {
			if err := json.Unmarshal([]byte(keywordsJSON.String), &e.Keywords); err != nil {
				return nil, newStoreError("EpisodesByKeywords", "corrupt keywords_json", err)
			}
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

func (s *SQLStore) AppendConversation(ctx context.Context, tenant, room string, entry ConversationEntry) error {
	if err := requireTenant("AppendConversation", tenant); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO conversations (organization_id, room_id, role, sender_id, sender, text, at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		tenant, room, entry.Role, entry.SenderID, entry.Sender, entry.Text, truncateTime(entry.At))
	if err != nil {
		return newStoreError("AppendConversation", "insert failed", err)
	}
	return nil
}

func (s *SQLStore) AppendEpisode(ctx context.Context, tenant string, episode Episode) error {
	if err := requireTenant("AppendEpisode", tenant); err != nil {
		return err
	}

	entities, err := json.Marshal(episode.Entities)
	if err != nil {
		return newStoreError("AppendEpisode", "marshal entities", err)
	}
	keywords, err := json.Marshal(episode.Keywords)
	if err != nil {
		return newStoreError("AppendEpisode", "marshal keywords", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO episodes (organization_id, id, type, summary, entities_json, keywords_json, importance, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		tenant, episode.ID, episode.Type, episode.Summary, string(entities), string(keywords),
		episode.Importance, truncateTime(episode.CreatedAt))
	if err != nil {
		return newStoreError("AppendEpisode", "insert failed", err)
	}
	return nil
}

func (s *SQLStore) AppendOutcome(ctx context.Context, tenant string, outcome Outcome) error {
	if err := requireTenant("AppendOutcome", tenant); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO outcomes (organization_id, id, action, confidence, success, risk_level, reason_code, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		tenant, outcome.ID, outcome.Action, outcome.Confidence, outcome.Success,
		outcome.RiskLevel, outcome.ReasonCode, truncateTime(outcome.CreatedAt))
	if err != nil {
		return newStoreError("AppendOutcome", "insert failed", err)
	}
	return nil
}

func (s *SQLStore) AppendFeedback(ctx context.Context, tenant string, feedback Feedback) error {
	if err := requireTenant("AppendFeedback", tenant); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO feedback (organization_id, id, decision_id, verdict, created_at)
VALUES (?, ?, ?, ?, ?)`),
		tenant, feedback.ID, feedback.DecisionID, feedback.Verdict, truncateTime(feedback.CreatedAt))
	if err != nil {
		return newStoreError("AppendFeedback", "insert failed", err)
	}
	return nil
}

func (s *SQLStore) AppendReview(ctx context.Context, tenant, decisionID, reason string) error {
	if err := requireTenant("AppendReview", tenant); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO review_queue (organization_id, decision_id, reason, created_at)
VALUES (?, ?, ?, ?)`),
		tenant, decisionID, reason, truncateTime(time.Now()))
	if err != nil {
		return newStoreError("AppendReview", "insert failed", err)
	}
	return nil
}

func (s *SQLStore) CreateTask(ctx context.Context, tenant string, task Task) error {
	if err := requireTenant("CreateTask", tenant); err != nil {
		return err
	}

	var limitDate any
	if task.LimitDate != nil {
		limitDate = truncateTime(*task.LimitDate)
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO tasks (organization_id, id, body, assigned_to, limit_date, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		tenant, task.ID, task.Body, task.AssignedTo, limitDate, task.Status, truncateTime(task.CreatedAt))
	if err != nil {
		return newStoreError("CreateTask", "insert failed", err)
	}
	return nil
}

func (s *SQLStore) CreateGoal(ctx context.Context, tenant string, goal Goal) error {
	if err := requireTenant("CreateGoal", tenant); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO goals (organization_id, id, title, axis, status, created_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		tenant, goal.ID, goal.Title, goal.Axis, goal.Status, truncateTime(goal.CreatedAt))
	if err != nil {
		return newStoreError("CreateGoal", "insert failed", err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
