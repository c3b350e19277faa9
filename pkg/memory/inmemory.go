package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore is a map-backed Store used by tests and by zero-config
// mode when no database is configured.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]ConversationEntry // tenant|room
	summaries     map[string]string              // tenant|room
	preferences   map[string]*Preferences        // tenant|user
	persons       map[string][]Person            // tenant
	tasks         map[string][]Task              // tenant
	goals         map[string][]Goal              // tenant
	insights      map[string][]Insight           // tenant
	chunks        map[string][]KnowledgeChunk    // tenant
	episodes      map[string][]Episode           // tenant
	outcomes      map[string][]Outcome           // tenant
	feedback      map[string][]Feedback          // tenant
	reviews       map[string][]string            // tenant -> decision IDs
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string][]ConversationEntry),
		summaries:     make(map[string]string),
		preferences:   make(map[string]*Preferences),
		persons:       make(map[string][]Person),
		tasks:         make(map[string][]Task),
		goals:         make(map[string][]Goal),
		insights:      make(map[string][]Insight),
		chunks:        make(map[string][]KnowledgeChunk),
		episodes:      make(map[string][]Episode),
		outcomes:      make(map[string][]Outcome),
		feedback:      make(map[string][]Feedback),
		reviews:       make(map[string][]string),
	}
}

func roomKey(tenant, room string) string {
	return tenant + "|" + room
}

func (s *InMemoryStore) RecentConversation(ctx context.Context, tenant, room string, limit int) ([]ConversationEntry, error) {
	if err := requireTenant("RecentConversation", tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.conversations[roomKey(tenant, room)]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]ConversationEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *InMemoryStore) ConversationSummary(ctx context.Context, tenant, room string) (string, error) {
	if err := requireTenant("ConversationSummary", tenant); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[roomKey(tenant, room)], nil
}

// SetConversationSummary seeds the compacted summary; used by the
// summarizer and by tests.
func (s *InMemoryStore) SetConversationSummary(tenant, room, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[roomKey(tenant, room)] = summary
}

func (s *InMemoryStore) UserPreferences(ctx context.Context, tenant, user string) (*Preferences, error) {
	if err := requireTenant("UserPreferences", tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs := s.preferences[roomKey(tenant, user)]
	if prefs == nil {
		return nil, nil
	}
	cp := *prefs
	return &cp, nil
}

// SetUserPreferences seeds preferences for a user.
func (s *InMemoryStore) SetUserPreferences(tenant, user string, prefs Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[roomKey(tenant, user)] = &prefs
}

func (s *InMemoryStore) Persons(ctx context.Context, tenant string) ([]Person, error) {
	if err := requireTenant("Persons", tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Person, len(s.persons[tenant]))
	copy(out, s.persons[tenant])
	return out, nil
}

// AddPerson registers a person in the tenant directory.
func (s *InMemoryStore) AddPerson(tenant string, person Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persons[tenant] = append(s.persons[tenant], person)
}

func (s *InMemoryStore) RecentTasks(ctx context.Context, tenant, user string, limit int) ([]Task, error) {
	if err := requireTenant("RecentTasks", tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Task
	for _, t := range s.tasks[tenant] {
		if t.AssignedTo == user && t.Status != "done" {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ActiveGoals(ctx context.Context, tenant, user string) ([]Goal, error) {
	if err := requireTenant("ActiveGoals", tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Goal
	for _, g := range s.goals[tenant] {
		if g.Status == "active" {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecentInsights(ctx context.Context, tenant string, limit int) ([]Insight, error) {
	if err := requireTenant("RecentInsights", tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Insight, len(s.insights[tenant]))
	copy(out, s.insights[tenant])
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddInsight seeds a derived insight.
func (s *InMemoryStore) AddInsight(tenant string, insight Insight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights[tenant] = append(s.insights[tenant], insight)
}

func (s *InMemoryStore) KnowledgeChunks(ctx context.Context, tenant string, ids []string) ([]KnowledgeChunk, error) {
	if err := requireTenant("KnowledgeChunks", tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []KnowledgeChunk
	for _, c := range s.chunks[tenant] {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// AddKnowledgeChunk seeds chunk metadata.
func (s *InMemoryStore) AddKnowledgeChunk(tenant string, chunk KnowledgeChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[tenant] = append(s.chunks[tenant], chunk)
}

func (s *InMemoryStore) EpisodesByKeywords(ctx context.Context, tenant string, keywords []string, limit int) ([]Episode, error) {
	if err := requireTenant("EpisodesByKeywords", tenant); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Episode
	for _, e := range s.episodes[tenant] {
		if len(keywords) == 0 || episodeMatches(e, keywords) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func episodeMatches(e Episode, keywords []string) bool {
	for _, kw := range keywords {
		for _, ek := range e.Keywords {
			if strings.Contains(ek, kw) || strings.Contains(kw, ek) {
				return true
			}
		}
	}
	return false
}

func (s *InMemoryStore) AppendConversation(ctx context.Context, tenant, room string, entry ConversationEntry) error {
	if err := requireTenant("AppendConversation", tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomKey(tenant, room)
	s.conversations[key] = append(s.conversations[key], entry)
	return nil
}

func (s *InMemoryStore) AppendEpisode(ctx context.Context, tenant string, episode Episode) error {
	if err := requireTenant("AppendEpisode", tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	episode.OrganizationID = tenant
	s.episodes[tenant] = append(s.episodes[tenant], episode)
	return nil
}

func (s *InMemoryStore) AppendOutcome(ctx context.Context, tenant string, outcome Outcome) error {
	if err := requireTenant("AppendOutcome", tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[tenant] = append(s.outcomes[tenant], outcome)
	return nil
}

func (s *InMemoryStore) AppendFeedback(ctx context.Context, tenant string, feedback Feedback) error {
	if err := requireTenant("AppendFeedback", tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[tenant] = append(s.feedback[tenant], feedback)
	return nil
}

func (s *InMemoryStore) AppendReview(ctx context.Context, tenant, decisionID, reason string) error {
	if err := requireTenant("AppendReview", tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[tenant] = append(s.reviews[tenant], decisionID)
	return nil
}

func (s *InMemoryStore) CreateTask(ctx context.Context, tenant string, task Task) error {
	if err := requireTenant("CreateTask", tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[tenant] = append(s.tasks[tenant], task)
	return nil
}

func (s *InMemoryStore) CreateGoal(ctx context.Context, tenant string, goal Goal) error {
	if err := requireTenant("CreateGoal", tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[tenant] = append(s.goals[tenant], goal)
	return nil
}

// Outcomes returns recorded outcomes for assertions.
func (s *InMemoryStore) Outcomes(tenant string) []Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Outcome, len(s.outcomes[tenant]))
	copy(out, s.outcomes[tenant])
	return out
}

// Reviews returns queued decision IDs for assertions.
func (s *InMemoryStore) Reviews(tenant string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.reviews[tenant]))
	copy(out, s.reviews[tenant])
	return out
}

// Episodes returns recorded episodes for assertions.
func (s *InMemoryStore) Episodes(tenant string) []Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Episode, len(s.episodes[tenant]))
	copy(out, s.episodes[tenant])
	return out
}

var _ Store = (*InMemoryStore)(nil)
