package state

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists the active conversation state per (tenant, room, user).
// Get purges expired states before returning; Save enforces optimistic
// versioning so two concurrent turns cannot both win.
type Store interface {
	// Get returns the active state or nil. An expired state is cleared
	// with ExitTimeout and nil is returned.
	Get(ctx context.Context, tenant, room, user string) (*ConversationState, error)

	// Save inserts or updates the state. The caller passes the version
	// it read (0 for a fresh state); a mismatch returns ErrVersionConflict.
	Save(ctx context.Context, st *ConversationState) error

	// Clear removes the state and records the exit reason. Clearing a
	// missing state is a no-op.
	Clear(ctx context.Context, tenant, room, user, reason string) error

	// CleanupExpired deletes every expired state across tenants,
	// recording an ExitTimeout transition for each. Get purges on read,
	// but rows for users who never message again need this sweep.
	CleanupExpired(ctx context.Context) (int, error)

	// History returns recent transitions for the triple, newest first.
	History(ctx context.Context, tenant, room, user string, limit int) ([]Transition, error)
}

// ErrVersionConflict reports a lost optimistic-concurrency race.
var ErrVersionConflict = fmt.Errorf("[State:Save] version conflict")

func stateError(action, message string, err error) error {
	if err != nil {
		return fmt.Errorf("[State:%s] %s: %w", action, message, err)
	}
	return fmt.Errorf("[State:%s] %s", action, message)
}

func requireTenant(action, tenant string) error {
	if tenant == "" {
		return stateError(action, "query rejected: missing organization filter", nil)
	}
	return nil
}

// MemoryStore is a map-backed Store used by tests and zero-config mode.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*ConversationState
	log    []Transition
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*ConversationState),
		now:    time.Now,
	}
}

// SetClock overrides the clock; tests use it to force expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func stateKey(tenant, room, user string) string {
	return tenant + "|" + room + "|" + user
}

func (s *MemoryStore) Get(ctx context.Context, tenant, room, user string) (*ConversationState, error) {
	if err := requireTenant("Get", tenant); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(tenant, room, user)
	st, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	if st.Expired(s.now()) {
		delete(s.states, key)
		s.log = append(s.log, Transition{
			OrganizationID: tenant, RoomID: room, UserID: user,
			From: st.Type, FromStep: stepOf(st.Data), Reason: ExitTimeout, At: s.now(),
		})
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) Save(ctx context.Context, st *ConversationState) error {
	if err := requireTenant("Save", st.OrganizationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(st.OrganizationID, st.RoomID, st.UserID)
	existing := s.states[key]

	current := 0
	if existing != nil && !existing.Expired(s.now()) {
		current = existing.Version
	}
	if st.Version != current {
		return ErrVersionConflict
	}

	cp := *st
	cp.Version = current + 1
	cp.UpdatedAt = s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.states[key] = &cp

	from := Type("")
	fromStep := 0
	if existing != nil {
		from = existing.Type
		fromStep = stepOf(existing.Data)
	}
	s.log = append(s.log, Transition{
		OrganizationID: st.OrganizationID, RoomID: st.RoomID, UserID: st.UserID,
		From: from, FromStep: fromStep, To: cp.Type, ToStep: stepOf(cp.Data), At: cp.UpdatedAt,
	})

	st.Version = cp.Version
	st.UpdatedAt = cp.UpdatedAt
	st.CreatedAt = cp.CreatedAt
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, tenant, room, user, reason string) error {
	if err := requireTenant("Clear", tenant); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(tenant, room, user)
	st, ok := s.states[key]
	if !ok {
		return nil
	}
	delete(s.states, key)
	s.log = append(s.log, Transition{
		OrganizationID: tenant, RoomID: room, UserID: user,
		From: st.Type, FromStep: stepOf(st.Data), Reason: reason, At: s.now(),
	})
	return nil
}

func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, st := range s.states {
		if !st.Expired(s.now()) {
			continue
		}
		delete(s.states, key)
		s.log = append(s.log, Transition{
			OrganizationID: st.OrganizationID, RoomID: st.RoomID, UserID: st.UserID,
			From: st.Type, FromStep: stepOf(st.Data), Reason: ExitTimeout, At: s.now(),
		})
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) History(ctx context.Context, tenant, room, user string, limit int) ([]Transition, error) {
	if err := requireTenant("History", tenant); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Transition
	for i := len(s.log) - 1; i >= 0; i-- {
		t := s.log[i]
		if t.OrganizationID == tenant && t.RoomID == room && t.UserID == user {
			out = append(out, t)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
