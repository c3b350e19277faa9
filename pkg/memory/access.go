package memory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Snapshot is everything the context builder pulls from durable memory
// for one turn. Slices that failed to load are empty, never nil checks
// downstream.
type Snapshot struct {
	Conversation []ConversationEntry
	Summary      string
	Preferences  *Preferences
	Persons      []Person
	Tasks        []Task
	Goals        []Goal
	Insights     []Insight
	Episodes     []Episode
}

// Access is the fail-soft read façade over a Store. Each slice is
// fetched under its own deadline; a slice that misses the budget or
// errors comes back empty and the turn proceeds without it. Only the
// error kind is logged, never query contents.
type Access struct {
	store       Reader
	sliceBudget time.Duration
	recallOn    bool
	logger      *slog.Logger
}

// AccessOption tunes the façade.
type AccessOption func(*Access)

// WithSliceBudget overrides the per-slice deadline.
func WithSliceBudget(d time.Duration) AccessOption {
	return func(a *Access) {
		a.sliceBudget = d
	}
}

// WithEpisodicRecall toggles the long-term memory slice.
func WithEpisodicRecall(on bool) AccessOption {
	return func(a *Access) {
		a.recallOn = on
	}
}

func NewAccess(store Reader, logger *slog.Logger, opts ...AccessOption) *Access {
	a := &Access{
		store:       store,
		sliceBudget: 300 * time.Millisecond,
		recallOn:    true,
		logger:      logger,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetAll fetches every memory slice concurrently. It never returns an
// error: memory degradation degrades the answer, not the turn.
func (a *Access) GetAll(ctx context.Context, tenant, room, user string, keywords []string) *Snapshot {
	snap := &Snapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		snap.Conversation = a.conversation(gctx, tenant, room)
		return nil
	})
	g.Go(func() error {
		snap.Summary = a.summary(gctx, tenant, room)
		return nil
	})
	g.Go(func() error {
		snap.Preferences = a.preferences(gctx, tenant, user)
		return nil
	})
	g.Go(func() error {
		snap.Persons = a.persons(gctx, tenant)
		return nil
	})
	g.Go(func() error {
		snap.Tasks = a.tasks(gctx, tenant, user)
		return nil
	})
	g.Go(func() error {
		snap.Goals = a.goals(gctx, tenant, user)
		return nil
	})
	g.Go(func() error {
		snap.Insights = a.insights(gctx, tenant)
		return nil
	})
	if a.recallOn {
		g.Go(func() error {
			snap.Episodes = a.episodes(gctx, tenant, keywords)
			return nil
		})
	}

	g.Wait() //nolint:errcheck // workers never return errors
	return snap
}

func (a *Access) conversation(ctx context.Context, tenant, room string) []ConversationEntry {
	ctx, cancel := a.budget(ctx)
	defer cancel()

	entries, err := a.store.RecentConversation(ctx, tenant, room, 20)
	if err != nil {
		a.degraded("conversation", err)
		return nil
	}
	return entries
}

func (a *Access) summary(ctx context.Context, tenant, room string) string {
	ctx, cancel := a.budget(ctx)
	defer cancel()

	summary, err := a.store.ConversationSummary(ctx, tenant, room)
	if err != nil {
		a.degraded("summary", err)
		return ""
	}
	return summary
}

func (a *Access) preferences(ctx context.Context, tenant, user string) *Preferences {
	ctx, cancel := a.budget(ctx)
	defer cancel()

	prefs, err := a.store.UserPreferences(ctx, tenant, user)
	if err != nil {
		a.degraded("preferences", err)
		return nil
	}
	return prefs
}

func (a *Access) persons(ctx context.Context, tenant string) []Person {
	ctx, cancel := a.budget(ctx)
	defer cancel()

	persons, err := a.store.Persons(ctx, tenant)
	if err != nil {
		a.degraded("persons", err)
		return nil
	}
	return persons
}

func (a *Access) tasks(ctx context.Context, tenant, user string) []Task {
	ctx, cancel := a.budget(ctx)
	defer cancel()

	tasks, err := a.store.RecentTasks(ctx, tenant, user, 10)
	if err != nil {
		a.degraded("tasks", err)
		return nil
	}
	return tasks
}

func (a *Access) goals(ctx context.Context, tenant, user string) []Goal {
	ctx, cancel := a.budget(ctx)
	defer cancel()

	goals, err := a.store.ActiveGoals(ctx, tenant, user)
	if err != nil {
		a.degraded("goals", err)
		return nil
	}
	return goals
}

func (a *Access) insights(ctx context.Context, tenant string) []Insight {
	ctx, cancel := a.budget(ctx)
	defer cancel()

	insights, err := a.store.RecentInsights(ctx, tenant, 5)
	if err != nil {
		a.degraded("insights", err)
		return nil
	}
	return insights
}

func (a *Access) episodes(ctx context.Context, tenant string, keywords []string) []Episode {
	ctx, cancel := a.budget(ctx)
	defer cancel()

	episodes, err := a.store.EpisodesByKeywords(ctx, tenant, keywords, 5)
	if err != nil {
		a.degraded("episodes", err)
		return nil
	}
	return episodes
}

func (a *Access) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.sliceBudget)
}

// degraded logs the error kind only. Query arguments and row contents
// stay out of the log stream.
func (a *Access) degraded(slice string, err error) {
	a.logger.Warn("memory slice degraded", "slice", slice, "kind", errorKind(err))
}

func errorKind(err error) string {
	var se *StoreError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &se):
		return "store:" + se.Action
	default:
		return "unknown"
	}
}
