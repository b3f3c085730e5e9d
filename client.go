package teamsync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger *slog.Logger
	online *bool
}

// WithLogger sets the logger shared by every component of the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithInitialOnline sets the initial connectivity state. Without it a client
// starts online exactly when a remote store is configured.
func WithInitialOnline(online bool) ClientOption {
	return func(o *clientOptions) { o.online = &online }
}

// Client is the composition root: it owns the local store, the sync queue,
// the drainer, the connectivity monitor and one engine per collection.
type Client struct {
	config  Config
	store   *Store
	queue   *Queue
	drainer *Drainer
	monitor *Monitor
	remote  RemoteStore
	logger  *slog.Logger

	Organizations   *Engine[Organization]
	Tasks           *Engine[Task]
	Topics          *Engine[Topic]
	WeeklyGoals     *Engine[WeeklyGoal]
	GoalOutcomes    *Engine[GoalOutcome]
	Top3Items       *Engine[Top3Item]
	ProofLogs       *Engine[ProofLog]
	WeeklySummaries *Engine[WeeklySummary]

	mu     sync.Mutex
	closed bool

	// top3Mu makes the daily limit check and the create one step.
	top3Mu sync.Mutex
}

// collectionSync is the type-erased part of an Engine used for fan-out.
type collectionSync interface {
	Collection() string
	StartRealtimeSync(ctx context.Context, filters ...Filter) error
	StopRealtimeSync()
	Subscribed() bool
	refresh(ctx context.Context, filters ...Filter) (int, error)
}

func (e *Engine[T]) refresh(ctx context.Context, filters ...Filter) (int, error) {
	out, err := e.FetchFromRemote(ctx, filters...)
	return len(out), err
}

// New creates a client. remote may be nil, in which case the client works
// offline only and mutations stay queued.
func New(cfg Config, remote RemoteStore, opts ...ClientOption) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := NewStore(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	online := remote != nil
	if o.online != nil {
		online = *o.online && remote != nil
	}

	monitor := NewMonitor(online, logger)
	queue := NewQueue(store, logger)
	drainer := NewDrainer(queue, remote, monitor, DrainerConfig{
		MaxRetries:  cfg.MaxRetries,
		PassTimeout: cfg.PassTimeout,
		Logger:      logger,
	})
	monitor.OnChange(func(online bool) {
		if online {
			drainer.Trigger()
		}
	})

	engineOpts := []EngineOption{
		WithEngineLogger(logger),
		WithConflictPolicy(cfg.ConflictPolicy),
	}

	c := &Client{
		config:  cfg,
		store:   store,
		queue:   queue,
		drainer: drainer,
		monitor: monitor,
		remote:  remote,
		logger:  logger,

		Organizations:   NewEngine[Organization](CollectionOrganizations, store, queue, drainer, remote, engineOpts...),
		Tasks:           NewEngine[Task](CollectionTasks, store, queue, drainer, remote, engineOpts...),
		Topics:          NewEngine[Topic](CollectionTopics, store, queue, drainer, remote, engineOpts...),
		WeeklyGoals:     NewEngine[WeeklyGoal](CollectionWeeklyGoals, store, queue, drainer, remote, engineOpts...),
		GoalOutcomes:    NewEngine[GoalOutcome](CollectionGoalOutcomes, store, queue, drainer, remote, engineOpts...),
		Top3Items:       NewEngine[Top3Item](CollectionTop3Items, store, queue, drainer, remote, engineOpts...),
		ProofLogs:       NewEngine[ProofLog](CollectionProofLogs, store, queue, drainer, remote, engineOpts...),
		WeeklySummaries: NewEngine[WeeklySummary](CollectionWeeklySummaries, store, queue, drainer, remote, engineOpts...),
	}

	return c, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() Config { return c.config }

// Monitor returns the connectivity monitor.
func (c *Client) Monitor() *Monitor { return c.monitor }

// Queue returns the sync queue.
func (c *Client) Queue() *Queue { return c.queue }

// Store returns the local store.
func (c *Client) Store() *Store { return c.store }

func (c *Client) engines() []collectionSync {
	return []collectionSync{
		c.Organizations,
		c.Tasks,
		c.Topics,
		c.WeeklyGoals,
		c.GoalOutcomes,
		c.Top3Items,
		c.ProofLogs,
		c.WeeklySummaries,
	}
}

// Run consumes connectivity signals until ctx is done or signals closes, after
// attempting delivery of anything queued by a previous session.
func (c *Client) Run(ctx context.Context, signals <-chan bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.monitor.Run(ctx, signals)
	})
	g.Go(func() error {
		res, err := c.drainer.TryDrain(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("startup drain failed", "error", err)
		}
		if res.Attempted > 0 {
			c.logger.Info("startup drain complete", "delivered", res.Delivered, "failed", res.Failed)
		}
		return nil
	})
	return g.Wait()
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// SetOnline records a connectivity change. Going online triggers delivery.
func (c *Client) SetOnline(online bool) bool {
	return c.monitor.Set(online)
}

// Online reports the current connectivity state.
func (c *Client) Online() bool {
	return c.monitor.Online()
}

// Scope returns the filters that select the current user's documents in a
// collection.
func (c *Client) Scope(collection string) []Filter {
	notDeleted := Where(keyIsDeleted, OpEq, false)
	switch collection {
	case CollectionOrganizations:
		return []Filter{Where(keyID, OpEq, c.config.OrganizationID), notDeleted}
	case CollectionTasks:
		return []Filter{Where("ownerId", OpEq, c.config.UserID), notDeleted}
	case CollectionTopics:
		return []Filter{Where("organizationId", OpEq, c.config.OrganizationID), notDeleted}
	default:
		return []Filter{Where("userId", OpEq, c.config.UserID), notDeleted}
	}
}

// scoped reports whether the configuration identifies documents of collection.
func (c *Client) scoped(collection string) bool {
	switch collection {
	case CollectionOrganizations, CollectionTopics:
		return c.config.OrganizationID != ""
	default:
		return c.config.UserID != ""
	}
}

// StartRealtime starts a realtime subscription for every collection the
// configured user and organization scope. Subscriptions end on
// StopRealtime, Close or when ctx is done.
func (c *Client) StartRealtime(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.remote == nil {
		return ErrNotConfigured
	}
	if c.config.UserID == "" {
		return &ValidationError{Field: "UserID", Message: "required for realtime sync"}
	}
	for _, e := range c.engines() {
		if !c.scoped(e.Collection()) {
			continue
		}
		if err := e.StartRealtimeSync(ctx, c.Scope(e.Collection())...); err != nil {
			c.StopRealtime()
			return err
		}
	}
	return nil
}

// StopRealtime stops every realtime subscription.
func (c *Client) StopRealtime() {
	for _, e := range c.engines() {
		e.StopRealtimeSync()
	}
}

// Refresh fetches the scoped documents of every collection once and merges
// them into the local store.
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.remote == nil {
		return ErrNotConfigured
	}
	if !c.monitor.Online() {
		return ErrOffline
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, e := range c.engines() {
		if !c.scoped(e.Collection()) {
			continue
		}
		g.Go(func() error {
			n, err := e.refresh(ctx, c.Scope(e.Collection())...)
			if err != nil {
				return err
			}
			c.logger.Debug("refreshed collection", "collection", e.Collection(), "documents", n)
			return nil
		})
	}
	return g.Wait()
}

// LoadTasks returns the user's tasks, refreshed from the remote store when
// possible and read from the local store when not.
func (c *Client) LoadTasks(ctx context.Context) ([]Task, error) {
	if c.remote != nil && c.monitor.Online() && c.config.UserID != "" {
		tasks, err := c.Tasks.FetchFromRemote(ctx, c.Scope(CollectionTasks)...)
		if err == nil {
			return tasks, nil
		}
		c.logger.Warn("remote task fetch failed, using local data", "error", err)
	}
	if c.config.UserID == "" {
		return c.Tasks.GetAll(ctx)
	}
	return c.Tasks.Where(ctx, Where("ownerId", OpEq, c.config.UserID))
}

// ForceSync runs a drain pass now and waits for it.
func (c *Client) ForceSync(ctx context.Context) (DrainResult, error) {
	if err := c.checkOpen(); err != nil {
		return DrainResult{}, err
	}
	if c.remote == nil {
		return DrainResult{}, ErrNotConfigured
	}
	if !c.monitor.Online() {
		return DrainResult{}, ErrOffline
	}
	return c.drainer.TryDrain(ctx)
}

// Status returns the aggregate sync state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	pending, err := c.queue.Len(ctx)
	if err != nil {
		return nil, err
	}
	perCollection, err := c.store.LastSynced(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Online:         c.monitor.Online(),
		Syncing:        c.drainer.Syncing(),
		PendingChanges: pending,
		Collections:    perCollection,
	}
	for _, t := range perCollection {
		if t.After(st.LastSyncedAt) {
			st.LastSyncedAt = t
		}
	}
	return st, nil
}

// Stats returns local store statistics.
func (c *Client) Stats(ctx context.Context) (*StoreStats, error) {
	return c.store.Stats(ctx)
}

// ClearLocalData stops realtime sync and wipes every local document, queued
// mutation and sync timestamp. Undelivered mutations are lost.
func (c *Client) ClearLocalData(ctx context.Context) error {
	c.StopRealtime()
	c.drainer.Wait()
	if err := c.store.ClearLocalData(ctx); err != nil {
		return err
	}
	c.logger.Info("cleared local data")
	return nil
}

// TaskInput holds the caller-supplied fields of a new task.
type TaskInput struct {
	Title       string
	Description string
	Quadrant    Quadrant
	TopicID     string
	DueDate     *time.Time
}

// AddTask creates a TODO task owned by the configured user.
func (c *Client) AddTask(ctx context.Context, in TaskInput) (*Task, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, &ValidationError{Field: "title", Message: "required"}
	}
	if in.Quadrant == "" {
		in.Quadrant = QuadrantNotUrgentImportant
	}
	if !in.Quadrant.IsValid() {
		return nil, &ValidationError{Field: "quadrant", Message: fmt.Sprintf("unknown quadrant %q", in.Quadrant)}
	}
	return c.Tasks.Create(ctx, Task{
		OrganizationID: c.config.OrganizationID,
		Title:          in.Title,
		Description:    in.Description,
		Quadrant:       in.Quadrant,
		Status:         TaskTodo,
		TopicID:        in.TopicID,
		OwnerID:        c.config.UserID,
		CreatedBy:      c.config.UserID,
		DueDate:        in.DueDate,
	})
}

// MaxTop3PerDay is the number of daily priorities a user may set.
const MaxTop3PerDay = 3

// Top3Input holds the caller-supplied fields of a daily priority.
type Top3Input struct {
	Content      string
	LinkedTaskID string
	// Date defaults to today.
	Date time.Time
	// UserID defaults to the configured user.
	UserID string
}

// AddTop3 adds a daily priority. It fails with ErrTop3Limit when the user
// already has MaxTop3PerDay items for that day.
func (c *Client) AddTop3(ctx context.Context, in Top3Input) (*Top3Item, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, &ValidationError{Field: "content", Message: "required"}
	}
	if in.UserID == "" {
		in.UserID = c.config.UserID
	}
	if in.Date.IsZero() {
		in.Date = time.Now()
	}
	day := DayStart(in.Date)

	c.top3Mu.Lock()
	defer c.top3Mu.Unlock()

	existing, err := c.Top3ForDay(ctx, in.UserID, day)
	if err != nil {
		return nil, err
	}
	if len(existing) >= MaxTop3PerDay {
		return nil, ErrTop3Limit
	}
	order := 1
	for _, it := range existing {
		order = max(order, it.Order+1)
	}

	return c.Top3Items.Create(ctx, Top3Item{
		OrganizationID: c.config.OrganizationID,
		UserID:         in.UserID,
		Date:           day,
		Order:          order,
		Content:        in.Content,
		LinkedTaskID:   in.LinkedTaskID,
	})
}

// Top3ForDay returns a user's priorities for the day containing day,
// ordered by Order.
func (c *Client) Top3ForDay(ctx context.Context, userID string, day time.Time) ([]Top3Item, error) {
	items, err := c.Top3Items.Query(ctx, PredicateFunc[Top3Item](func(i Top3Item) bool {
		return i.UserID == userID && SameDay(i.Date, day)
	}))
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Order < items[b].Order })
	return items, nil
}

// Close stops realtime sync, waits for background delivery, makes a final
// bounded delivery attempt and closes the store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.StopRealtime()
	c.drainer.Stop()

	if c.remote != nil && c.config.FlushTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.FlushTimeout)
		res, err := c.drainer.TryDrain(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("final flush failed", "error", err)
		} else if res.Attempted > 0 {
			c.logger.Info("final flush complete", "delivered", res.Delivered, "failed", res.Failed)
		}
	}

	return c.store.Close()
}
