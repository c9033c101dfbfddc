// Package contextstate implements the Context State Manager: the
// process-wide store of project contexts with a TTL read cache, versioned
// atomic updates, subscriber fan-out, RACI lookup, contextual
// recommendations, and conflict detection over candidate decisions.
package contextstate

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"concord/internal/authority"
	"concord/internal/project"
)

// ErrNotFound is returned for reads of contexts that were never registered.
var ErrNotFound = errors.New("project context not found")

const (
	// DefaultCacheTTL bounds how stale a cached read may be.
	DefaultCacheTTL = 60 * time.Second

	// cacheSweepInterval is how often expired cache entries are evicted.
	cacheSweepInterval = 5 * time.Minute

	// idleContextWarnAfter is how long a context can go unread before the
	// metrics loop warns about it.
	idleContextWarnAfter = 24 * time.Hour

	// eventBufferSize bounds the pending event queue. Delivery is
	// best-effort: events beyond the buffer are dropped and counted.
	eventBufferSize = 256
)

// EventType distinguishes context lifecycle events.
type EventType string

const (
	EventRegistered EventType = "registered"
	EventUpdated    EventType = "updated"
)

// Event is fanned out to subscribers after each commit. Subscribers see
// events in commit order.
type Event struct {
	Type      EventType
	ProjectID string
	Fields    []string // updated field names, empty for registrations
	Version   int
	Timestamp time.Time
}

// SubscriberFunc receives context events. It must not block; long work
// belongs on the subscriber's own goroutine.
type SubscriberFunc func(Event)

// Subscription identifies one subscriber for removal.
type Subscription struct {
	id int
	m  *Manager
}

// Unsubscribe removes the subscriber. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.m == nil {
		return
	}
	s.m.unsubscribe(s.id)
	s.m = nil
}

type cacheEntry struct {
	snapshot *project.Context
	cachedAt time.Time
	hash     uint64
}

// Status is a point-in-time snapshot of the manager's counters.
type Status struct {
	TotalQueries     int64   `json:"total_queries"`
	CacheHits        int64   `json:"cache_hits"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	TotalUpdates     int64   `json:"total_updates"`
	ActiveContexts   int     `json:"active_contexts"`
	CachedContexts   int     `json:"cached_contexts"`
	Subscribers      int     `json:"subscribers"`
	EventsDropped    int64   `json:"events_dropped"`
	CallbackFailures int64   `json:"callback_failures"`
}

// Manager owns the context map and its cache. One coarse write lock
// serializes all commits; event dispatch happens off the critical
// section on a dedicated goroutine so subscribers see commit order
// without ever blocking a writer.
type Manager struct {
	mu        sync.RWMutex
	contexts  map[string]*project.Context
	cache     map[string]*cacheEntry
	lastRead  map[string]time.Time
	cacheTTL  time.Duration
	authority *authority.Matrix
	logger    *zap.Logger

	subMu  sync.RWMutex
	subs   map[int]SubscriberFunc
	nextID int

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once

	queries          atomic.Int64
	cacheHits        atomic.Int64
	updates          atomic.Int64
	eventsDropped    atomic.Int64
	callbackFailures atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithCacheTTL overrides the default 60 s cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.cacheTTL = ttl }
}

// WithAuthority installs a non-default RACI matrix.
func WithAuthority(matrix *authority.Matrix) Option {
	return func(m *Manager) { m.authority = matrix }
}

// NewManager creates a manager and starts its event dispatcher.
// Call Close when done.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		contexts:  make(map[string]*project.Context),
		cache:     make(map[string]*cacheEntry),
		lastRead:  make(map[string]time.Time),
		cacheTTL:  DefaultCacheTTL,
		authority: authority.NewDefaultMatrix(),
		logger:    logger,
		subs:      make(map[int]SubscriberFunc),
		events:    make(chan Event, eventBufferSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.dispatchLoop()
	return m
}

// Close stops the event dispatcher. Pending events are dropped.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Register stores a validated context, overwriting any previous context
// with the same id. Re-registration is idempotent and leaks nothing from
// the replaced value.
func (m *Manager) Register(ctx *project.Context) {
	snap := ctx.Snapshot()

	m.mu.Lock()
	m.contexts[snap.ProjectID] = snap
	delete(m.cache, snap.ProjectID)
	m.lastRead[snap.ProjectID] = time.Now()
	m.enqueueLocked(Event{
		Type:      EventRegistered,
		ProjectID: snap.ProjectID,
		Version:   snap.Version,
		Timestamp: time.Now(),
	})
	m.mu.Unlock()

	m.logger.Info("project context registered",
		zap.String("project_id", snap.ProjectID),
		zap.String("phase", string(snap.LifecyclePhase)))
}

// Get returns a read-only snapshot of the context, serving from the TTL
// cache when fresh. The boolean reports presence.
func (m *Manager) Get(projectID string) (*project.Context, bool) {
	m.queries.Add(1)
	now := time.Now()

	m.mu.RLock()
	entry, cached := m.cache[projectID]
	if cached && now.Sub(entry.cachedAt) < m.cacheTTL {
		snap := entry.snapshot.Snapshot()
		m.mu.RUnlock()
		m.cacheHits.Add(1)
		m.markRead(projectID, now)
		return snap, true
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.contexts[projectID]
	if !ok {
		return nil, false
	}
	snap := stored.Snapshot()
	m.cache[projectID] = &cacheEntry{
		snapshot: snap,
		cachedAt: now,
		hash:     contentHash(snap),
	}
	m.lastRead[projectID] = now
	return snap.Snapshot(), true
}

func (m *Manager) markRead(projectID string, at time.Time) {
	m.mu.Lock()
	m.lastRead[projectID] = at
	m.mu.Unlock()
}

// Update applies a sparse field-update map atomically. On success the
// version is bumped, the cache slot is invalidated before any subscriber
// can observe the event, and an updated event is dispatched
// asynchronously. On failure no partial update is visible.
func (m *Manager) Update(projectID string, updates map[string]any, updatedBy string) error {
	m.mu.Lock()
	stored, ok := m.contexts[projectID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, projectID)
	}

	work := stored.Snapshot()
	if err := work.ApplyUpdates(updates, updatedBy); err != nil {
		m.mu.Unlock()
		return err
	}

	// Commit, then invalidate the cache slot while still holding the
	// lock. Dispatch happens after release; a subscriber-triggered read
	// can therefore never re-cache the stale snapshot.
	m.contexts[projectID] = work
	delete(m.cache, projectID)

	fields := make([]string, 0, len(updates))
	for f := range updates {
		fields = append(fields, f)
	}
	m.enqueueLocked(Event{
		Type:      EventUpdated,
		ProjectID: projectID,
		Fields:    fields,
		Version:   work.Version,
		Timestamp: time.Now(),
	})
	m.mu.Unlock()

	m.updates.Add(1)
	m.logger.Debug("project context updated",
		zap.String("project_id", projectID),
		zap.Strings("fields", fields),
		zap.Int("version", work.Version),
		zap.String("updated_by", updatedBy))
	return nil
}

// DecisionAuthority answers "who decides X" from the RACI matrix.
func (m *Manager) DecisionAuthority(kind authority.DecisionKind) (authority.Assignment, error) {
	return m.authority.Lookup(kind)
}

// Subscribe registers a callback for context events. The returned
// subscription must be used to unsubscribe; the manager never extends a
// subscriber's lifetime beyond that.
func (m *Manager) Subscribe(fn SubscriberFunc) *Subscription {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return &Subscription{id: id, m: m}
}

func (m *Manager) unsubscribe(id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	delete(m.subs, id)
}

// Status returns a counters snapshot without blocking writers.
func (m *Manager) Status() Status {
	m.mu.RLock()
	active := len(m.contexts)
	cached := len(m.cache)
	m.mu.RUnlock()

	m.subMu.RLock()
	subscribers := len(m.subs)
	m.subMu.RUnlock()

	queries := m.queries.Load()
	hits := m.cacheHits.Load()
	rate := 0.0
	if queries > 0 {
		rate = float64(hits) / float64(queries)
	}
	return Status{
		TotalQueries:     queries,
		CacheHits:        hits,
		CacheHitRate:     rate,
		TotalUpdates:     m.updates.Load(),
		ActiveContexts:   active,
		CachedContexts:   cached,
		Subscribers:      subscribers,
		EventsDropped:    m.eventsDropped.Load(),
		CallbackFailures: m.callbackFailures.Load(),
	}
}

// enqueueLocked queues an event while the write lock is held. The queue
// is buffered; a full queue drops the event rather than block the commit.
func (m *Manager) enqueueLocked(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.eventsDropped.Add(1)
	}
}

func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.deliver(ev)
		}
	}
}

func (m *Manager) deliver(ev Event) {
	m.subMu.RLock()
	subs := make([]SubscriberFunc, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.callbackFailures.Add(1)
					m.logger.Warn("context subscriber panicked",
						zap.String("project_id", ev.ProjectID),
						zap.Any("panic", r))
				}
			}()
			fn(ev)
		}()
	}
}

// Run drives the background sweepers until ctx is cancelled: cache
// eviction every 5 minutes and an hourly metrics pass that logs the hit
// rate and warns about contexts idle for more than 24 hours.
func (m *Manager) Run(ctx context.Context) {
	sweep := time.NewTicker(cacheSweepInterval)
	report := time.NewTicker(time.Hour)
	defer sweep.Stop()
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			m.sweepCache()
		case <-report.C:
			m.reportMetrics()
		}
	}
}

func (m *Manager) sweepCache() {
	now := time.Now()
	m.mu.Lock()
	evicted := 0
	for id, entry := range m.cache {
		if now.Sub(entry.cachedAt) >= m.cacheTTL {
			delete(m.cache, id)
			evicted++
		}
	}
	m.mu.Unlock()
	if evicted > 0 {
		m.logger.Debug("cache sweep", zap.Int("evicted", evicted))
	}
}

func (m *Manager) reportMetrics() {
	st := m.Status()
	m.logger.Info("context state metrics",
		zap.Int64("queries", st.TotalQueries),
		zap.Float64("cache_hit_rate", st.CacheHitRate),
		zap.Int("active_contexts", st.ActiveContexts))

	now := time.Now()
	m.mu.RLock()
	for id, last := range m.lastRead {
		if now.Sub(last) > idleContextWarnAfter {
			m.logger.Warn("project context idle",
				zap.String("project_id", id),
				zap.Duration("idle_for", now.Sub(last)))
		}
	}
	m.mu.RUnlock()
}

func contentHash(c *project.Context) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s|%v", c.ProjectID, c.Version, c.LifecyclePhase, c.Priorities)
	return h.Sum64()
}
