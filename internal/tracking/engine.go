package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

var ErrAlreadyStarted = errors.New("tracking engine already started")

const directoryLookupTimeout = 5 * time.Second

// Observer receives a fleet snapshot after every tick and applied sample.
// A snapshot overtaken by a newer one before delivery is skipped.
type Observer func(domain.FleetSnapshot)

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithActiveTripFeed(f ActiveTripFeed) Option { return func(e *Engine) { e.feed = f } }

func WithUserDirectory(d UserDirectory) Option { return func(e *Engine) { e.dir = d } }

func WithEventSink(s EventSink) Option { return func(e *Engine) { e.sink = s } }

func WithAlertRules(rules []domain.AlertRule) Option { return func(e *Engine) { e.rules = rules } }

// Engine tracks every active trip: it owns the subscriptions, the state
// store, route history and alert set, and publishes fleet snapshots.
type Engine struct {
	cfg   Config
	clock Clock
	log   *slog.Logger
	feed  ActiveTripFeed
	dir   UserDirectory
	sink  EventSink
	rules []domain.AlertRule

	store      *LocationStore
	routes     *RouteAccumulator
	alerts     *AlertEngine
	subs       *SubscriptionManager
	aggregator *FleetAggregator

	// mu serialises every mutation across store, routes and alerts.
	mu    sync.Mutex
	trips map[string]domain.Trip
	seq   uint64

	lookups sync.Map // userID -> in-flight directory lookup

	obsMu     sync.Mutex
	observers map[uuid.UUID]Observer

	notifyMu     sync.Mutex
	lastNotified uint64

	runMu   sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

func NewEngine(cfg Config, source TelemetrySource, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		clock:     systemClock{},
		log:       slog.Default(),
		trips:     make(map[string]domain.Trip),
		observers: make(map[uuid.UUID]Observer),
		runCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.store = NewLocationStore(e.cfg)
	e.routes = NewRouteAccumulator(e.cfg.HistoryCapacity, e.cfg.MaxPlausibleSpeed)
	e.alerts = NewAlertEngine(e.cfg.alertThresholds(), e.rules)
	e.subs = NewSubscriptionManager(source, SubscriptionHooks{
		Deliver: e.handleSample,
		OnOpen:  e.tripOpened,
		OnClose: e.tripClosed,
	}, Backoff{Base: e.cfg.SubscribeRetryBase, Max: e.cfg.SubscribeRetryMax}, e.log)
	e.aggregator = &FleetAggregator{
		store:    e.store,
		routes:   e.routes,
		alerts:   e.alerts,
		subs:     e.subs,
		describe: e.describeLocked,
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Start launches the tick loop and, when configured, the active-trip
// feed watcher. Both stop when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true

	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel
	e.subs.bind(runCtx)

	e.wg.Add(1)
	go e.tickLoop(runCtx)

	if e.feed != nil {
		e.wg.Add(1)
		go e.watchFeed(runCtx)
	}

	e.log.Info("tracking engine started",
		"action", "engine_started",
		"tick_interval", e.cfg.TickInterval.String(),
		"live_window", e.cfg.LiveWindow.String(),
		"delayed_window", e.cfg.DelayedWindow.String())
	return nil
}

// Stop cancels background loops, closes every subscription and drops
// all tracked state. A stopped engine cannot be started again.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.subs.CloseAll()
	e.log.Info("tracking engine stopped", "action", "engine_stopped")
}

func (e *Engine) tickLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Tick()
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) watchFeed(ctx context.Context) {
	defer e.wg.Done()

	backoff := Backoff{Base: e.cfg.SubscribeRetryBase, Max: e.cfg.SubscribeRetryMax}
	attempt := 0
	for {
		var delivered atomic.Bool
		err := e.feed.WatchActiveTrips(ctx, func(trips []domain.Trip) {
			delivered.Store(true)
			e.Reconcile(trips)
		})
		if ctx.Err() != nil {
			return
		}
		if delivered.Load() {
			attempt = 0
		}

		metrics.FeedFailures.Add(1)
		delay := backoff.Delay(attempt)
		e.log.Warn("active trip feed failed",
			"action", "feed_failed", "retry_in", delay.String(), "error", err)
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Reconcile replaces the active-trip set. Trips whose status is not
// active are treated as gone.
func (e *Engine) Reconcile(trips []domain.Trip) {
	active := make(map[string]domain.Trip, len(trips))
	ids := make([]string, 0, len(trips))
	for _, t := range trips {
		if t.ID == "" || (t.Status != "" && t.Status != domain.TripActive) {
			continue
		}
		if _, dup := active[t.ID]; !dup {
			ids = append(ids, t.ID)
		}
		active[t.ID] = t
	}

	e.mu.Lock()
	e.trips = active
	e.mu.Unlock()

	metrics.Reconciles.Add(1)
	e.subs.Reconcile(ids)
}

// Tick reclassifies freshness and re-runs the alert rules for every
// tracked trip.
func (e *Engine) Tick() {
	now := e.clock.Now()

	e.mu.Lock()
	changed := e.store.Reclassify(now)
	var raised, cleared []domain.Alert
	for _, st := range e.store.All() {
		r, c := e.alerts.Evaluate(st, e.riderNameLocked(st.TripID), now)
		raised = append(raised, r...)
		cleared = append(cleared, c...)
	}
	snap := e.snapshotLocked(now)
	e.sinkLocked(nil, raised, cleared, snap)
	e.mu.Unlock()

	metrics.Ticks.Add(1)
	for _, id := range changed {
		if st, ok := e.store.Get(id); ok {
			e.log.Debug("freshness changed",
				"action", "freshness_changed", "trip_id", id, "freshness", string(st.Freshness))
		}
	}
	e.report(raised, cleared, snap)
}

func (e *Engine) handleSample(tripID string, gen uint64, s domain.LocationSample) {
	metrics.SamplesReceived.Add(1)

	s.TripID = tripID
	if err := s.Validate(); err != nil {
		metrics.SamplesMalformed.Add(1)
		e.log.Warn("discarding malformed sample",
			"action", "sample_malformed", "trip_id", tripID, "error", err)
		return
	}

	e.mu.Lock()
	if !e.subs.Current(tripID, gen) {
		e.mu.Unlock()
		metrics.SamplesLate.Add(1)
		return
	}

	now := e.clock.Now()
	s.ReceivedAt = now
	if !e.store.Apply(s) {
		e.mu.Unlock()
		metrics.SamplesStale.Add(1)
		return
	}
	e.routes.Append(tripID, s)

	st, _ := e.store.Get(tripID)
	raised, cleared := e.alerts.Evaluate(st, e.riderNameLocked(tripID), now)
	snap := e.snapshotLocked(now)
	e.sinkLocked(&s, raised, cleared, snap)
	e.mu.Unlock()

	metrics.SamplesApplied.Add(1)
	e.report(raised, cleared, snap)
}

func (e *Engine) tripOpened(tripID string) {
	e.log.Info("trip subscription open", "action", "trip_subscribed", "trip_id", tripID)
	if e.dir == nil {
		return
	}

	e.mu.Lock()
	userID := e.trips[tripID].UserID
	e.mu.Unlock()
	if userID == "" {
		return
	}
	if _, ok := e.dir.Cached(userID); !ok {
		e.refreshRider(tripID, userID)
	}
}

// refreshRider loads a rider profile in the background. At most one
// lookup per user is in flight; it never blocks the caller, which may
// hold e.mu.
func (e *Engine) refreshRider(tripID, userID string) {
	e.runMu.Lock()
	ctx := e.runCtx
	e.runMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, busy := e.lookups.LoadOrStore(userID, struct{}{}); busy {
		return
	}

	go func() {
		defer e.lookups.Delete(userID)
		ctx, cancel := context.WithTimeout(ctx, directoryLookupTimeout)
		defer cancel()
		if _, err := e.dir.Lookup(ctx, userID); err != nil {
			e.log.Debug("rider lookup failed",
				"action", "directory_lookup_failed", "trip_id", tripID, "user_id", userID, "error", err)
		}
	}()
}

func (e *Engine) tripClosed(tripID string) {
	e.mu.Lock()
	e.store.Remove(tripID)
	e.routes.Remove(tripID)
	cleared := e.alerts.RemoveTrip(tripID)
	if e.sink != nil {
		for _, a := range cleared {
			e.sink.AlertCleared(a)
		}
	}
	e.mu.Unlock()

	metrics.AlertsCleared.Add(int64(len(cleared)))
	e.log.Info("trip subscription closed", "action", "trip_unsubscribed", "trip_id", tripID)
}

// sinkLocked hands engine output to the sink while e.mu is held, so alert
// transitions of one trip reach it in the order they were decided.
func (e *Engine) sinkLocked(sample *domain.LocationSample, raised, cleared []domain.Alert, snap domain.FleetSnapshot) {
	if e.sink == nil {
		return
	}
	if sample != nil {
		e.sink.SampleApplied(*sample)
	}
	for _, a := range raised {
		e.sink.AlertRaised(a)
	}
	for _, a := range cleared {
		e.sink.AlertCleared(a)
	}
	e.sink.SnapshotTaken(snap)
}

func (e *Engine) report(raised, cleared []domain.Alert, snap domain.FleetSnapshot) {
	for _, a := range raised {
		metrics.AlertsRaised.Add(1)
		e.log.Info(a.Message,
			"action", "alert_raised", "trip_id", a.TripID, "alert_type", string(a.Type), "severity", string(a.Severity))
	}
	for _, a := range cleared {
		metrics.AlertsCleared.Add(1)
		e.log.Info("alert cleared",
			"action", "alert_cleared", "trip_id", a.TripID, "alert_type", string(a.Type))
	}
	e.notify(snap)
}

// notify delivers snap to every observer, one snapshot at a time. When
// two updates race, a snapshot older than one already delivered is
// dropped: observers always see the newest fleet state, not every step.
func (e *Engine) notify(snap domain.FleetSnapshot) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	if snap.Sequence <= e.lastNotified {
		return
	}
	e.lastNotified = snap.Sequence

	e.obsMu.Lock()
	observers := make([]Observer, 0, len(e.observers))
	for _, o := range e.observers {
		observers = append(observers, o)
	}
	e.obsMu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}

// Subscribe registers an observer. The returned function removes it and
// is safe to call more than once.
func (e *Engine) Subscribe(o Observer) (unsubscribe func()) {
	id := uuid.New()
	e.obsMu.Lock()
	e.observers[id] = o
	e.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.obsMu.Lock()
			delete(e.observers, id)
			e.obsMu.Unlock()
		})
	}
}

func (e *Engine) GetTripState(tripID string) (domain.TripState, bool) {
	return e.store.Get(tripID)
}

func (e *Engine) Route(tripID string) (domain.RouteRecord, bool) {
	return e.routes.Get(tripID)
}

func (e *Engine) ActiveAlerts() []domain.Alert {
	return e.alerts.Active()
}

// Snapshot computes the fleet view on demand. It carries the sequence of
// the last update and does not consume a new one.
func (e *Engine) Snapshot() domain.FleetSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.aggregator.Snapshot(e.clock.Now())
	snap.Sequence = e.seq
	return snap
}

// snapshotLocked numbers a snapshot produced by a tick or applied sample.
func (e *Engine) snapshotLocked(now time.Time) domain.FleetSnapshot {
	e.seq++
	snap := e.aggregator.Snapshot(now)
	snap.Sequence = e.seq
	return snap
}

func (e *Engine) describeLocked(tripID string) (domain.Trip, string) {
	t, ok := e.trips[tripID]
	if !ok {
		t = domain.Trip{ID: tripID}
	}
	return t, e.riderNameLocked(tripID)
}

func (e *Engine) riderNameLocked(tripID string) string {
	if e.dir == nil {
		return domain.UnknownRider
	}
	userID := e.trips[tripID].UserID
	if userID == "" {
		return domain.UnknownRider
	}
	p, ok := e.dir.Cached(userID)
	if !ok {
		// Expired or never loaded; show the placeholder until it is back.
		e.refreshRider(tripID, userID)
		return domain.UnknownRider
	}
	if p.Name == "" {
		return domain.UnknownRider
	}
	return p.Name
}
