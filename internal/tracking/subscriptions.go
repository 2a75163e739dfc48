package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

type subscription struct {
	tripID string
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	handle Subscription // guarded by SubscriptionManager.mu
}

// SubscriptionManager keeps exactly one telemetry subscription per active
// trip. Each opening gets a new generation number so samples from an
// older subscription of the same trip can be told apart.
type SubscriptionManager struct {
	source  TelemetrySource
	deliver func(tripID string, gen uint64, s domain.LocationSample)
	onOpen  func(tripID string)
	onClose func(tripID string)
	backoff Backoff
	log     *slog.Logger

	mu      sync.Mutex
	base    context.Context
	entries map[string]*subscription
	nextGen uint64
	stopped bool
	wg      sync.WaitGroup
}

type SubscriptionHooks struct {
	Deliver func(tripID string, gen uint64, s domain.LocationSample)
	OnOpen  func(tripID string)
	OnClose func(tripID string)
}

func NewSubscriptionManager(source TelemetrySource, hooks SubscriptionHooks, backoff Backoff, log *slog.Logger) *SubscriptionManager {
	m := &SubscriptionManager{
		source:  source,
		deliver: hooks.Deliver,
		onOpen:  hooks.OnOpen,
		onClose: hooks.OnClose,
		backoff: backoff,
		log:     log,
		base:    context.Background(),
		entries: make(map[string]*subscription),
	}
	if m.deliver == nil {
		m.deliver = func(string, uint64, domain.LocationSample) {}
	}
	if m.onOpen == nil {
		m.onOpen = func(string) {}
	}
	if m.onClose == nil {
		m.onClose = func(string) {}
	}
	return m
}

// bind makes every subscription opened from now on a child of ctx.
func (m *SubscriptionManager) bind(ctx context.Context) {
	m.mu.Lock()
	m.base = ctx
	m.mu.Unlock()
}

// Reconcile opens subscriptions for new IDs and closes those for IDs no
// longer present. An unchanged set makes no source calls.
func (m *SubscriptionManager) Reconcile(activeTripIDs []string) {
	want := make(map[string]struct{}, len(activeTripIDs))
	for _, id := range activeTripIDs {
		if id != "" {
			want[id] = struct{}{}
		}
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	var added, removed []*subscription
	for id := range want {
		if _, ok := m.entries[id]; !ok {
			added = append(added, m.newEntryLocked(id))
		}
	}
	for id, e := range m.entries {
		if _, ok := want[id]; !ok {
			delete(m.entries, id)
			removed = append(removed, e)
		}
	}
	m.mu.Unlock()

	for _, e := range removed {
		m.teardown(e)
	}
	for _, e := range added {
		m.open(e)
	}
}

func (m *SubscriptionManager) newEntryLocked(tripID string) *subscription {
	m.nextGen++
	ctx, cancel := context.WithCancel(m.base)
	e := &subscription{tripID: tripID, gen: m.nextGen, ctx: ctx, cancel: cancel}
	m.entries[tripID] = e
	return e
}

// Current reports whether gen is the live subscription for tripID.
func (m *SubscriptionManager) Current(tripID string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[tripID]
	return ok && e.gen == gen
}

// Stats returns the number of open subscriptions and of trips still
// waiting for a successful open.
func (m *SubscriptionManager) Stats() (open, pending int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.handle != nil {
			open++
		} else {
			pending++
		}
	}
	return open, pending
}

// CloseAll tears down every subscription and waits for retry loops.
// The manager accepts no further reconciles.
func (m *SubscriptionManager) CloseAll() {
	m.mu.Lock()
	m.stopped = true
	entries := make([]*subscription, 0, len(m.entries))
	for id, e := range m.entries {
		entries = append(entries, e)
		delete(m.entries, id)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.teardown(e)
	}
	m.wg.Wait()
}

func (m *SubscriptionManager) open(e *subscription) {
	err := m.tryOpen(e)
	if err == nil {
		return
	}
	m.log.Warn("subscribe failed, retrying",
		"action", "subscribe_failed", "trip_id", e.tripID, "error", err)

	m.wg.Add(1)
	go m.retry(e)
}

func (m *SubscriptionManager) retry(e *subscription) {
	defer m.wg.Done()

	for attempt := 0; ; attempt++ {
		delay := m.backoff.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := m.tryOpen(e)
		if err == nil {
			m.log.Info("subscribe recovered",
				"action", "subscribe_recovered", "trip_id", e.tripID, "attempts", attempt+2)
			return
		}
		if e.ctx.Err() != nil {
			return
		}
		m.log.Warn("subscribe retry failed",
			"action", "subscribe_failed", "trip_id", e.tripID, "next_delay", m.backoff.Delay(attempt+1).String(), "error", err)
	}
}

func (m *SubscriptionManager) tryOpen(e *subscription) error {
	h, err := m.source.SubscribeLocations(e.ctx, e.tripID, func(s domain.LocationSample) {
		m.deliver(e.tripID, e.gen, s)
	})
	if err != nil {
		metrics.SubscribeFailures.Add(1)
		return err
	}

	m.mu.Lock()
	if cur, ok := m.entries[e.tripID]; !ok || cur != e {
		// Trip left the active set while the open was in flight.
		m.mu.Unlock()
		m.closeHandle(e.tripID, h)
		return nil
	}
	e.handle = h
	metrics.OpenSubscriptions.Add(1)
	m.mu.Unlock()

	m.onOpen(e.tripID)
	return nil
}

// teardown runs once per entry: the entry has already been removed from
// the map under the lock, so no other path can reach it.
func (m *SubscriptionManager) teardown(e *subscription) {
	e.cancel()

	m.mu.Lock()
	h := e.handle
	e.handle = nil
	m.mu.Unlock()

	if h != nil {
		metrics.OpenSubscriptions.Add(-1)
		m.closeHandle(e.tripID, h)
	}
	m.onClose(e.tripID)
}

func (m *SubscriptionManager) closeHandle(tripID string, h Subscription) {
	if err := h.Close(); err != nil {
		m.log.Warn("unsubscribe failed", "action", "unsubscribe_failed", "trip_id", tripID, "error", err)
	}
}
