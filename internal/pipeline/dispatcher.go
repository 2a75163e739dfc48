package pipeline

import (
	"time"

	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/metrics"
)

// Dispatcher is the engine's event sink. It never blocks: when a worker
// falls behind, events for it are dropped and counted.
type Dispatcher struct {
	ArchiveChan  chan domain.LocationSample
	AlertChan    chan domain.AlertEvent
	SnapshotChan chan domain.FleetSnapshot

	now func() time.Time
}

func NewDispatcher(archiveSize, alertSize, snapshotSize int) *Dispatcher {
	return &Dispatcher{
		ArchiveChan:  make(chan domain.LocationSample, archiveSize),
		AlertChan:    make(chan domain.AlertEvent, alertSize),
		SnapshotChan: make(chan domain.FleetSnapshot, snapshotSize),
		now:          time.Now,
	}
}

func (d *Dispatcher) SampleApplied(s domain.LocationSample) {
	select {
	case d.ArchiveChan <- s:
	default:
		metrics.SampleChannelDrops.Add(1)
	}
}

func (d *Dispatcher) AlertRaised(a domain.Alert) {
	d.dispatchAlert(domain.AlertEvent{Transition: domain.AlertTransitionRaised, Alert: a, At: a.RaisedAt})
}

func (d *Dispatcher) AlertCleared(a domain.Alert) {
	d.dispatchAlert(domain.AlertEvent{Transition: domain.AlertTransitionCleared, Alert: a, At: d.now()})
}

func (d *Dispatcher) dispatchAlert(ev domain.AlertEvent) {
	select {
	case d.AlertChan <- ev:
	default:
		metrics.AlertChannelDrops.Add(1)
	}
}

// SnapshotTaken keeps only the newest snapshots: a full channel drops
// the incoming one since a later snapshot will supersede it anyway.
func (d *Dispatcher) SnapshotTaken(s domain.FleetSnapshot) {
	select {
	case d.SnapshotChan <- s:
	default:
		metrics.SnapshotChannelDrops.Add(1)
	}
}
