package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	SamplesReceived  atomic.Int64
	SamplesApplied   atomic.Int64
	SamplesStale     atomic.Int64
	SamplesMalformed atomic.Int64
	SamplesLate      atomic.Int64

	SubscribeFailures atomic.Int64
	OpenSubscriptions atomic.Int64
	FeedFailures      atomic.Int64
	Reconciles        atomic.Int64

	Ticks         atomic.Int64
	AlertsRaised  atomic.Int64
	AlertsCleared atomic.Int64

	ArchiveWriteSuccess  atomic.Int64
	ArchiveWriteFailures atomic.Int64
	StateWriteFailures   atomic.Int64
	AlertPublishFailures atomic.Int64

	SampleChannelDrops   atomic.Int64
	AlertChannelDrops    atomic.Int64
	SnapshotChannelDrops atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "tracker_samples_received_total %d\n", SamplesReceived.Load())
	fmt.Fprintf(w, "tracker_samples_applied_total %d\n", SamplesApplied.Load())
	fmt.Fprintf(w, "tracker_samples_stale_total %d\n", SamplesStale.Load())
	fmt.Fprintf(w, "tracker_samples_malformed_total %d\n", SamplesMalformed.Load())
	fmt.Fprintf(w, "tracker_samples_late_total %d\n", SamplesLate.Load())
	fmt.Fprintf(w, "tracker_subscribe_failures_total %d\n", SubscribeFailures.Load())
	fmt.Fprintf(w, "tracker_open_subscriptions %d\n", OpenSubscriptions.Load())
	fmt.Fprintf(w, "tracker_feed_failures_total %d\n", FeedFailures.Load())
	fmt.Fprintf(w, "tracker_reconciles_total %d\n", Reconciles.Load())
	fmt.Fprintf(w, "tracker_ticks_total %d\n", Ticks.Load())
	fmt.Fprintf(w, "tracker_alerts_raised_total %d\n", AlertsRaised.Load())
	fmt.Fprintf(w, "tracker_alerts_cleared_total %d\n", AlertsCleared.Load())
	fmt.Fprintf(w, "tracker_archive_write_success_total %d\n", ArchiveWriteSuccess.Load())
	fmt.Fprintf(w, "tracker_archive_write_failures_total %d\n", ArchiveWriteFailures.Load())
	fmt.Fprintf(w, "tracker_state_write_failures_total %d\n", StateWriteFailures.Load())
	fmt.Fprintf(w, "tracker_alert_publish_failures_total %d\n", AlertPublishFailures.Load())
	fmt.Fprintf(w, "tracker_sample_channel_drops_total %d\n", SampleChannelDrops.Load())
	fmt.Fprintf(w, "tracker_alert_channel_drops_total %d\n", AlertChannelDrops.Load())
	fmt.Fprintf(w, "tracker_snapshot_channel_drops_total %d\n", SnapshotChannelDrops.Load())
}
