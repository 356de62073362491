package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a sync replica
type Metrics struct {
	// Message protocol metrics
	MessagesSentTotal     *prometheus.CounterVec
	MessagesReceivedTotal *prometheus.CounterVec
	MessagesRejectedTotal prometheus.Counter
	HeartbeatsSentTotal   prometheus.Counter
	PendingMessages       prometheus.Gauge

	// Device registry metrics
	DevicesKnown   prometheus.Gauge
	DevicesOnline  prometheus.Gauge
	DevicesEvicted prometheus.Counter

	// Conflict metrics
	ConflictsDetectedTotal prometheus.Counter
	ConflictsResolvedTotal *prometheus.CounterVec
	ManualResolutionsTotal prometheus.Counter

	// Delta engine metrics
	ChangesDetectedTotal  *prometheus.CounterVec
	PatchesGeneratedTotal prometheus.Counter
	PatchesAppliedTotal   prometheus.Counter
	PatchFailuresTotal    *prometheus.CounterVec
	PatchSizeReduction    prometheus.Histogram
}

// New creates and registers all metrics on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_messages_sent_total",
			Help: "Total sync messages sent, by message type",
		}, []string{"type"}),
		MessagesReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_messages_received_total",
			Help: "Total sync messages received, by message type",
		}, []string{"type"}),
		MessagesRejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_messages_rejected_total",
			Help: "Total messages rejected for checksum mismatch",
		}),
		HeartbeatsSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_heartbeats_sent_total",
			Help: "Total heartbeats broadcast",
		}),
		PendingMessages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "driftsync_pending_messages",
			Help: "Messages awaiting acknowledgment",
		}),
		DevicesKnown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "driftsync_devices_known",
			Help: "Devices currently in the registry",
		}),
		DevicesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "driftsync_devices_online",
			Help: "Devices currently marked online",
		}),
		DevicesEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_devices_evicted_total",
			Help: "Offline devices evicted under registry pressure",
		}),
		ConflictsDetectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_conflicts_detected_total",
			Help: "Concurrent-edit conflicts detected",
		}),
		ConflictsResolvedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_conflicts_resolved_total",
			Help: "Conflicts resolved, by strategy",
		}, []string{"strategy"}),
		ManualResolutionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_manual_resolutions_total",
			Help: "Conflicts surfaced for manual resolution",
		}),
		ChangesDetectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_changes_detected_total",
			Help: "Entity changes detected, by operation",
		}, []string{"operation"}),
		PatchesGeneratedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_patches_generated_total",
			Help: "Delta patches generated",
		}),
		PatchesAppliedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftsync_patches_applied_total",
			Help: "Delta patches applied successfully",
		}),
		PatchFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftsync_patch_failures_total",
			Help: "Patch application failures, by kind (integrity or causality)",
		}, []string{"kind"}),
		PatchSizeReduction: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftsync_patch_size_reduction",
			Help:    "Patch size reduction ratio relative to the full entity",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}
