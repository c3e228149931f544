// Package observability exposes the prometheus collectors shared by the presence engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/presence-hub/internal/presence"
)

var (
	detectionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_hub",
		Subsystem: "ingest",
		Name:      "detections_total",
		Help:      "Detections submitted, grouped by outcome.",
	}, []string{"result"})

	changesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_hub",
		Subsystem: "store",
		Name:      "changes_total",
		Help:      "Presence store mutations grouped by kind.",
	}, []string{"kind"})

	activePresencesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "presence_hub",
		Subsystem: "store",
		Name:      "active_presences",
		Help:      "Active presences per location.",
	}, []string{"location_id"})

	subscribersGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "presence_hub",
		Subsystem: "hub",
		Name:      "subscribers",
		Help:      "Connected dashboard subscribers per location.",
	}, []string{"location_id"})

	droppedSubscribersCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_hub",
		Subsystem: "hub",
		Name:      "subscribers_dropped_total",
		Help:      "Subscribers removed by the hub, grouped by reason.",
	}, []string{"reason"})

	evictionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_hub",
		Subsystem: "store",
		Name:      "evictions_total",
		Help:      "Presences removed after their timeout, per location.",
	}, []string{"location_id"})

	sweepsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "presence_hub",
		Subsystem: "eviction",
		Name:      "sweeps_total",
		Help:      "Completed eviction sweeps.",
	})

	mqttMessagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_hub",
		Subsystem: "mqtt",
		Name:      "messages_total",
		Help:      "MQTT detection messages received, grouped by outcome.",
	}, []string{"result"})

	auditErrorsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence_hub",
		Subsystem: "audit",
		Name:      "write_errors_total",
		Help:      "Change-log records that could not be written or were dropped.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		detectionsCounter,
		changesCounter,
		activePresencesGauge,
		subscribersGauge,
		droppedSubscribersCounter,
		evictionsCounter,
		sweepsCounter,
		mqttMessagesCounter,
		auditErrorsCounter,
	)
}

// RecordDetection counts an ingestion outcome ("accepted", "unauthorized", ...).
func RecordDetection(result string) {
	detectionsCounter.WithLabelValues(result).Inc()
}

// RecordSweep counts a completed eviction sweep.
func RecordSweep() {
	sweepsCounter.Inc()
}

// SetSubscribers sets the subscriber gauge for a location.
func SetSubscribers(locationID string, n int) {
	subscribersGauge.WithLabelValues(locationID).Set(float64(n))
}

// RecordSubscriberDropped counts a subscriber removed by the hub.
func RecordSubscriberDropped(reason string) {
	droppedSubscribersCounter.WithLabelValues(reason).Inc()
}

// RecordMQTTMessage counts an MQTT message outcome.
func RecordMQTTMessage(result string) {
	mqttMessagesCounter.WithLabelValues(result).Inc()
}

// RecordAuditError counts a change-log record that was not written ("queue_full", "write", ...).
func RecordAuditError(reason string) {
	auditErrorsCounter.WithLabelValues(reason).Inc()
}

// Publisher counts every change batch the store publishes. It implements presence.Publisher.
//
// Every store mutation, lazy evictions included, is published, so the active presence gauge is
// kept exact by applying each batch's net count. Publish runs under the partition lock and must
// not read the store.
type Publisher struct{}

// Publish implements presence.Publisher.
func (Publisher) Publish(locationID string, _ uint64, changes []presence.Change) {
	delta := 0
	for _, c := range changes {
		changesCounter.WithLabelValues(string(c.Kind)).Inc()
		switch c.Kind {
		case presence.ChangeAdded:
			delta++
		case presence.ChangeRemoved:
			delta--
			evictionsCounter.WithLabelValues(locationID).Inc()
		}
	}
	if delta != 0 {
		activePresencesGauge.WithLabelValues(locationID).Add(float64(delta))
	}
}
