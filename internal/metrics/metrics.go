// Package metrics wires the Prometheus collectors for odin-db: connection
// and command counters, broadcast bus counters, table size, reaper
// activity, and process resource gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by odin-db. It implements
// store.Observer and broadcast.Observer so the table and bus can report
// activity without importing this package.
type Registry struct {
	ActiveConnections prometheus.Gauge
	AcceptErrors      prometheus.Counter

	CommandsProcessed *prometheus.CounterVec

	BroadcastPublished prometheus.Counter
	BroadcastDelivered prometheus.Counter
	BroadcastDropped   prometheus.Counter
	NoSubscriberDrops  prometheus.Counter

	TableEntries  prometheus.Gauge
	ReaperWakes   prometheus.Counter
	ReaperPasses  prometheus.Counter
	ReaperRemoved prometheus.Counter

	ProcessCPUPercent prometheus.Gauge
	ProcessRSSBytes   prometheus.Gauge
}

// NewRegistry creates and registers every odin-db Prometheus collector.
func NewRegistry() *Registry {
	return &Registry{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_db_connections_active",
			Help: "Number of active WebSocket connections.",
		}),
		AcceptErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_db_accept_errors_total",
			Help: "Total number of WebSocket upgrade/handshake errors.",
		}),
		CommandsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "odin_db_commands_processed_total",
			Help: "Total number of commands processed, by kind.",
		}, []string{"command"}),
		BroadcastPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_db_broadcast_published_total",
			Help: "Total number of envelopes accepted by the broadcast bus.",
		}),
		BroadcastDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_db_broadcast_delivered_total",
			Help: "Total number of envelopes forwarded to a client after the delivery filter.",
		}),
		BroadcastDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_db_broadcast_backlog_dropped_total",
			Help: "Total number of envelopes dropped from a subscriber backlog due to overflow.",
		}),
		NoSubscriberDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_db_broadcast_no_subscribers_total",
			Help: "Total number of publishes with zero subscribers.",
		}),
		TableEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_db_table_entries",
			Help: "Current number of entries in the expiring table, including not-yet-reaped ones.",
		}),
		ReaperWakes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_db_reaper_wakes_total",
			Help: "Total number of times the reaper woke early due to a sooner expiry.",
		}),
		ReaperPasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_db_reaper_passes_total",
			Help: "Total number of reaper sweeps that removed at least one entry.",
		}),
		ReaperRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "odin_db_reaper_removed_total",
			Help: "Total number of expired entries removed by the reaper.",
		}),
		ProcessCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_db_process_cpu_percent",
			Help: "Smoothed process CPU utilization percentage.",
		}),
		ProcessRSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "odin_db_process_rss_bytes",
			Help: "Resident set size of the server process in bytes.",
		}),
	}
}

// Handler returns an HTTP handler exposing these metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// TableSize implements store.Observer.
func (r *Registry) TableSize(n int) { r.TableEntries.Set(float64(n)) }

// ReaperWake implements store.Observer.
func (r *Registry) ReaperWake() { r.ReaperWakes.Inc() }

// ReaperPass implements store.Observer.
func (r *Registry) ReaperPass(removed int) {
	r.ReaperPasses.Inc()
	r.ReaperRemoved.Add(float64(removed))
}

// Published implements broadcast.Observer.
func (r *Registry) Published() { r.BroadcastPublished.Inc() }

// Delivered implements broadcast.Observer.
func (r *Registry) Delivered() { r.BroadcastDelivered.Inc() }

// Dropped implements broadcast.Observer.
func (r *Registry) Dropped(n int) { r.BroadcastDropped.Add(float64(n)) }

// CommandProcessed records that a command of the given kind was handled.
func (r *Registry) CommandProcessed(kind string) {
	r.CommandsProcessed.WithLabelValues(kind).Inc()
}
