package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recipe_app"

// Metrics contains all Prometheus metrics for the recipe API.
type Metrics struct {
	// Recipes.
	RecipesCreated prometheus.Counter
	RecipesUpdated prometheus.Counter
	RecipesDeleted prometheus.Counter

	// Tags and ingredients.
	AttributesChanged *prometheus.CounterVec

	// Users.
	UsersRegistered *prometheus.CounterVec
	Logins          *prometheus.CounterVec

	// Audit.
	AuditEntriesPruned prometheus.Counter

	// HTTP.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// WebSocket.
	WebSocketClients prometheus.Gauge

	// Build info.
	BuildInfo *prometheus.GaugeVec
}

// New creates a new Metrics instance and registers all metrics with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Recipes.
		RecipesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipes_created_total",
				Help:      "Total number of recipes created",
			},
		),
		RecipesUpdated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipes_updated_total",
				Help:      "Total number of recipes updated",
			},
		),
		RecipesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipes_deleted_total",
				Help:      "Total number of recipes deleted",
			},
		),

		// Tags and ingredients.
		AttributesChanged: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attributes_changed_total",
				Help:      "Total number of tag and ingredient renames and deletions",
			},
			[]string{"kind", "action"},
		),

		// Users.
		UsersRegistered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "users_registered_total",
				Help:      "Total number of user accounts created",
			},
			[]string{"method"},
		),
		Logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Total number of login attempts",
			},
			[]string{"method", "result"},
		),

		// Audit.
		AuditEntriesPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_entries_pruned_total",
				Help:      "Total number of audit entries removed by retention cleanup",
			},
		),

		// HTTP.
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// WebSocket.
		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Number of connected WebSocket clients",
			},
		),

		// Build info.
		BuildInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information",
			},
			[]string{"version", "commit", "date"},
		),
	}

	return m
}

// SetBuildInfo sets the build info metric.
func (m *Metrics) SetBuildInfo(version, commit, date string) {
	m.BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// RecordRecipeCreated increments the recipes created counter.
func (m *Metrics) RecordRecipeCreated() {
	m.RecipesCreated.Inc()
}

// RecordRecipeUpdated increments the recipes updated counter.
func (m *Metrics) RecordRecipeUpdated() {
	m.RecipesUpdated.Inc()
}

// RecordRecipeDeleted increments the recipes deleted counter.
func (m *Metrics) RecordRecipeDeleted() {
	m.RecipesDeleted.Inc()
}

// RecordAttributeChange records a tag or ingredient rename or deletion.
func (m *Metrics) RecordAttributeChange(kind, action string) {
	m.AttributesChanged.WithLabelValues(kind, action).Inc()
}

// RecordUserRegistered records a new account.
func (m *Metrics) RecordUserRegistered(method string) {
	m.UsersRegistered.WithLabelValues(method).Inc()
}

// RecordLogin records a login attempt and its outcome.
func (m *Metrics) RecordLogin(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}

	m.Logins.WithLabelValues(method, result).Inc()
}

// RecordAuditPruned adds n to the pruned audit entries counter.
func (m *Metrics) RecordAuditPruned(n int64) {
	m.AuditEntriesPruned.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// SetWebSocketClients sets the connected WebSocket clients gauge.
func (m *Metrics) SetWebSocketClients(n int) {
	m.WebSocketClients.Set(float64(n))
}
