package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRecipeCreated()
	m.RecordRecipeCreated()
	m.RecordRecipeDeleted()
	m.RecordLogin("password", true)
	m.RecordLogin("password", false)
	m.RecordLogin("password", false)
	m.RecordAuditPruned(3)
	m.SetWebSocketClients(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecipesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecipesDeleted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecipesUpdated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Logins.WithLabelValues("password", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Logins.WithLabelValues("password", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AuditEntriesPruned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebSocketClients))
}

func TestSeparateRegistries(t *testing.T) {
	// Registering twice against fresh registries must not panic.
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
