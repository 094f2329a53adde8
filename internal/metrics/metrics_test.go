package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryExportsRecordedMetrics(t *testing.T) {
	r := New()
	r.PresenceWrites.WithLabelValues("register", "ok").Inc()
	r.DedupeHits.Inc()
	r.ReplicaHealthy.WithLabelValues("replica-1").Set(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "chatcore_presence_writes_total"))
	assert.True(t, strings.Contains(body, "chatcore_gateway_dedupe_hits_total"))
	assert.True(t, strings.Contains(body, "chatcore_replica_healthy"))
}
