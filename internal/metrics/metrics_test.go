package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordReceived_IncrementsCounterByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordReceived("issue")
	m.RecordReceived("issue")
	m.RecordReceived("note")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsReceived.WithLabelValues("issue")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsReceived.WithLabelValues("note")))
}

func TestRecordExecutionDuration_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordExecutionDuration("claude", 12.5)

	count := testutil.CollectAndCount(m.ExecutionDuration)
	require.Equal(t, 1, count)
}

func TestGauges_ReflectLastSetValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetActiveSessions(3)
	m.SetActiveWorkspaces(7)
	m.SetDispatchQueueDepth(2)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.ActiveWorkspaces))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DispatchQueueDepth))
}
