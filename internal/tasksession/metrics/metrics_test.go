package metrics

import (
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsChangesAndOutcomes(t *testing.T) {
	reg := promclient.NewRegistry()
	collector, err := NewCollector("test_engine", reg)
	require.NoError(t, err)

	collector.StoreChanged(1)
	collector.StoreChanged(2)
	collector.SelectionChanged("task-a")
	collector.ObserveRestore("rehydrated")
	collector.ObserveRestore("rehydrated")
	collector.ObserveRestore("kept_local")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.storeChanges))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.cacheVersion))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.selectionChanges))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.restoreOutcomes.WithLabelValues("rehydrated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.restoreOutcomes.WithLabelValues("kept_local")))
}

func TestCollectorSurvivesDoubleRegistration(t *testing.T) {
	reg := promclient.NewRegistry()
	first, err := NewCollector("test_engine", reg)
	require.NoError(t, err)
	second, err := NewCollector("test_engine", reg)
	require.NoError(t, err)

	first.StoreChanged(1)
	second.StoreChanged(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.storeChanges))
}
