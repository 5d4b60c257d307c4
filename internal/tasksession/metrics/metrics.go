package metrics

import (
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// Collector exports engine counters to Prometheus. It plugs into the store as
// an observer and into the restoration controller as its outcome recorder.
type Collector struct {
	storeChanges     promclient.Counter
	cacheVersion     promclient.Gauge
	selectionChanges promclient.Counter
	restoreOutcomes  *promclient.CounterVec
}

// NewCollector registers the engine metrics on reg (DefaultRegisterer when
// nil). Re-registration reuses the existing collectors so multiple engine
// instances in one process do not collide.
func NewCollector(namespace string, reg promclient.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = "task_session"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	collector := &Collector{
		storeChanges: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "store_changes_total",
			Help:      "Count of committed task collection store mutations.",
		}),
		cacheVersion: promclient.NewGauge(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_version",
			Help:      "Current version of the derived task read view.",
		}),
		selectionChanges: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "selection_changes_total",
			Help:      "Count of selected-task changes.",
		}),
		restoreOutcomes: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "restorations_total",
			Help:      "Count of restoration passes by outcome.",
		}, []string{"outcome"}),
	}

	if err := registerCounter(reg, &collector.storeChanges); err != nil {
		return nil, err
	}
	if err := reg.Register(collector.cacheVersion); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(promclient.Gauge); ok {
				collector.cacheVersion = existing
			} else {
				return nil, fmt.Errorf("register cache version gauge: %w", err)
			}
		} else {
			return nil, fmt.Errorf("register cache version gauge: %w", err)
		}
	}
	if err := registerCounter(reg, &collector.selectionChanges); err != nil {
		return nil, err
	}
	if err := reg.Register(collector.restoreOutcomes); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*promclient.CounterVec); ok {
				collector.restoreOutcomes = existing
			} else {
				return nil, fmt.Errorf("register restorations counter: %w", err)
			}
		} else {
			return nil, fmt.Errorf("register restorations counter: %w", err)
		}
	}
	return collector, nil
}

func registerCounter(reg promclient.Registerer, counter *promclient.Counter) error {
	if err := reg.Register(*counter); err != nil {
		if are, ok := err.(promclient.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(promclient.Counter); ok {
				*counter = existing
				return nil
			}
		}
		return fmt.Errorf("register counter: %w", err)
	}
	return nil
}

// StoreChanged implements store.Observer.
func (c *Collector) StoreChanged(version uint64) {
	c.storeChanges.Inc()
	c.cacheVersion.Set(float64(version))
}

// SelectionChanged implements store.Observer.
func (c *Collector) SelectionChanged(string) {
	c.selectionChanges.Inc()
}

// ObserveRestore implements the restoration controller's MetricsRecorder.
func (c *Collector) ObserveRestore(outcome string) {
	c.restoreOutcomes.WithLabelValues(outcome).Inc()
}
