package guard

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/storage"
)

const anomalyKind = "anomaly"

// AnomalyBaseline is the persisted reference point for one metric.
// The baseline moves only through Recalibrate, never through observation,
// so sustained drift stays visible.
type AnomalyBaseline struct {
	Baseline  int64 `json:"baseline"`
	LastValue int64 `json:"last_value"`
	Detected  bool  `json:"detected"`
}

// Detection describes one anomalous observation
type Detection struct {
	Metric     string `json:"metric"`
	Baseline   int64  `json:"baseline"`
	Current    int64  `json:"current"`
	Percentage int64  `json:"percentage"` // increase over baseline
}

// AnomalyDetector compares metric observations against fixed baselines and
// trips the circuit breaker for the derived operation name on detection
type AnomalyDetector struct {
	mu           sync.Mutex
	baselines    map[string]*AnomalyBaseline
	thresholdPct int64
	breaker      *CircuitBreaker
	store        *storage.LedgerStorage
	emitter      *events.Emitter
}

// NewAnomalyDetector creates a detector with a percentage-increase threshold.
// breaker may be nil when detection should not auto-trip anything.
func NewAnomalyDetector(thresholdPct int64, breaker *CircuitBreaker, store *storage.LedgerStorage, emitter *events.Emitter) (*AnomalyDetector, error) {
	if thresholdPct <= 0 {
		return nil, fmt.Errorf("anomaly threshold must be positive, got %d", thresholdPct)
	}

	ad := &AnomalyDetector{
		baselines:    make(map[string]*AnomalyBaseline),
		thresholdPct: thresholdPct,
		breaker:      breaker,
		store:        store,
		emitter:      emitter,
	}

	if store != nil {
		err := store.LoadGuardStates(anomalyKind, func(name string, data []byte) error {
			var b AnomalyBaseline
			if err := json.Unmarshal(data, &b); err != nil {
				return fmt.Errorf("corrupt anomaly baseline %q: %v", name, err)
			}
			ad.baselines[name] = &b
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return ad, nil
}

// metricOperation derives the breaker operation name for a metric
func metricOperation(metric string) string {
	return "metric:" + metric
}

// Recalibrate sets a metric's baseline and clears any detection flag. This
// is the only way a baseline changes.
func (ad *AnomalyDetector) Recalibrate(metric string, baseline int64) error {
	if baseline < 0 {
		return fmt.Errorf("baseline cannot be negative: %d", baseline)
	}

	ad.mu.Lock()
	defer ad.mu.Unlock()

	b, ok := ad.baselines[metric]
	if !ok {
		b = &AnomalyBaseline{}
		ad.baselines[metric] = b
	}

	b.Baseline = baseline
	b.Detected = false

	if ad.store != nil {
		if err := ad.store.SaveGuardState(anomalyKind, metric, b); err != nil {
			return fmt.Errorf("failed to persist baseline: %v", err)
		}
	}

	return nil
}

// Observe records a metric value and reports whether it is anomalous.
// A detection trips the breaker for the derived operation name; an already
// open breaker is left as is.
func (ad *AnomalyDetector) Observe(metric string, current int64) (bool, error) {
	if current < 0 {
		return false, fmt.Errorf("metric value cannot be negative: %d", current)
	}

	ad.mu.Lock()
	defer ad.mu.Unlock()

	b, ok := ad.baselines[metric]
	if !ok || b.Baseline == 0 {
		// no reference point yet; record and move on
		if !ok {
			b = &AnomalyBaseline{}
			ad.baselines[metric] = b
		}
		b.LastValue = current
		if ad.store != nil {
			if err := ad.store.SaveGuardState(anomalyKind, metric, b); err != nil {
				return false, fmt.Errorf("failed to persist baseline: %v", err)
			}
		}
		return false, nil
	}

	b.LastValue = current

	detected := false
	var percentage int64
	if current > b.Baseline {
		percentage = (current - b.Baseline) * 100 / b.Baseline
		detected = percentage > ad.thresholdPct
	}

	if detected {
		b.Detected = true
	}

	if ad.store != nil {
		if err := ad.store.SaveGuardState(anomalyKind, metric, b); err != nil {
			return false, fmt.Errorf("failed to persist baseline: %v", err)
		}
	}

	if detected {
		ad.emitter.Emit(events.TypeAnomalyDetected, metric, map[string]interface{}{
			"baseline": b.Baseline,
		}, map[string]interface{}{
			"current":    current,
			"percentage": percentage,
		})

		if ad.breaker != nil {
			reason := fmt.Sprintf("anomaly on %s: %d%% over baseline", metric, percentage)
			// the breaker may already be open from an earlier detection
			_ = ad.breaker.Trip(metricOperation(metric), reason)
		}
	}

	return detected, nil
}

// Baseline returns a copy of a metric's stored baseline
func (ad *AnomalyDetector) Baseline(metric string) (AnomalyBaseline, bool) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	b, ok := ad.baselines[metric]
	if !ok {
		return AnomalyBaseline{}, false
	}
	return *b, true
}
