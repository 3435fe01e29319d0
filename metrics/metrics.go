// Package metrics exposes Prometheus collectors for grid dialects.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/lattice/dialect"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeConflict     = "conflict"
	OutcomeConnection   = "connection"
	OutcomeNotSupported = "not_supported"
	OutcomeError        = "error"
)

// Metrics holds the dialect collectors.
type Metrics struct {
	operations *prometheus.CounterVec   // By dialect, operation and outcome
	duration   *prometheus.HistogramVec // By dialect and operation
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused, so New can be called once per dialect.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lattice",
			Subsystem: "dialect",
			Name:      "operations_total",
			Help:      "Total number of grid dialect operations",
		}, []string{"dialect", "operation", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lattice",
			Subsystem: "dialect",
			Name:      "operation_duration_seconds",
			Help:      "Grid dialect operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		}, []string{"dialect", "operation"}),
	}

	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Outcome classifies an operation error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, dialect.ErrOptimisticLock), errors.Is(err, dialect.ErrTupleAlreadyExists):
		return OutcomeConflict
	case errors.Is(err, dialect.ErrConnection):
		return OutcomeConnection
	case errors.Is(err, dialect.ErrNotSupported):
		return OutcomeNotSupported
	default:
		return OutcomeError
	}
}
