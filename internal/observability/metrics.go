// Package observability holds Prometheus metrics for minutes generation and
// editing.
package observability

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics is safe to share across requests. A nil *Metrics records nothing.
type Metrics struct {
	GenerationAttemptsTotal *prometheus.CounterVec
	GenerationSeconds       prometheus.Histogram
	GenerationResultsTotal  *prometheus.CounterVec
	EditsTotal              *prometheus.CounterVec
}

// DefaultMetrics registers metrics on the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// WriteText renders everything g gathers in the Prometheus text format and
// returns the content type to serve it with.
func WriteText(w io.Writer, g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", fmt.Errorf("observability: gather: %w", err)
	}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("observability: encode %s: %w", mf.GetName(), err)
		}
	}
	return string(format), nil
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		GenerationAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutes_generation_attempts_total",
				Help: "Provider calls made while generating minutes, by outcome",
			},
			[]string{"outcome"},
		),
		GenerationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "minutes_generation_duration_seconds",
				Help:    "Wall-clock time of a generate request including retries",
				Buckets: []float64{0.5, 1, 2, 5, 9, 15, 30, 60},
			},
		),
		GenerationResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutes_generation_results_total",
				Help: "Generate requests by result code",
			},
			[]string{"code"},
		),
		EditsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "minutes_edits_total",
				Help: "Edit requests by result code",
			},
			[]string{"code"},
		),
	}
}

func (m *Metrics) ObserveAttempt(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.GenerationAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGeneration(code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GenerationResultsTotal.WithLabelValues(code).Inc()
	m.GenerationSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveEdit(code string) {
	if m == nil {
		return
	}
	m.EditsTotal.WithLabelValues(code).Inc()
}
