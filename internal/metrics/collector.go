package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"spotcheck/internal/model"
)

// Collector exports analysis outcomes to Prometheus and feeds the channel
// store. It satisfies engine.Observer.
type Collector struct {
	analyses      *prometheus.CounterVec
	duration      prometheus.Histogram
	spots         prometheus.Counter
	doubleSpots   prometheus.Counter
	doubleCost    prometheus.Counter
	lastPercent   prometheus.Gauge
	rows          *prometheus.CounterVec
	kafkaMessages *prometheus.CounterVec
	store         *Store
}

// New registers the collectors on reg. A nil reg builds unregistered
// collectors.
func New(reg prometheus.Registerer, store *Store) *Collector {
	f := promauto.With(reg)
	return &Collector{
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spotcheck_analyses_total",
			Help: "Analyses run, by outcome",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "spotcheck_analysis_duration_seconds",
			Help:    "Engine time per analysis",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		spots: f.NewCounter(prometheus.CounterOpts{
			Name: "spotcheck_spots_analyzed_total",
			Help: "Spots passed through the engine",
		}),
		doubleSpots: f.NewCounter(prometheus.CounterOpts{
			Name: "spotcheck_double_spots_total",
			Help: "Spots flagged as double-booked",
		}),
		doubleCost: f.NewCounter(prometheus.CounterOpts{
			Name: "spotcheck_double_cost_total",
			Help: "Spend on double-booked spots",
		}),
		lastPercent: f.NewGauge(prometheus.GaugeOpts{
			Name: "spotcheck_last_double_percent",
			Help: "Share of double-booked spots in the latest analysis",
		}),
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spotcheck_rows_total",
			Help: "Input rows seen by the normalizer, by outcome",
		}, []string{"outcome"}),
		kafkaMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spotcheck_kafka_messages_total",
			Help: "Kafka analysis jobs, by outcome",
		}, []string{"outcome"}),
		store: store,
	}
}

func (c *Collector) AnalysisCompleted(res *model.Result, elapsed time.Duration) {
	c.analyses.WithLabelValues("ok").Inc()
	c.duration.Observe(elapsed.Seconds())
	c.spots.Add(float64(res.Metrics.TotalSpots))
	c.doubleSpots.Add(float64(res.Metrics.DoubleSpots))
	c.doubleCost.Add(res.Metrics.DoubleCost.InexactFloat64())
	c.lastPercent.Set(res.Metrics.PercentSpots)
	if c.store != nil {
		c.store.Record(res)
	}
}

func (c *Collector) AnalysisRejected(err error) {
	outcome := "error"
	if errors.Is(err, model.ErrInvalidConfiguration) {
		outcome = "invalid_config"
	}
	c.analyses.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordNormalization(report model.NormalizationReport) {
	c.rows.WithLabelValues("parsed").Add(float64(report.RowsParsed))
	c.rows.WithLabelValues("rejected").Add(float64(report.RowsRejected))
	c.rows.WithLabelValues("filtered").Add(float64(report.RowsFiltered))
}

// RecordKafka counts one consumed message; outcome is e.g. "ok",
// "duplicate", "malformed" or "failed".
func (c *Collector) RecordKafka(outcome string) {
	c.kafkaMessages.WithLabelValues(outcome).Inc()
}

func (c *Collector) Store() *Store {
	return c.store
}
