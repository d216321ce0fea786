package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"actsasversioned/pkg/versioning"
)

type prometheusObserver struct {
	queued      *prometheus.CounterVec
	written     *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	flushes     *prometheus.HistogramVec
	openGauge   prometheus.Gauge
	closedTotal *prometheus.CounterVec
}

var (
	queuedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versioned_work_units_total",
		Help: "Work units queued per entity and operation",
	}, []string{"entity", "op"})
	writtenCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versioned_history_rows_written_total",
		Help: "History rows written per table",
	}, []string{"table"})
	skippedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versioned_history_rows_skipped_total",
		Help: "Updates that produced no history row because only auto-update fields changed",
	}, []string{"table"})
	flushHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "versioned_flush_duration_seconds",
		Help:    "Duration of pre-commit history flushes",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
	openAggregators = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "versioned_open_aggregators",
		Help: "Transactions currently accumulating work units",
	})
	closedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "versioned_transactions_total",
		Help: "Tracked transactions by outcome",
	}, []string{"outcome"})
)

func NewPrometheusObserver() VersioningObserver {
	return &prometheusObserver{
		queued:      queuedCounter,
		written:     writtenCounter,
		skipped:     skippedCounter,
		flushes:     flushHistogram,
		openGauge:   openAggregators,
		closedTotal: closedCounter,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) WorkUnitQueued(entity string, op versioning.Op) {
	p.queued.WithLabelValues(entity, op.String()).Inc()
}

func (p *prometheusObserver) RowWritten(table string) {
	p.written.WithLabelValues(table).Inc()
}

func (p *prometheusObserver) RowSkipped(table string) {
	p.skipped.WithLabelValues(table).Inc()
}

func (p *prometheusObserver) FlushObserved(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.flushes.WithLabelValues(result).Observe(d.Seconds())
}

func (p *prometheusObserver) AggregatorOpened() {
	p.openGauge.Inc()
}

func (p *prometheusObserver) AggregatorClosed(committed bool) {
	p.openGauge.Dec()
	outcome := "rolled_back"
	if committed {
		outcome = "committed"
	}
	p.closedTotal.WithLabelValues(outcome).Inc()
}
