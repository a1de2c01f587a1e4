package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// collector exposes core counters to Prometheus as const metrics read from
// live snapshots, so no metric updates sit on the hot path.
type collector struct {
	src Sources

	calls   *prometheus.Desc
	errs    *prometheus.Desc
	stored  *prometheus.Desc
	locks   *prometheus.Desc
	pending *prometheus.Desc
	cycles  *prometheus.Desc
}

func newCollector(src Sources) *collector {
	return &collector{
		src: src,
		calls: prometheus.NewDesc("remindbot_retry_calls_total",
			"Outbound calls by outcome.", []string{"outcome"}, nil),
		errs: prometheus.NewDesc("remindbot_retry_errors_total",
			"Failed outbound attempts by error class.", []string{"class"}, nil),
		stored: prometheus.NewDesc("remindbot_reminders",
			"Reminders currently tracked.", nil, nil),
		locks: prometheus.NewDesc("remindbot_guild_locks",
			"Guild locks currently cached.", nil, nil),
		pending: prometheus.NewDesc("remindbot_debounce_pending",
			"Reaction resyncs currently armed.", nil, nil),
		cycles: prometheus.NewDesc("remindbot_scheduler_cycles_total",
			"Completed due-processing cycles.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.errs
	ch <- c.stored
	ch <- c.locks
	ch <- c.pending
	ch <- c.cycles
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Retry != nil {
		s := c.src.Retry.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Total), "total")
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Success), "success")
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Failed), "failed")
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Retried), "retried")
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(s.Recovered), "recovered")
		for class, n := range s.Errors {
			ch <- prometheus.MustNewConstMetric(c.errs, prometheus.CounterValue, float64(n), class)
		}
	}
	if c.src.Store != nil {
		ch <- prometheus.MustNewConstMetric(c.stored, prometheus.GaugeValue, float64(c.src.Store.Count()))
	}
	if c.src.Locks != nil {
		ch <- prometheus.MustNewConstMetric(c.locks, prometheus.GaugeValue, float64(c.src.Locks.Len()))
	}
	if c.src.Queue != nil {
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.src.Queue.Pending()))
	}
	if c.src.Sched != nil {
		ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(c.src.Sched.Snapshot().Cycles))
	}
}
