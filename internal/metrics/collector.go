package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to live pipeline
// state that isn't already tracked as a plain counter.
type PipelineStats interface {
	QueueDepth() int
	ActiveTranscriptionJobs() int
	InboxDepth() int
}

// Collector implements prometheus.Collector to read live gauges at scrape
// time instead of requiring every caller to push updates eagerly.
type Collector struct {
	stats PipelineStats

	queueDepth *prometheus.Desc
	activeJobs *prometheus.Desc
	inboxDepth *prometheus.Desc
}

// NewCollector creates a collector reading live state at scrape time.
// stats may be nil before the pipeline has finished wiring up.
func NewCollector(stats PipelineStats) *Collector {
	return &Collector{
		stats: stats,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "pipeline_queue_depth_live"),
			"Current pipeline worker queue depth, read at scrape time.",
			nil, nil,
		),
		activeJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_transcription_jobs_live"),
			"Current number of in-flight transcription jobs, read at scrape time.",
			nil, nil,
		),
		inboxDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "inbox_depth"),
			"Current number of WAV files waiting in the inbox.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.activeJobs
	ch <- c.inboxDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.inboxDepth, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(c.stats.QueueDepth()))
	ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, float64(c.stats.ActiveTranscriptionJobs()))
	ch <- prometheus.MustNewConstMetric(c.inboxDepth, prometheus.GaugeValue, float64(c.stats.InboxDepth()))
}
