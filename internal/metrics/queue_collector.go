package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Lener is anything that can report how many items it is holding.
type Lener interface {
	Len() int
}

type queueCollector struct {
	queue     Lener
	depthDesc *prometheus.Desc
}

// NewQueueCollector exposes the current depth of a pipeline queue as a gauge.
func NewQueueCollector(q Lener) prometheus.Collector {
	return &queueCollector{
		queue: q,
		depthDesc: prometheus.NewDesc(
			namespace+"_queue_depth",
			"Results buffered in the pipeline queue and not yet taken by the consumer.",
			nil,
			nil,
		),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depthDesc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	emitGauge(ch, c.depthDesc, float64(c.queue.Len()))
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}
