package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var sessionLabelDesc = prometheus.NewDesc(
	"detect_session_detections", "Detections in the session log grouped by label.", []string{"label"}, nil,
)

// LabelCollector reports per-label counts of the session log on every
// scrape.
type LabelCollector struct {
	Counts func() map[string]int
}

func (c *LabelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sessionLabelDesc
}

func (c *LabelCollector) Collect(ch chan<- prometheus.Metric) {
	for label, n := range c.Counts() {
		ch <- prometheus.MustNewConstMetric(sessionLabelDesc, prometheus.GaugeValue, float64(n), label)
	}
}

// Register adds an extra collector to the registry.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}
