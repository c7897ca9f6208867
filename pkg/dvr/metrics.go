package dvr

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// allDropReasons enumerates every reason Forward can hand back, so Collect
// always exports a zero series for reasons that haven't fired yet rather
// than only the ones observed so far.
var allDropReasons = []string{
	DropNonIPv4,
	DropBadChecksum,
	DropTTLExpired,
	DropLocalDelivery,
	DropNoRoute,
	DropSameInterface,
	DropARPUnresolved,
	DropSerializeError,
}

// MetricsCollector exposes route table size, per-prefix route age, and
// forwarder drop counters as Prometheus series, following the same
// Describe/Collect shape rbt.StatsCollector uses.
type MetricsCollector struct {
	table     *Table
	forwarder *Forwarder

	routeCountDesc *prometheus.Desc
	routeAgeDesc   *prometheus.Desc
	routeMetric    *prometheus.Desc
	dropsDesc      *prometheus.Desc
}

// NewMetricsCollector builds a collector over table and forwarder. forwarder
// may be nil if only route-table metrics are wanted (e.g. in a test harness
// with no live forwarding path).
func NewMetricsCollector(table *Table, forwarder *Forwarder) *MetricsCollector {
	return &MetricsCollector{
		table:     table,
		forwarder: forwarder,
		routeCountDesc: prometheus.NewDesc(
			"dvr_route_table_entries", "Number of entries currently in the route table.", nil, nil),
		routeAgeDesc: prometheus.NewDesc(
			"dvr_route_age_seconds", "Seconds since a route's last refresh.",
			[]string{"prefix", "mask", "iface"}, nil),
		routeMetric: prometheus.NewDesc(
			"dvr_route_metric", "Current RIP metric (hop count) for a route.",
			[]string{"prefix", "mask", "iface"}, nil),
		dropsDesc: prometheus.NewDesc(
			"dvr_forwarder_drops_total", "Packets dropped by the forwarder, by reason.",
			[]string{"reason"}, nil),
	}
}

func (c *MetricsCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.routeCountDesc
	descs <- c.routeAgeDesc
	descs <- c.routeMetric
	descs <- c.dropsDesc
}

func (c *MetricsCollector) Collect(metrics chan<- prometheus.Metric) {
	entries := c.table.Snapshot()
	metrics <- prometheus.MustNewConstMetric(c.routeCountDesc, prometheus.GaugeValue, float64(len(entries)))

	now := time.Now()
	for _, e := range entries {
		labels := []string{ipString(e.Destination), ipString(e.Mask), e.Iface}
		age := now.Sub(e.LastRefresh).Seconds()
		metrics <- prometheus.MustNewConstMetric(c.routeAgeDesc, prometheus.GaugeValue, age, labels...)
		metrics <- prometheus.MustNewConstMetric(c.routeMetric, prometheus.GaugeValue, float64(e.Metric), labels...)
	}

	if c.forwarder == nil {
		return
	}
	counts := c.forwarder.DropCounts()
	for _, reason := range allDropReasons {
		metrics <- prometheus.MustNewConstMetric(c.dropsDesc, prometheus.CounterValue, float64(counts[reason]), reason)
	}
}

func ipString(v uint32) string {
	return strconv.Itoa(int((v>>24)&0xFF)) + "." + strconv.Itoa(int((v>>16)&0xFF)) + "." +
		strconv.Itoa(int((v>>8)&0xFF)) + "." + strconv.Itoa(int(v&0xFF))
}
