// Package metrics exposes a DCTP sender's RTT/RTO estimator and traffic
// counters as a Prometheus collector, the same Describe/Collect shape the
// retrieval pack's TCPInfoCollector uses to expose kernel TCP_INFO.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/FerdiHS/dual-channel-transport-protocol/sender"
)

const namespace = "dctp"

// SenderCollector adapts a *sender.Sender's point-in-time Metrics()
// snapshot into the Prometheus collector interface. Unlike
// TCPInfoCollector it tracks exactly one sender per instance, labeled by
// instanceID (the transport's xid) so multiple collectors can be
// registered in the same process without a name collision.
type SenderCollector struct {
	s          *sender.Sender
	instanceID string

	rtoCurrent   *prometheus.Desc
	srtt         *prometheus.Desc
	rttvar       *prometheus.Desc
	rttMin       *prometheus.Desc
	rttMax       *prometheus.Desc
	rttAvg       *prometheus.Desc
	retransmits  *prometheus.Desc
	inflight     *prometheus.Desc
	segInflight  *prometheus.Desc
	sentReliable *prometheus.Desc
	sentUnrel    *prometheus.Desc
	packetsSent  *prometheus.Desc
	packetsRecv  *prometheus.Desc
	bytesSent    *prometheus.Desc
	throughput   *prometheus.Desc
}

// NewSenderCollector builds a collector for s, labeling every series with
// instanceID.
func NewSenderCollector(s *sender.Sender, instanceID string) *SenderCollector {
	labels := []string{"instance"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(namespace+"_"+name, help, labels, nil)
	}
	return &SenderCollector{
		s:          s,
		instanceID: instanceID,

		rtoCurrent:   desc("rto_current_ms", "Current retransmission timeout in milliseconds."),
		srtt:         desc("srtt_ms", "Smoothed round-trip time estimate in milliseconds."),
		rttvar:       desc("rttvar_ms", "Round-trip time variance estimate in milliseconds."),
		rttMin:       desc("rtt_min_ms", "Minimum sampled round-trip time in milliseconds."),
		rttMax:       desc("rtt_max_ms", "Maximum sampled round-trip time in milliseconds."),
		rttAvg:       desc("rtt_avg_ms", "Average sampled round-trip time in milliseconds."),
		retransmits:  desc("retransmits_total", "Total number of reliable-channel retransmissions."),
		inflight:     desc("inflight_bytes", "Bytes currently unacknowledged."),
		segInflight:  desc("segments_inflight", "Reliable segments currently unacknowledged."),
		sentReliable: desc("segments_sent_reliable_total", "Total reliable segments sent."),
		sentUnrel:    desc("segments_sent_unreliable_total", "Total unreliable segments sent."),
		packetsSent:  desc("packets_sent_total", "Total DATA packets sent."),
		packetsRecv:  desc("packets_acked_total", "Total DATA packets acknowledged."),
		bytesSent:    desc("bytes_sent_total", "Total payload bytes sent."),
		throughput:   desc("throughput_bytes_per_second", "Payload throughput over the connection's lifetime so far."),
	}
}

// Describe implements prometheus.Collector.
func (c *SenderCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rtoCurrent
	ch <- c.srtt
	ch <- c.rttvar
	ch <- c.rttMin
	ch <- c.rttMax
	ch <- c.rttAvg
	ch <- c.retransmits
	ch <- c.inflight
	ch <- c.segInflight
	ch <- c.sentReliable
	ch <- c.sentUnrel
	ch <- c.packetsSent
	ch <- c.packetsRecv
	ch <- c.bytesSent
	ch <- c.throughput
}

// Collect implements prometheus.Collector. Optional fields in the
// snapshot (no RTT sample taken yet, no throughput computed yet) are
// simply omitted from this scrape rather than reported as zero.
func (c *SenderCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.s.Metrics()

	ch <- prometheus.MustNewConstMetric(c.rtoCurrent, prometheus.GaugeValue, float64(m.RTOCurrentMs), c.instanceID)
	ch <- prometheus.MustNewConstMetric(c.retransmits, prometheus.CounterValue, float64(m.Retransmits), c.instanceID)
	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(m.InflightBytes), c.instanceID)
	ch <- prometheus.MustNewConstMetric(c.segInflight, prometheus.GaugeValue, float64(m.SegmentsInflight), c.instanceID)
	ch <- prometheus.MustNewConstMetric(c.sentReliable, prometheus.CounterValue, float64(m.SegmentsSentReliable), c.instanceID)
	ch <- prometheus.MustNewConstMetric(c.sentUnrel, prometheus.CounterValue, float64(m.SegmentsSentUnreliable), c.instanceID)
	ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(m.TotalPacketsSent), c.instanceID)
	ch <- prometheus.MustNewConstMetric(c.packetsRecv, prometheus.CounterValue, float64(m.TotalPacketsReceived), c.instanceID)
	ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(m.TotalBytesSent), c.instanceID)

	if m.SRTTMs != nil {
		ch <- prometheus.MustNewConstMetric(c.srtt, prometheus.GaugeValue, float64(*m.SRTTMs), c.instanceID)
	}
	if m.RTTVarMs != nil {
		ch <- prometheus.MustNewConstMetric(c.rttvar, prometheus.GaugeValue, float64(*m.RTTVarMs), c.instanceID)
	}
	if m.RTTMinMs != nil {
		ch <- prometheus.MustNewConstMetric(c.rttMin, prometheus.GaugeValue, float64(*m.RTTMinMs), c.instanceID)
	}
	if m.RTTMaxMs != nil {
		ch <- prometheus.MustNewConstMetric(c.rttMax, prometheus.GaugeValue, float64(*m.RTTMaxMs), c.instanceID)
	}
	if m.RTTAvgMs != nil {
		ch <- prometheus.MustNewConstMetric(c.rttAvg, prometheus.GaugeValue, float64(*m.RTTAvgMs), c.instanceID)
	}
	if m.ThroughputBytesPerSec != nil {
		ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, *m.ThroughputBytesPerSec, c.instanceID)
	}
}
