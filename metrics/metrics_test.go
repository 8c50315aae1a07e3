package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/FerdiHS/dual-channel-transport-protocol/sender"
)

func collectAll(t *testing.T, c *SenderCollector) []*dto.Metric {
	t.Helper()
	descs := make(chan *prometheus.Desc, 32)
	c.Describe(descs)
	close(descs)
	if len(descs) == 0 {
		t.Fatal("Describe() yielded no descriptors")
	}

	ch := make(chan prometheus.Metric, 32)
	c.Collect(ch)
	close(ch)

	var out []*dto.Metric
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("Write: %v", err)
		}
		out = append(out, &pb)
	}
	return out
}

func TestSenderCollectorOmitsUnsampledRTTFields(t *testing.T) {
	s := sender.New(sender.Config{MSS: 100, Window: 1000})
	c := NewSenderCollector(s, "test-instance")

	metrics := collectAll(t, c)

	// Before any RTT sample, SRTTMs/RTTVarMs/etc are nil in the snapshot,
	// so only the always-present gauges/counters should appear.
	if len(metrics) == 0 {
		t.Fatal("Collect() yielded no metrics")
	}
	// rto_current, retransmits, inflight, segments_inflight, the two
	// segments_sent counters, packets_sent, packets_acked, bytes_sent.
	if len(metrics) != 9 {
		t.Fatalf("Collect() yielded %d metrics; want 9 (RTT and throughput series omitted)", len(metrics))
	}
	for _, m := range metrics {
		for _, lbl := range m.GetLabel() {
			if lbl.GetName() == "instance" && lbl.GetValue() != "test-instance" {
				t.Errorf("instance label = %q; want %q", lbl.GetValue(), "test-instance")
			}
		}
	}
}
