package sender

import (
	"testing"

	"github.com/FerdiHS/dual-channel-transport-protocol/packet"
	"github.com/FerdiHS/dual-channel-transport-protocol/types"
)

// fakeClock is a manually-advanced Clock for deterministic RTO/RTT tests.
type fakeClock struct {
	now uint32
}

func (c *fakeClock) NowMs() uint32 { return c.now }
func (c *fakeClock) advance(ms uint32) { c.now += ms }

// fakeRand returns a fixed sequence of draws, cycling if exhausted.
type fakeRand struct {
	vals []float64
	i    int
}

func (r *fakeRand) Float64() float64 {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v
}

func newTestSender(clk *fakeClock, rng *fakeRand, probReliable float64) *Sender {
	return New(Config{
		MSS:          8,
		Window:       1 << 20,
		Clock:        clk,
		Rand:         rng,
		ProbReliable: probReliable,
		SackEnabled:  true,
	})
}

// S9 — Offer segments data to MSS and routes every draw below
// prob_reliable onto the reliable channel.
func TestOfferSegmentsAndRoutesAllReliable(t *testing.T) {
	clk := &fakeClock{}
	rng := &fakeRand{vals: []float64{0.0}}
	s := newTestSender(clk, rng, 1.0)

	n := s.Offer([]byte("0123456789ABCDE")) // 15 bytes, MSS=8 -> 2 segments
	if n != 15 {
		t.Fatalf("Offer() = %d; want 15", n)
	}

	due := s.DuePackets()
	if len(due) != 2 {
		t.Fatalf("len(DuePackets()) = %d; want 2", len(due))
	}
	if due[0].Seq != 0 || due[1].Seq != 8 {
		t.Fatalf("due seqs = [%d, %d]; want [0, 8]", due[0].Seq, due[1].Seq)
	}
	for _, p := range due {
		if p.ChannelType != types.RELIABLE {
			t.Errorf("p.ChannelType = %v; want RELIABLE", p.ChannelType)
		}
	}
}

// Offer never admits more than window - bytes_inflight bytes.
func TestOfferRespectsWindow(t *testing.T) {
	clk := &fakeClock{}
	rng := &fakeRand{vals: []float64{0.0}}
	s := New(Config{MSS: 4, Window: 10, Clock: clk, Rand: rng, ProbReliable: 1.0})

	n := s.Offer(make([]byte, 20))
	if n != 10 {
		t.Fatalf("Offer() = %d; want 10 (clamped to window)", n)
	}
	if s.Offer([]byte("x")) != 0 {
		t.Fatalf("Offer() on a full window should return 0")
	}
}

// Unreliable segments are fire-and-forget: after one DuePackets pass they
// no longer occupy an in-flight slot, are never retransmitted, and release
// their bytes back to the window immediately (they are never ACKed, so
// nothing else would ever free them).
func TestUnreliableSegmentsRetireOnEmission(t *testing.T) {
	clk := &fakeClock{}
	rng := &fakeRand{vals: []float64{0.99}} // never below prob_reliable
	s := newTestSender(clk, rng, 0.0)

	s.Offer([]byte("abcdefgh"))
	due := s.DuePackets()
	if len(due) != 1 || due[0].ChannelType != types.UNRELIABLE {
		t.Fatalf("due = %+v; want one UNRELIABLE segment", due)
	}

	clk.advance(10_000)
	if due2 := s.DuePackets(); len(due2) != 0 {
		t.Fatalf("DuePackets() after unreliable emission = %+v; want none (not retransmitted)", due2)
	}
	if s.InflightBytes() != 0 {
		t.Fatalf("InflightBytes() = %d; want 0 (unreliable bytes retire with the segment, not on ACK)", s.InflightBytes())
	}
	if s.HasUnacked() {
		t.Fatalf("HasUnacked() = true; want false (no reliable segment was ever offered)")
	}
}

// A reliable segment is retransmitted once its RTO elapses, with
// exponential backoff capped at MaximumRTOMs.
func TestReliableSegmentRetransmitsOnRTO(t *testing.T) {
	// Start the clock above 0: a sentTs of 0 marks a segment as never sent.
	clk := &fakeClock{now: 1000}
	rng := &fakeRand{vals: []float64{0.0}}
	s := newTestSender(clk, rng, 1.0)

	s.Offer([]byte("abcdefgh"))
	first := s.DuePackets()
	if len(first) != 1 {
		t.Fatalf("len(first) = %d; want 1", len(first))
	}

	if due := s.DuePackets(); len(due) != 0 {
		t.Fatalf("DuePackets() before RTO elapses = %+v; want none", due)
	}

	clk.advance(DefaultRTOMs)
	retx := s.DuePackets()
	if len(retx) != 1 || retx[0].Seq != first[0].Seq {
		t.Fatalf("DuePackets() after RTO = %+v; want retransmit of seq %d", retx, first[0].Seq)
	}
	if m := s.Metrics(); m.Retransmits != 1 {
		t.Fatalf("Metrics().Retransmits = %d; want 1", m.Retransmits)
	}

	clk.advance(2 * DefaultRTOMs)
	retx2 := s.DuePackets()
	if len(retx2) != 1 {
		t.Fatalf("len(retx2) = %d; want 1", len(retx2))
	}
}

// S10 — a cumulative ACK retires every segment with end <= ack and frees
// its bytes from the in-flight window.
func TestOnFeedbackCumulativeAck(t *testing.T) {
	clk := &fakeClock{}
	rng := &fakeRand{vals: []float64{0.0}}
	s := New(Config{MSS: 4, Window: 1 << 20, Clock: clk, Rand: rng, ProbReliable: 1.0, SackEnabled: true})

	s.Offer([]byte("AAAABBBB")) // two 4-byte MSS segments: [0,4) [4,8)
	s.DuePackets()

	s.OnFeedback(&packet.Packet{Typ: types.ACK, Ack: 8})
	if s.InflightBytes() != 0 {
		t.Fatalf("InflightBytes() after full cumulative ACK = %d; want 0", s.InflightBytes())
	}
	if s.HasUnacked() {
		t.Fatalf("HasUnacked() = true; want false")
	}
}

// A SACK block retires only the overlapping reliable segment(s), leaving
// the rest in flight for retransmission.
func TestOnFeedbackSackRetiresOverlap(t *testing.T) {
	clk := &fakeClock{}
	rng := &fakeRand{vals: []float64{0.0}}
	s := New(Config{MSS: 4, Window: 1 << 20, Clock: clk, Rand: rng, ProbReliable: 1.0, SackEnabled: true})

	s.Offer([]byte("AAAABBBB")) // [0,4) [4,8)
	s.DuePackets()

	s.OnFeedback(&packet.Packet{
		Typ:  types.SACK,
		Ack:  0,
		Sack: []types.SackBlock{{Start: 4, End: 8}},
	})
	if s.InflightBytes() != 4 {
		t.Fatalf("InflightBytes() after partial SACK = %d; want 4", s.InflightBytes())
	}
	if s.InflightSegmentCount() != 1 {
		t.Fatalf("InflightSegmentCount() = %d; want 1", s.InflightSegmentCount())
	}
}

// Karn's rule: only an un-retransmitted segment's echoed timestamp yields
// an RTT sample; the sample is folded in before cumulative retirement, so
// it still observes the sent/acked segment.
func TestOnFeedbackSamplesRTTUnderKarnsRule(t *testing.T) {
	// Start the clock above 0: a ts_echo of 0 never yields a sample.
	clk := &fakeClock{now: 1000}
	rng := &fakeRand{vals: []float64{0.0}}
	s := newTestSender(clk, rng, 1.0)

	s.Offer([]byte("abcdefgh"))
	due := s.DuePackets()
	sentAt := due[0].TsSend

	clk.advance(50)
	s.OnFeedback(&packet.Packet{Typ: types.ACK, Ack: 8, TsEcho: sentAt})

	m := s.Metrics()
	if m.SRTTMs == nil || *m.SRTTMs != 50 {
		t.Fatalf("Metrics().SRTTMs = %v; want 50", m.SRTTMs)
	}
	if m.RTTSamplesMsLast == nil || len(m.RTTSamplesMsLast) != 1 || m.RTTSamplesMsLast[0] != 50 {
		t.Fatalf("Metrics().RTTSamplesMsLast = %v; want [50]", m.RTTSamplesMsLast)
	}
}

// A retransmitted segment's original or retransmitted timestamp never
// yields an RTT sample (Karn's rule): ambiguous which transmission the ACK
// covers.
func TestOnFeedbackDoesNotSampleRetransmittedSegment(t *testing.T) {
	// Start the clock above 0 so the first send is recorded as sent and
	// the echoed timestamp is non-zero.
	clk := &fakeClock{now: 1000}
	rng := &fakeRand{vals: []float64{0.0}}
	s := newTestSender(clk, rng, 1.0)

	s.Offer([]byte("abcdefgh"))
	first := s.DuePackets()

	clk.advance(DefaultRTOMs)
	retx := s.DuePackets()
	if len(retx) != 1 {
		t.Fatalf("len(retx) = %d; want 1", len(retx))
	}

	clk.advance(10)
	s.OnFeedback(&packet.Packet{Typ: types.ACK, Ack: 8, TsEcho: first[0].TsSend})

	if m := s.Metrics(); m.SRTTMs != nil {
		t.Fatalf("Metrics().SRTTMs = %v; want nil (no sample from a retransmitted segment)", m.SRTTMs)
	}
}

func TestCurrentRTODefaultsBeforeAnySample(t *testing.T) {
	clk := &fakeClock{}
	rng := &fakeRand{vals: []float64{0.0}}
	s := newTestSender(clk, rng, 1.0)
	if rto := s.CurrentRTO(); rto != DefaultRTOMs {
		t.Fatalf("CurrentRTO() before any sample = %d; want %d", rto, DefaultRTOMs)
	}
}
