// Package sender implements the selective-repeat sender side of DCTP:
// it segments application bytes to MSS, routes each segment onto the
// reliable or unreliable channel by a Bernoulli draw, retransmits
// reliable segments on RTO with exponential backoff, and samples RTT
// under Karn's rule to drive a standard SRTT/RTTVAR estimator.
package sender

import (
	"sort"

	"github.com/FerdiHS/dual-channel-transport-protocol/clock"
	"github.com/FerdiHS/dual-channel-transport-protocol/packet"
	"github.com/FerdiHS/dual-channel-transport-protocol/types"
)

// MaximumRTOMs caps the exponential backoff applied to a segment's RTO
// after each retransmission.
const MaximumRTOMs = 8000

// DefaultRTOMs is the RTO assigned to a segment before any RTT sample is
// available and is the estimator's floor in CurrentRTO when no sample
// has ever been taken.
const DefaultRTOMs = 1000

// MinRTOMs is the lowest RTO CurrentRTO will ever return once RTT
// samples are available.
const MinRTOMs = 200

// rttSampleHistory bounds the ring buffer of recent RTT samples reported
// in Metrics.
const rttSampleHistory = 64

// segment is one unit of sender-side bookkeeping for a chunk of bytes
// offered to a channel. It is never placed on the wire directly; DATA
// frames are built from it in DuePackets.
type segment struct {
	seq       uint32
	end       uint32
	payload   []byte
	chanType  types.ChannelType
	sentTs    uint32
	acked     bool
	retxCount uint32
	rtoMs     uint32
}

// Sender holds the state necessary to segment, route, retransmit, and
// RTT-sample outbound DCTP traffic.
type Sender struct {
	mss           int
	window        int
	clk           clock.Clock
	rng           clock.Rand
	probReliable  float64
	sackEnabled   bool

	baseSeq map[types.ChannelType]uint32
	nextSeq map[types.ChannelType]uint32
	inflight map[types.ChannelType]map[uint32]*segment
	bytesInflight int

	srtt       float64
	rttvar     float64
	haveSample bool

	rttMin      float64
	rttMax      float64
	haveRTTMin  bool
	rttSum      float64
	rttCnt      int
	rttSamples  []int

	retxTotal          int
	sentRelSegments    int
	sentUnrelSegments  int

	startTimeMs     uint32
	haveStartTime   bool
	endTimeMs       uint32
	totalPacketsSent     int
	totalPacketsReceived int
	totalBytesSent       int
}

// Config bundles the parameters a Sender is constructed with. New applies
// no defaults to SackEnabled or ProbReliable: a zero ProbReliable routes
// every segment onto the unreliable channel.
type Config struct {
	MSS          int
	Window       int
	Clock        clock.Clock
	Rand         clock.Rand
	ProbReliable float64
	SackEnabled  bool
}

// New builds a Sender. ProbReliable is clamped to [0, 1]. If Clock or
// Rand is nil, the system-backed defaults from the clock package are
// used.
func New(cfg Config) *Sender {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = clock.NewSystemRand()
	}
	prob := cfg.ProbReliable
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}

	return &Sender{
		mss:          cfg.MSS,
		window:       cfg.Window,
		clk:          clk,
		rng:          rng,
		probReliable: prob,
		sackEnabled:  cfg.SackEnabled,
		baseSeq: map[types.ChannelType]uint32{
			types.RELIABLE:   0,
			types.UNRELIABLE: 0,
		},
		nextSeq: map[types.ChannelType]uint32{
			types.RELIABLE:   0,
			types.UNRELIABLE: 0,
		},
		inflight: map[types.ChannelType]map[uint32]*segment{
			types.RELIABLE:   {},
			types.UNRELIABLE: {},
		},
	}
}

// Offer admits up to window-bytes_inflight bytes of data, splitting it
// into MSS-sized chunks and assigning each chunk to a channel by an
// independent Bernoulli(prob_reliable) draw. It returns the number of
// bytes accepted, which may be less than len(data) (0 if the window is
// full or data is empty).
func (s *Sender) Offer(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	space := s.window - s.bytesInflight
	if space <= 0 {
		return 0
	}

	take := len(data)
	if take > space {
		take = space
	}

	off := 0
	for off < take {
		end := off + s.mss
		if end > take {
			end = take
		}
		chunk := data[off:end]

		chanType := types.UNRELIABLE
		if s.rng.Float64() < s.probReliable {
			chanType = types.RELIABLE
		}

		seq := s.nextSeq[chanType]
		seg := &segment{
			seq:      seq,
			end:      seq + uint32(len(chunk)),
			payload:  append([]byte(nil), chunk...),
			chanType: chanType,
			rtoMs:    DefaultRTOMs,
		}
		s.inflight[chanType][seg.seq] = seg
		s.nextSeq[chanType] = seg.end
		s.bytesInflight += len(chunk)

		off = end
	}

	return take
}

// DuePackets builds DATA frames for every segment due to send now: every
// never-yet-sent unreliable segment (retired from the in-flight map
// immediately after, being fire-and-forget) followed by every reliable
// segment, in ascending seq order, that has never been sent or whose RTO
// has elapsed since its last transmission. A segment counts as never sent
// while its recorded send time is 0, so one sent at clock time 0 is sent
// again as a first transmission on the next call.
func (s *Sender) DuePackets() []*packet.Packet {
	now := s.clk.NowMs()
	var out []*packet.Packet

	unrel := s.inflight[types.UNRELIABLE]
	unrelSeqs := make([]uint32, 0, len(unrel))
	for seq := range unrel {
		unrelSeqs = append(unrelSeqs, seq)
	}
	sort.Slice(unrelSeqs, func(i, j int) bool { return unrelSeqs[i] < unrelSeqs[j] })

	for _, seq := range unrelSeqs {
		seg := unrel[seq]
		firstSend := seg.sentTs == 0
		if firstSend {
			s.sentUnrelSegments++
		} else {
			seg.retxCount++
			s.retxTotal++
			seg.rtoMs = backoff(seg.rtoMs)
		}

		out = append(out, s.buildDataFrame(seg, now))
		seg.sentTs = now
		s.recordSend(now, len(seg.payload))

		// Unreliable segments are fire-and-forget: retire immediately,
		// both the map entry and its bytes, rather than leaving a dead
		// entry (or a phantom byte-inflight charge) behind forever.
		delete(unrel, seq)
		s.bytesInflight -= len(seg.payload)
		if s.bytesInflight < 0 {
			s.bytesInflight = 0
		}
	}

	rel := s.inflight[types.RELIABLE]
	relSeqs := make([]uint32, 0, len(rel))
	for seq := range rel {
		relSeqs = append(relSeqs, seq)
	}
	sort.Slice(relSeqs, func(i, j int) bool { return relSeqs[i] < relSeqs[j] })

	for _, seq := range relSeqs {
		seg := rel[seq]
		if seg.acked {
			continue
		}

		firstSend := seg.sentTs == 0
		needSend := firstSend || now-seg.sentTs >= seg.rtoMs
		if !needSend {
			continue
		}

		if firstSend {
			s.sentRelSegments++
		} else {
			seg.retxCount++
			s.retxTotal++
			seg.rtoMs = backoff(seg.rtoMs)
		}

		out = append(out, s.buildDataFrame(seg, now))
		seg.sentTs = now
		s.recordSend(now, len(seg.payload))
	}

	return out
}

func (s *Sender) buildDataFrame(seg *segment, now uint32) *packet.Packet {
	return &packet.Packet{
		Typ:         types.DATA,
		ChannelType: seg.chanType,
		Seq:         seg.seq,
		TsSend:      now,
		Payload:     seg.payload,
	}
}

func (s *Sender) recordSend(now uint32, payloadLen int) {
	if !s.haveStartTime {
		s.startTimeMs = now
		s.haveStartTime = true
	}
	s.endTimeMs = now
	s.totalPacketsSent++
	s.totalBytesSent += payloadLen
}

func backoff(rtoMs uint32) uint32 {
	doubled := uint64(rtoMs) * 2
	if doubled > MaximumRTOMs {
		return MaximumRTOMs
	}
	return uint32(doubled)
}

// OnFeedback processes an incoming ACK or SACK packet: it attempts an
// RTT sample under Karn's rule, then cumulatively retires every reliable
// segment with end <= pkt.Ack, then (for SACK, when SACK is enabled)
// retires every reliable segment overlapping one of pkt.Sack's blocks.
// Packets of any other type are ignored. The RTT sample is taken before
// the ACK/SACK retirement is applied, matching the reference
// implementation's ordering (the echoed timestamp still names a segment
// that is in flight at sampling time).
func (s *Sender) OnFeedback(pkt *packet.Packet) {
	if pkt.Typ != types.ACK && pkt.Typ != types.SACK {
		return
	}

	s.maybeUpdateRTT(pkt.TsEcho)

	s.ackUpTo(pkt.Ack)

	if pkt.Typ == types.SACK && s.sackEnabled {
		for _, blk := range pkt.Sack {
			s.ackRange(blk.Start, blk.End)
		}
	}

	rel := s.inflight[types.RELIABLE]
	freed := 0
	acked := 0
	for seq, seg := range rel {
		if seg.acked {
			freed += len(seg.payload)
			acked++
			delete(rel, seq)
		}
	}
	s.bytesInflight -= freed
	if s.bytesInflight < 0 {
		s.bytesInflight = 0
	}
	s.totalPacketsReceived += acked
}

func (s *Sender) ackUpTo(upTo uint32) {
	for _, seg := range s.inflight[types.RELIABLE] {
		if seg.end <= upTo {
			seg.acked = true
		}
	}
}

func (s *Sender) ackRange(start, end uint32) {
	for _, seg := range s.inflight[types.RELIABLE] {
		if seg.acked {
			continue
		}
		if seg.seq >= end || seg.end <= start {
			continue
		}
		seg.acked = true
	}
}

// maybeUpdateRTT looks for the reliable segment that was sent,
// unambiguously (never retransmitted), at tsEcho and, if found, folds
// the resulting sample into the SRTT/RTTVAR estimator and refreshes the
// RTO of every not-yet-retransmitted reliable segment.
func (s *Sender) maybeUpdateRTT(tsEcho uint32) {
	if tsEcho == 0 {
		return
	}

	for _, seg := range s.inflight[types.RELIABLE] {
		if seg.sentTs != tsEcho || seg.retxCount != 0 {
			continue
		}

		now := s.clk.NowMs()
		sample := now - tsEcho
		if sample < 1 {
			sample = 1
		}
		fsample := float64(sample)

		s.rttCnt++
		s.rttSum += fsample
		if !s.haveRTTMin || fsample < s.rttMin {
			s.rttMin = fsample
			s.haveRTTMin = true
		}
		if fsample > s.rttMax {
			s.rttMax = fsample
		}
		s.rttSamples = append(s.rttSamples, int(sample))
		if len(s.rttSamples) > rttSampleHistory {
			s.rttSamples = s.rttSamples[len(s.rttSamples)-rttSampleHistory:]
		}

		if !s.haveSample {
			s.srtt = fsample
			s.rttvar = fsample / 2.0
			s.haveSample = true
		} else {
			const alpha, beta = 1.0 / 8.0, 1.0 / 4.0
			diff := s.srtt - fsample
			if diff < 0 {
				diff = -diff
			}
			s.rttvar = (1-beta)*s.rttvar + beta*diff
			s.srtt = (1-alpha)*s.srtt + alpha*fsample
		}

		rto := s.CurrentRTO()
		for _, other := range s.inflight[types.RELIABLE] {
			if other.retxCount == 0 {
				other.rtoMs = uint32(rto)
			}
		}
		break
	}
}

// InflightBytes returns the number of unacknowledged bytes currently
// outstanding across both channels.
func (s *Sender) InflightBytes() int {
	return s.bytesInflight
}

// HasUnacked reports whether any reliable segment is still awaiting
// ACK/SACK. Unreliable segments retire (map entry and byte accounting
// alike) the instant they're sent, so they never contribute here;
// Drain keys off this rather than InflightBytes so that a connection
// that only ever sends unreliable traffic still terminates.
func (s *Sender) HasUnacked() bool {
	return s.InflightSegmentCount() > 0
}

// CurrentRTO returns the sender's current RTO in milliseconds, derived
// from SRTT/RTTVAR, or DefaultRTOMs before any sample has been taken.
func (s *Sender) CurrentRTO() int {
	if !s.haveSample {
		return DefaultRTOMs
	}
	rto := s.srtt + maxFloat(4.0*s.rttvar, 1.0)
	if int(rto) < MinRTOMs {
		return MinRTOMs
	}
	return int(rto)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// InflightSegmentCount returns the number of reliable segments still
// awaiting acknowledgement.
func (s *Sender) InflightSegmentCount() int {
	n := 0
	for _, seg := range s.inflight[types.RELIABLE] {
		if !seg.acked {
			n++
		}
	}
	return n
}

// Metrics is a point-in-time snapshot of RTT/RTO state and traffic
// counters, matching the DCTP metrics-snapshot "sender" sub-object.
type Metrics struct {
	SRTTMs                   *int
	RTTVarMs                 *int
	RTOCurrentMs             int
	RTTMinMs                 *int
	RTTMaxMs                 *int
	RTTAvgMs                 *int
	RTTSamplesMsLast         []int
	Retransmits              int
	InflightBytes            int
	SegmentsInflight         int
	SegmentsSentReliable     int
	SegmentsSentUnreliable   int
	TotalPacketsSent         int
	TotalPacketsReceived     int
	TotalBytesSent           int
	DurationS                float64
	ThroughputBytesPerSec    *float64
}

// Metrics returns a snapshot of the sender's RTT/RTO estimator and
// traffic counters.
func (s *Sender) Metrics() Metrics {
	m := Metrics{
		RTOCurrentMs:           s.CurrentRTO(),
		Retransmits:            s.retxTotal,
		InflightBytes:          s.bytesInflight,
		SegmentsInflight:       s.InflightSegmentCount(),
		SegmentsSentReliable:   s.sentRelSegments,
		SegmentsSentUnreliable: s.sentUnrelSegments,
		TotalPacketsSent:       s.totalPacketsSent,
		TotalPacketsReceived:   s.totalPacketsReceived,
		TotalBytesSent:         s.totalBytesSent,
	}

	if s.haveSample {
		srtt := int(s.srtt)
		rttvar := int(s.rttvar)
		m.SRTTMs = &srtt
		m.RTTVarMs = &rttvar
	}
	if s.haveRTTMin {
		rttMin := int(s.rttMin)
		rttMax := int(s.rttMax)
		m.RTTMinMs = &rttMin
		m.RTTMaxMs = &rttMax
	}
	if s.rttCnt > 0 {
		avg := int(s.rttSum / float64(s.rttCnt))
		m.RTTAvgMs = &avg
	}
	m.RTTSamplesMsLast = append([]int(nil), s.rttSamples...)

	if s.haveStartTime {
		duration := float64(s.endTimeMs-s.startTimeMs) / 1000.0
		if duration < 1e-6 {
			duration = 1e-6
		}
		m.DurationS = duration
		if s.totalBytesSent > 0 {
			throughput := float64(s.totalBytesSent) / duration
			m.ThroughputBytesPerSec = &throughput
		}
	}

	return m
}
