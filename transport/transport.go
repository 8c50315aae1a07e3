// Package transport composes a Sender and a Receiver over a
// DatagramEndpoint into the single bidirectional DCTP connection object
// applications see: Send/Recv/Poll/Drain/Close/Stats.
package transport

import (
	"log"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/FerdiHS/dual-channel-transport-protocol/clock"
	"github.com/FerdiHS/dual-channel-transport-protocol/packet"
	"github.com/FerdiHS/dual-channel-transport-protocol/receiver"
	"github.com/FerdiHS/dual-channel-transport-protocol/sender"
	"github.com/FerdiHS/dual-channel-transport-protocol/types"
)

// Default tuning parameters, matching the reference transport's module
// constants.
const (
	DefaultMTU          = 1200
	DefaultWindow       = 64*1024 - 1
	DefaultProbReliable = 0.5
)

// Config bundles the parameters a Transport is constructed with. Zero
// values fall back to the DCTP defaults documented on the constants above.
type Config struct {
	MTU          int
	Window       int
	ProbReliable float64
	SackEnabled  bool
	Verbose      bool

	// Endpoint overrides the default UDPEndpoint, primarily for tests
	// that want an in-memory substrate.
	Endpoint DatagramEndpoint
	Clock    clock.Clock
	Rand     clock.Rand
}

// Stats is the byte/frame/ACK/SACK TX/RX counter set, matching
// Transport.get_stats()'s base fields one-for-one, plus the sender's own
// metrics snapshot.
type Stats struct {
	BytesTx  int
	BytesRx  int
	FramesTx int
	FramesRx int
	AcksTx   int
	AcksRx   int
	SacksTx  int
	SacksRx  int

	Sender sender.Metrics
}

// Transport is one DCTP connection endpoint: it owns a Sender, a
// Receiver, and a DatagramEndpoint, and drives the three together the way
// the reference Transport._flush_due/_on_inbound_frame/poll loop does.
type Transport struct {
	id      xid.ID
	mtu     int
	verbose bool

	sender   *sender.Sender
	receiver *receiver.Receiver
	ep       DatagramEndpoint

	peer net.Addr

	bytesTx, bytesRx   int
	framesTx, framesRx int
	acksTx, acksRx     int
	sacksTx, sacksRx   int
}

// New builds a Transport with an unopened endpoint (a UDPEndpoint unless
// Config.Endpoint overrides it). Bind and/or Connect before Send/Poll.
func New(cfg Config) *Transport {
	mtu := cfg.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	prob := cfg.ProbReliable
	if prob == 0 {
		prob = DefaultProbReliable
	}

	ep := cfg.Endpoint
	if ep == nil {
		ep = NewUDPEndpoint()
	}

	t := &Transport{
		id:      xid.New(),
		mtu:     mtu,
		verbose: cfg.Verbose,
		ep:      ep,
		sender: sender.New(sender.Config{
			MSS:          mtu - packet.BaseLen,
			Window:       window,
			Clock:        cfg.Clock,
			Rand:         cfg.Rand,
			ProbReliable: prob,
			SackEnabled:  cfg.SackEnabled,
		}),
		receiver: receiver.New(receiver.Config{
			WndBytes:    uint16(window),
			SackEnabled: cfg.SackEnabled,
		}),
	}
	if t.verbose {
		log.Printf("[dctp %s] new transport mtu=%d window=%d prob_reliable=%.2f sack=%v",
			t.id, mtu, window, prob, cfg.SackEnabled)
	}
	return t
}

// ID returns the transport's instance identifier, used to disambiguate
// concurrent transports in logs and metrics labels.
func (t *Transport) ID() string {
	return t.id.String()
}

// Sender exposes the underlying sender.Sender so callers (metrics
// collectors, tests) can read its snapshot without Transport having to
// re-derive or duplicate it.
func (t *Transport) Sender() *sender.Sender {
	return t.sender
}

// Bind opens the local socket at addr.
func (t *Transport) Bind(addr string) error {
	if err := t.ep.Bind(addr); err != nil {
		return err
	}
	if t.verbose {
		log.Printf("[dctp %s] bind on %s", t.id, addr)
	}
	return nil
}

// Connect records addr as the default send/peer-learning target.
func (t *Transport) Connect(addr string) error {
	if err := t.ep.Connect(addr); err != nil {
		return err
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	t.peer = raddr
	if t.verbose {
		log.Printf("[dctp %s] connect -> %s", t.id, addr)
	}
	return nil
}

// Send offers data to the sender's window and immediately flushes any
// packets that become due as a result, returning the number of bytes
// accepted.
func (t *Transport) Send(data []byte) int {
	n := t.sender.Offer(data)
	t.flushDue()
	return n
}

// Recv returns up to maxBytes of data delivered to the application since
// the last call.
func (t *Transport) Recv(maxBytes int) []byte {
	d := t.receiver.PopDeliverable()
	if maxBytes >= 0 && len(d) > maxBytes {
		d = d[:maxBytes]
	}
	return d
}

// Poll flushes due packets, waits up to timeout for an inbound datagram,
// drains every datagram already queued behind it, and flushes due packets
// again (a retransmission or ACK/SACK processed during this poll may have
// made new sends due).
//
// The read deadline is armed once, before the loop, and never reset to
// "now" between reads: a deadline that has already elapsed makes the next
// read fail immediately without even attempting the syscall, regardless of
// whether a datagram is already sitting in the socket buffer, so re-arming
// per iteration (as an earlier version of this loop did) silently stops
// draining after the first datagram. Reads of data that's already buffered
// return immediately without blocking; only the final, empty read waits,
// and only up to the deadline set at the top of this call.
func (t *Transport) Poll(timeout time.Duration) {
	t.flushDue()

	if err := t.ep.WaitReady(timeout); err != nil {
		return
	}

	buf := make([]byte, 65535)
	for {
		n, src, err := t.ep.RecvFrom(buf)
		if err != nil {
			break
		}
		t.bytesRx += n
		t.framesRx++
		t.onInbound(buf[:n], src)
	}

	t.flushDue()
}

// Drain blocks, polling in short bursts, until every reliable segment
// offered to the sender has been acknowledged.
func (t *Transport) Drain() {
	for t.sender.HasUnacked() {
		t.flushDue()
		t.Poll(5 * time.Millisecond)
	}
}

// Close releases the underlying endpoint.
func (t *Transport) Close() error {
	return t.ep.Close()
}

// Stats returns the byte/frame/ACK/SACK TX/RX counters plus a snapshot of
// the sender's RTT/RTO estimator and traffic counters.
func (t *Transport) Stats() Stats {
	return Stats{
		BytesTx:  t.bytesTx,
		BytesRx:  t.bytesRx,
		FramesTx: t.framesTx,
		FramesRx: t.framesRx,
		AcksTx:   t.acksTx,
		AcksRx:   t.acksRx,
		SacksTx:  t.sacksTx,
		SacksRx:  t.sacksRx,
		Sender:   t.sender.Metrics(),
	}
}

// onInbound decodes and dispatches one raw datagram: DATA frames feed the
// receiver and, if feedback results, are answered immediately (before any
// further inbound frame is processed); ACK/SACK frames feed the sender.
// Malformed frames are logged (when verbose) and dropped rather than
// tearing down the connection, matching the reference implementation's
// tolerance of garbage on the wire.
func (t *Transport) onInbound(raw []byte, src net.Addr) {
	pkt, err := packet.Decode(raw)
	if err != nil {
		if t.verbose {
			log.Printf("[dctp %s] dropping malformed frame from %s: %v", t.id, src, err)
		}
		return
	}

	if t.peer == nil && pkt.Typ == types.DATA {
		t.peer = src
		if t.verbose {
			log.Printf("[dctp %s] learned peer = %s", t.id, src)
		}
	}

	switch pkt.Typ {
	case types.DATA:
		fb, err := t.receiver.OnData(pkt)
		if err != nil {
			return
		}
		if fb != nil {
			t.sendPkt(fb, src)
			switch fb.Typ {
			case types.ACK:
				t.acksTx++
			case types.SACK:
				t.sacksTx++
			}
		}

	case types.ACK, types.SACK:
		t.sender.OnFeedback(pkt)
		if pkt.Typ == types.ACK {
			t.acksRx++
		} else {
			t.sacksRx++
		}
	}
}

// flushDue sends every packet the sender currently considers due, in the
// order DuePackets returns them (unreliable before reliable, ascending seq
// within each channel).
func (t *Transport) flushDue() int {
	if t.peer == nil {
		return 0
	}
	cnt := 0
	for _, pkt := range t.sender.DuePackets() {
		t.sendPkt(pkt, t.peer)
		cnt++
	}
	return cnt
}

func (t *Transport) sendPkt(pkt *packet.Packet, dst net.Addr) {
	raw, err := pkt.Encode()
	if err != nil {
		if t.verbose {
			log.Printf("[dctp %s] failed to encode %v frame: %v", t.id, pkt.Typ, err)
		}
		return
	}
	n, err := t.ep.SendTo(raw, dst)
	if err != nil {
		if t.verbose {
			log.Printf("[dctp %s] send to %s failed: %v", t.id, dst, err)
		}
		return
	}
	t.bytesTx += n
	t.framesTx++
}
