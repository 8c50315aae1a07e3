// Package receiver implements the receiver side of DCTP: reassembly of
// reliable-channel bytes above rcv_nxt, duplicate/overlap trimming, and
// ACK/SACK feedback generation; unreliable-channel bytes bypass
// reassembly entirely and are delivered as they arrive.
package receiver

import (
	"sort"

	"github.com/FerdiHS/dual-channel-transport-protocol/packet"
	"github.com/FerdiHS/dual-channel-transport-protocol/types"
)

// DefaultSackLimit is the maximum number of SACK blocks the receiver
// will report per feedback packet, independent of the wire-level
// MaxSackBlocks cap.
const DefaultSackLimit = 4

// Receiver holds the reassembly buffer and delivery queue for one DCTP
// peer direction.
type Receiver struct {
	rcvNxt      uint32
	wndBytes    uint16
	sackEnabled bool

	buf       map[uint32][]byte
	delivered []byte
}

// Config bundles the parameters a Receiver is constructed with.
type Config struct {
	WndBytes    uint16
	SackEnabled bool
}

// New builds a Receiver with rcv_nxt starting at 0.
func New(cfg Config) *Receiver {
	return &Receiver{
		wndBytes:    cfg.WndBytes,
		sackEnabled: cfg.SackEnabled,
		buf:         make(map[uint32][]byte),
	}
}

// RcvNxt returns the next in-order byte expected (the cumulative ack
// point). It only ever increases.
func (r *Receiver) RcvNxt() uint32 {
	return r.rcvNxt
}

// OnData processes an incoming DATA packet, returning the feedback frame
// to send back to the peer (nil for UNRELIABLE payloads, which bypass
// reassembly entirely and are appended straight to the delivery queue).
// It returns types.ErrNotDataPacket if pkt.Typ != types.DATA.
func (r *Receiver) OnData(pkt *packet.Packet) (*packet.Packet, error) {
	if pkt.Typ != types.DATA {
		return nil, types.ErrNotDataPacket
	}

	if pkt.ChannelType == types.UNRELIABLE {
		if len(pkt.Payload) > 0 {
			r.delivered = append(r.delivered, pkt.Payload...)
		}
		return nil, nil
	}

	seq := pkt.Seq
	pay := pkt.Payload

	// Pure duplicate entirely below rcv_nxt.
	if seq+uint32(len(pay)) <= r.rcvNxt {
		return r.feedback(pkt.TsSend), nil
	}

	// Left-edge overlap: trim to the unseen portion.
	if seq < r.rcvNxt {
		trim := r.rcvNxt - seq
		if trim < uint32(len(pay)) {
			pay = pay[trim:]
			seq = r.rcvNxt
		} else {
			return r.feedback(pkt.TsSend), nil
		}
	}

	if len(pay) > 0 {
		// Last write wins on an exact-duplicate key; safe under the
		// codec invariant that identical (seq, len) carries identical
		// bytes.
		r.buf[seq] = pay
	}

	r.consumeContiguous()

	return r.feedback(pkt.TsSend), nil
}

// consumeContiguous greedily delivers any buffered chunk that starts
// exactly at rcv_nxt, repeating until no such chunk remains.
func (r *Receiver) consumeContiguous() {
	for {
		chunk, ok := r.buf[r.rcvNxt]
		if !ok {
			return
		}
		delete(r.buf, r.rcvNxt)
		r.delivered = append(r.delivered, chunk...)
		r.rcvNxt += uint32(len(chunk))
	}
}

// PopDeliverable returns and clears the bytes accumulated for the
// application since the last call (may be empty).
func (r *Receiver) PopDeliverable() []byte {
	if len(r.delivered) == 0 {
		return nil
	}
	out := r.delivered
	r.delivered = nil
	return out
}

// feedback builds an ACK or SACK frame echoing tsEcho, with seq == ack
// == rcv_nxt and channel_type marked RELIABLE. A SACK is produced
// (subject to sackEnabled) when buffered out-of-order data yields at
// least one block; otherwise a plain ACK is returned.
func (r *Receiver) feedback(tsEcho uint32) *packet.Packet {
	blocks := r.buildSackBlocks(DefaultSackLimit)
	if len(blocks) > 0 && r.sackEnabled {
		return &packet.Packet{
			Typ:         types.SACK,
			ChannelType: types.RELIABLE,
			Seq:         r.rcvNxt,
			TsSend:      0,
			Ack:         r.rcvNxt,
			RcvWnd:      r.wndBytes,
			TsEcho:      tsEcho,
			Sack:        blocks,
		}
	}
	return &packet.Packet{
		Typ:         types.ACK,
		ChannelType: types.RELIABLE,
		Seq:         r.rcvNxt,
		TsSend:      0,
		Ack:         r.rcvNxt,
		RcvWnd:      r.wndBytes,
		TsEcho:      tsEcho,
	}
}

type span struct {
	start, end uint32
}

// buildSackBlocks merges the buffered out-of-order spans strictly above
// rcv_nxt into non-overlapping blocks, then returns at most limit of
// them (capped further by packet.MaxSackBlocks) ordered by Start
// descending — a most-recent-gap-first convention; the codec accepts any
// order on decode, and the sender side of OnFeedback does not depend on
// the order either.
func (r *Receiver) buildSackBlocks(limit int) []types.SackBlock {
	base := r.rcvNxt

	spans := make([]span, 0, len(r.buf))
	for s, p := range r.buf {
		e := s + uint32(len(p))
		if e <= base {
			continue
		}
		if s < base {
			s = base
		}
		if s < e {
			spans = append(spans, span{start: s, end: e})
		}
	}
	if len(spans) == 0 {
		return nil
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := make([]span, 0, len(spans))
	cur := spans[0]
	for _, sp := range spans[1:] {
		if sp.start <= cur.end {
			if sp.end > cur.end {
				cur.end = sp.end
			}
		} else {
			merged = append(merged, cur)
			cur = sp
		}
	}
	merged = append(merged, cur)

	sort.Slice(merged, func(i, j int) bool { return merged[i].start > merged[j].start })

	blockCap := limit
	if blockCap > packet.MaxSackBlocks {
		blockCap = packet.MaxSackBlocks
	}
	if len(merged) > blockCap {
		merged = merged[:blockCap]
	}

	out := make([]types.SackBlock, len(merged))
	for i, sp := range merged {
		out[i] = types.SackBlock{Start: sp.start, End: sp.end}
	}
	return out
}
