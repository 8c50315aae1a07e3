// Package packet implements the DCTP wire codec: the four frame kinds
// (DATA, ACK, SACK, CTRL), their exact byte layout, and the 16-bit
// Internet checksum that guards every frame against corruption.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/FerdiHS/dual-channel-transport-protocol/checksum"
	"github.com/FerdiHS/dual-channel-transport-protocol/types"
)

// Wire layout constants.
const (
	// BaseLen is the size in bytes of the header common to every frame
	// kind: typ(1) channel_type(1) seq(4) ts_send(4) len(2) checksum(2).
	BaseLen = 14

	// AckExtrasLen is the size in bytes of the ACK/SACK-only fields
	// carried by both ACK and SACK frames: ack(4) rcv_wnd(2) ts_echo(4).
	AckExtrasLen = 10

	// SackHeaderLen is the size in bytes of the SACK-only block_cnt(1)
	// + reserved(1) pair that precedes the block list.
	SackHeaderLen = 2

	// SackBlockLen is the size in bytes of one (start, end) SACK block.
	SackBlockLen = 8

	// MaxPayload is the largest DATA payload the codec will encode or
	// accept, independent of the MSS segmentation the sender applies.
	MaxPayload = 1400

	// MaxSackBlocks is the largest number of SACK blocks one frame may
	// carry.
	MaxSackBlocks = 32
)

// Base header field offsets, used by Encode/Decode to place and read
// each field.
const (
	offTyp         = 0
	offChannelType = 1
	offSeq         = 2
	offTsSend      = 6
	offLen         = 10
	offChecksum    = 12
)

// Packet is a DCTP frame in its decoded form. It behaves like a tagged
// union over Typ: fields other than Typ/ChannelType/Seq/TsSend are only
// meaningful for the Typ values documented on them.
type Packet struct {
	Typ         types.PacketType
	ChannelType types.ChannelType
	Seq         uint32
	TsSend      uint32

	// Payload is only meaningful for Typ == DATA; it must be empty for
	// ACK, SACK and CTRL frames.
	Payload []byte

	// Ack, RcvWnd and TsEcho are only meaningful for Typ == ACK or
	// Typ == SACK.
	Ack    uint32
	RcvWnd uint16
	TsEcho uint32

	// Sack is only meaningful for Typ == SACK.
	Sack []types.SackBlock
}

// Encode serializes p into a wire frame, computing and installing the
// checksum. It returns an error wrapping one of the types.Err* sentinels
// on any field overflow or illegal field combination.
func (p *Packet) Encode() ([]byte, error) {
	if err := checkU8("typ", uint32(p.Typ)); err != nil {
		return nil, err
	}
	if err := checkU8("channel_type", uint32(p.ChannelType)); err != nil {
		return nil, err
	}

	var extras []byte
	var length int

	switch p.Typ {
	case types.DATA:
		if len(p.Payload) > MaxPayload {
			return nil, fmt.Errorf("%w: %d > %d", types.ErrPayloadTooLarge, len(p.Payload), MaxPayload)
		}
		length = len(p.Payload)

	case types.ACK:
		if err := ensureNoPayload(p.Payload); err != nil {
			return nil, err
		}
		extras = encodeAckExtras(p.Ack, p.RcvWnd, p.TsEcho)

	case types.SACK:
		if err := ensureNoPayload(p.Payload); err != nil {
			return nil, err
		}
		if len(p.Sack) > MaxSackBlocks {
			return nil, fmt.Errorf("%w: %d > %d", types.ErrTooManySackBlocks, len(p.Sack), MaxSackBlocks)
		}
		for i, blk := range p.Sack {
			if !(blk.Start < blk.End) {
				return nil, fmt.Errorf("%w: sack[%d] = [%d, %d)", types.ErrInvalidSackRange, i, blk.Start, blk.End)
			}
		}
		extras = encodeAckExtras(p.Ack, p.RcvWnd, p.TsEcho)
		extras = append(extras, byte(len(p.Sack)), 0)
		for _, blk := range p.Sack {
			var b [SackBlockLen]byte
			binary.BigEndian.PutUint32(b[0:4], blk.Start)
			binary.BigEndian.PutUint32(b[4:8], blk.End)
			extras = append(extras, b[:]...)
		}

	default: // CTRL and anything else
		if err := ensureNoPayload(p.Payload); err != nil {
			return nil, err
		}
	}

	base := make([]byte, BaseLen)
	base[offTyp] = byte(p.Typ)
	base[offChannelType] = byte(p.ChannelType)
	binary.BigEndian.PutUint32(base[offSeq:], p.Seq)
	binary.BigEndian.PutUint32(base[offTsSend:], p.TsSend)
	binary.BigEndian.PutUint16(base[offLen:], uint16(length))
	binary.BigEndian.PutUint16(base[offChecksum:], 0)

	frame := make([]byte, 0, BaseLen+len(extras)+length)
	frame = append(frame, base...)
	frame = append(frame, extras...)
	frame = append(frame, p.Payload...)

	ck := checksum.Checksum(frame)
	binary.BigEndian.PutUint16(frame[offChecksum:], ck)

	return frame, nil
}

// Decode parses frame into a Packet, validating its length and checksum.
// It returns an error wrapping one of the types.Err* sentinels describing
// the first violation found.
func Decode(frame []byte) (*Packet, error) {
	if len(frame) < BaseLen {
		return nil, fmt.Errorf("%w: %d < %d", types.ErrFrameTooShort, len(frame), BaseLen)
	}

	typ := types.PacketType(frame[offTyp])
	switch typ {
	case types.DATA, types.ACK, types.SACK, types.CTRL:
	default:
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownPacketType, frame[offTyp])
	}

	channelType := types.ChannelType(frame[offChannelType])
	seq := binary.BigEndian.Uint32(frame[offSeq:])
	tsSend := binary.BigEndian.Uint32(frame[offTsSend:])
	length := binary.BigEndian.Uint16(frame[offLen:])
	ck := binary.BigEndian.Uint16(frame[offChecksum:])

	offs := BaseLen
	var ack uint32
	var rcvWnd uint16
	var tsEcho uint32
	var sack []types.SackBlock
	extrasLen := 0

	switch typ {
	case types.DATA:
		// no extras

	case types.ACK:
		if err := requireAtLeast(frame, offs, AckExtrasLen, "ACK section"); err != nil {
			return nil, err
		}
		ack, rcvWnd, tsEcho = decodeAckExtras(frame[offs:])
		offs += AckExtrasLen
		extrasLen += AckExtrasLen
		if length != 0 {
			return nil, fmt.Errorf("%w: ACK frame must have len == 0", types.ErrLengthMismatch)
		}

	case types.SACK:
		if err := requireAtLeast(frame, offs, AckExtrasLen, "ACK section"); err != nil {
			return nil, err
		}
		ack, rcvWnd, tsEcho = decodeAckExtras(frame[offs:])
		offs += AckExtrasLen
		extrasLen += AckExtrasLen
		if length != 0 {
			return nil, fmt.Errorf("%w: SACK frame must have len == 0", types.ErrLengthMismatch)
		}

		if err := requireAtLeast(frame, offs, SackHeaderLen, "SACK header"); err != nil {
			return nil, err
		}
		blockCnt := frame[offs]
		reserved := frame[offs+1]
		if reserved != 0 {
			return nil, types.ErrReservedNonZero
		}
		offs += SackHeaderLen
		extrasLen += SackHeaderLen

		if int(blockCnt) > MaxSackBlocks {
			return nil, fmt.Errorf("%w: %d > %d", types.ErrTooManySackBlocks, blockCnt, MaxSackBlocks)
		}

		need := int(blockCnt) * SackBlockLen
		if err := requireAtLeast(frame, offs, need, "SACK blocks"); err != nil {
			return nil, err
		}
		sack = make([]types.SackBlock, 0, blockCnt)
		for i := 0; i < int(blockCnt); i++ {
			b := frame[offs+i*SackBlockLen:]
			start := binary.BigEndian.Uint32(b[0:4])
			end := binary.BigEndian.Uint32(b[4:8])
			if !(start < end) {
				return nil, fmt.Errorf("%w: block %d = [%d, %d)", types.ErrInvalidSackRange, i, start, end)
			}
			sack = append(sack, types.SackBlock{Start: start, End: end})
		}
		offs += need
		extrasLen += need

	default: // CTRL
		if length != 0 {
			return nil, fmt.Errorf("%w: CTRL frame must have len == 0", types.ErrLengthMismatch)
		}
	}

	expectedTotal := BaseLen + extrasLen + int(length)
	if len(frame) != expectedTotal {
		return nil, fmt.Errorf("%w: header len=%d, extras=%d, expected total=%d, actual=%d",
			types.ErrLengthMismatch, length, extrasLen, expectedTotal, len(frame))
	}

	var payload []byte
	if length > 0 {
		payload = append([]byte(nil), frame[len(frame)-int(length):]...)
	}

	zeroed := append([]byte(nil), frame...)
	binary.BigEndian.PutUint16(zeroed[offChecksum:], 0)
	expectedCk := checksum.Checksum(zeroed)
	if ck != expectedCk {
		return nil, types.ErrChecksumMismatch
	}

	return &Packet{
		Typ:         typ,
		ChannelType: channelType,
		Seq:         seq,
		TsSend:      tsSend,
		Payload:     payload,
		Ack:         ack,
		RcvWnd:      rcvWnd,
		TsEcho:      tsEcho,
		Sack:        sack,
	}, nil
}

func encodeAckExtras(ack uint32, rcvWnd uint16, tsEcho uint32) []byte {
	b := make([]byte, AckExtrasLen)
	binary.BigEndian.PutUint32(b[0:4], ack)
	binary.BigEndian.PutUint16(b[4:6], rcvWnd)
	binary.BigEndian.PutUint32(b[6:10], tsEcho)
	return b
}

func decodeAckExtras(b []byte) (ack uint32, rcvWnd uint16, tsEcho uint32) {
	ack = binary.BigEndian.Uint32(b[0:4])
	rcvWnd = binary.BigEndian.Uint16(b[4:6])
	tsEcho = binary.BigEndian.Uint32(b[6:10])
	return
}

func ensureNoPayload(payload []byte) error {
	if len(payload) != 0 {
		return types.ErrUnexpectedPayload
	}
	return nil
}

func requireAtLeast(buf []byte, start, need int, what string) error {
	if len(buf)-start < need {
		return fmt.Errorf("%w: truncated %s: need %d, have %d", types.ErrFrameTooShort, what, need, len(buf)-start)
	}
	return nil
}

func checkU8(name string, v uint32) error {
	if v > 0xff {
		return fmt.Errorf("%w: %s = %d", types.ErrFieldOverflow, name, v)
	}
	return nil
}
