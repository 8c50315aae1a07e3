package transport

import (
	"net"
	"time"

	"github.com/FerdiHS/dual-channel-transport-protocol/types"
)

// DatagramEndpoint is the pluggable substrate Transport sends and receives
// raw frames over. It plays the role the teacher's stack/link layer plays
// for transport/tcp: the protocol engine above it never touches a socket
// directly.
type DatagramEndpoint interface {
	// Bind associates the endpoint with a local address.
	Bind(addr string) error

	// Connect records the default destination used by SendTo when dst is
	// empty; it does not filter inbound frames.
	Connect(addr string) error

	// SendTo writes b to dst (or to the connected peer if dst is empty).
	SendTo(b []byte, dst net.Addr) (int, error)

	// RecvFrom blocks for up to the endpoint's read deadline (set via
	// WaitReady) and returns the next datagram and its source.
	RecvFrom(buf []byte) (int, net.Addr, error)

	// WaitReady arms the endpoint so the next RecvFrom returns (possibly
	// with a deadline-exceeded error) within timeout. The deadline it sets
	// is absolute, not a per-call "wait up to timeout" budget: calling
	// WaitReady(0) and then RecvFrom repeatedly does not drain a backlog
	// of already-buffered datagrams one at a time, since the deadline is
	// already in the past by the time each RecvFrom runs and a lapsed
	// deadline fails the read before it is even attempted. To drain a
	// backlog, call WaitReady once and then RecvFrom in a loop until it
	// errors — a read of already-buffered data completes immediately as
	// long as the deadline has not yet passed; once it has, reads fail
	// even while datagrams remain buffered.
	WaitReady(timeout time.Duration) error

	// LocalAddr reports the endpoint's bound address, or nil if unbound.
	LocalAddr() net.Addr

	// Close releases the underlying socket.
	Close() error
}

// UDPEndpoint is a DatagramEndpoint backed by a single net.UDPConn, using
// read deadlines to implement the non-blocking WaitReady/RecvFrom contract
// — the stdlib's net.PacketConn already gives DCTP everything a pluggable
// substrate needs for plain UDP, so no additional abstraction from the
// example pack is warranted here.
type UDPEndpoint struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

// NewUDPEndpoint constructs an unbound UDPEndpoint. Call Bind and/or
// Connect before using it.
func NewUDPEndpoint() *UDPEndpoint {
	return &UDPEndpoint{}
}

func (e *UDPEndpoint) Bind(addr string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	e.conn = conn
	return nil
}

func (e *UDPEndpoint) Connect(addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	if e.conn == nil {
		conn, err := net.ListenUDP("udp", nil)
		if err != nil {
			return err
		}
		e.conn = conn
	}
	e.peer = raddr
	return nil
}

func (e *UDPEndpoint) SendTo(b []byte, dst net.Addr) (int, error) {
	if e.conn == nil {
		return 0, types.ErrNotBound
	}
	if dst == nil {
		dst = e.peer
	}
	if dst == nil {
		return 0, types.ErrNoPeer
	}
	return e.conn.WriteTo(b, dst)
}

func (e *UDPEndpoint) RecvFrom(buf []byte) (int, net.Addr, error) {
	if e.conn == nil {
		return 0, nil, types.ErrNotBound
	}
	return e.conn.ReadFrom(buf)
}

func (e *UDPEndpoint) WaitReady(timeout time.Duration) error {
	if e.conn == nil {
		return types.ErrNotBound
	}
	if timeout < 0 {
		timeout = 0
	}
	return e.conn.SetReadDeadline(time.Now().Add(timeout))
}

func (e *UDPEndpoint) LocalAddr() net.Addr {
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

func (e *UDPEndpoint) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
