// Package rbtio supplies the abstract "send datagram" / "receive datagram"
// capability that Core A (pkg/rbt) consumes. The socket/datagram facility
// itself is out of scope for the protocol core (spec.md §1); this package
// exists only so the core never imports net directly, and so tests can
// swap in an in-memory fake (pipe.go).
package rbtio

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Conn is the datagram capability the RBT core is built against: a
// connected point-to-point channel with a bounded-timeout receive, matching
// the "socket receive (with bounded poll timeout)" suspension point in
// spec.md §5.
type Conn interface {
	// Send transmits b as a single datagram to the peer.
	Send(b []byte) error
	// Recv blocks for up to timeout for one datagram, returning it. A
	// timeout with no datagram returns a nil slice and a timeout error
	// (ErrTimeout from Pipe; a net timeout error wrapping
	// os.ErrDeadlineExceeded from UDPConn) that callers treat as "loop
	// continues" per spec.md §4.4/§7.
	Recv(timeout time.Duration) ([]byte, error)
	// Close releases any underlying resources.
	Close() error
}

// UDPConn adapts a net.UDPConn to the Conn interface. It carries no protocol
// logic of its own. Two constructors cover the two roles a transfer's ends
// play: DialUDP for a sender that already knows its peer, ListenUDP for a
// receiver that learns its peer's address from inbound datagrams (the first
// being the handshake SYN). Every Recv records the sender's address, and Send
// goes to the most recently recorded one.
type UDPConn struct {
	conn *net.UDPConn

	mu     sync.Mutex
	remote *net.UDPAddr // nil for ListenUDP until the first Recv
}

// DialUDP opens a UDP socket bound to localPort whose datagrams go to
// remoteAddr.
func DialUDP(localPort int, remoteAddr string) (*UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, err
	}
	laddr := &net.UDPAddr{Port: localPort}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &UDPConn{conn: conn, remote: raddr}, nil
}

// ListenUDP opens a UDP socket bound to localPort, accepting datagrams from
// any peer (used by the receiver, which learns its peer from the SYN).
func ListenUDP(localPort int) (*UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, err
	}
	return &UDPConn{conn: conn}, nil
}

func (c *UDPConn) Send(b []byte) error {
	c.mu.Lock()
	remote := c.remote
	c.mu.Unlock()
	if remote == nil {
		return fmt.Errorf("rbtio: no peer address known yet; wait for an inbound datagram first")
	}
	_, err := c.conn.WriteToUDP(b, remote)
	return err
}

func (c *UDPConn) Recv(timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, 65535)
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.remote = addr
	c.mu.Unlock()
	return buf[:n], nil
}

func (c *UDPConn) Close() error { return c.conn.Close() }
