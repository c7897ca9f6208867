package main

import (
	"context"
	"fmt"
	"net"

	"netcore/pkg/dvr"
)

// multicastTransport implements dvr.Transport over one UDP multicast socket
// per configured interface. It is CLI glue, not protocol logic: the dvr
// package holds no socket code (spec.md §1), so this type exists only to
// give ripd something concrete to run the Engine against.
type multicastTransport struct {
	byIface map[string]*net.UDPConn
	recvCh  chan inboundFrame
}

type inboundFrame struct {
	payload []byte
	srcIP   uint32
	iface   string
}

func newMulticastTransport(ifaces []dvr.Iface) (*multicastTransport, error) {
	group := net.IPv4(dvr.MulticastGroup[0], dvr.MulticastGroup[1], dvr.MulticastGroup[2], dvr.MulticastGroup[3])
	t := &multicastTransport{
		byIface: make(map[string]*net.UDPConn, len(ifaces)),
		recvCh:  make(chan inboundFrame, 64),
	}
	for _, iface := range ifaces {
		netIface, err := net.InterfaceByName(iface.Name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", iface.Name, err)
		}
		conn, err := net.ListenMulticastUDP("udp4", netIface, &net.UDPAddr{IP: group, Port: dvr.RIPPort})
		if err != nil {
			return nil, fmt.Errorf("listen multicast on %s: %w", iface.Name, err)
		}
		t.byIface[iface.Name] = conn
		go t.readLoop(iface.Name, conn)
	}
	return t, nil
}

func (t *multicastTransport) readLoop(ifaceName string, conn *net.UDPConn) {
	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		t.recvCh <- inboundFrame{payload: payload, srcIP: be32FromIP(addr.IP), iface: ifaceName}
	}
}

func (t *multicastTransport) SendMulticast(iface string, payload []byte) error {
	conn, ok := t.byIface[iface]
	if !ok {
		return fmt.Errorf("multicastTransport: unknown interface %q", iface)
	}
	group := net.IPv4(dvr.MulticastGroup[0], dvr.MulticastGroup[1], dvr.MulticastGroup[2], dvr.MulticastGroup[3])
	_, err := conn.WriteToUDP(payload, &net.UDPAddr{IP: group, Port: dvr.RIPPort})
	return err
}

func (t *multicastTransport) SendUnicast(iface string, destIP uint32, payload []byte) error {
	conn, ok := t.byIface[iface]
	if !ok {
		return fmt.Errorf("multicastTransport: unknown interface %q", iface)
	}
	dst := net.IPv4(byte(destIP>>24), byte(destIP>>16), byte(destIP>>8), byte(destIP))
	_, err := conn.WriteToUDP(payload, &net.UDPAddr{IP: dst, Port: dvr.RIPPort})
	return err
}

func (t *multicastTransport) Recv(ctx context.Context) ([]byte, uint32, string, error) {
	select {
	case f := <-t.recvCh:
		return f.payload, f.srcIP, f.iface, nil
	case <-ctx.Done():
		return nil, 0, "", ctx.Err()
	}
}

func (t *multicastTransport) Close() error {
	for _, conn := range t.byIface {
		_ = conn.Close()
	}
	return nil
}

func be32FromIP(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}
