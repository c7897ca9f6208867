package dvr

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"netcore/internal/netlog"
)

// Drop reasons (spec.md §4.8) — exported so a metrics collector can label
// counters by cause.
const (
	DropNonIPv4        = "non_ipv4"
	DropBadChecksum    = "bad_checksum"
	DropTTLExpired     = "ttl_expired"
	DropLocalDelivery  = "local_delivery"
	DropNoRoute        = "no_route"
	DropSameInterface  = "same_interface"
	DropARPUnresolved  = "arp_unresolved"
	DropSerializeError = "serialize_error"
)

// ErrDropped is returned by Forward when a packet is consumed (dropped) per
// spec.md §4.8 rather than forwarded; Reason names the drop cause.
type ErrDropped struct {
	Reason string
}

func (e *ErrDropped) Error() string { return "dvr: packet dropped: " + e.Reason }

// Link is the outbound send surface the Forwarder writes finished Ethernet
// frames to, keyed by egress interface name. Concrete NIC/raw-socket wiring
// is out of scope for this module (spec.md §1) — callers supply it.
type Link interface {
	SendFrame(iface string, frame []byte) error
}

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	// LocalAddresses are this router's own interface addresses (spec.md
	// §4.8: a packet destined to one of these is a local-delivery drop,
	// not a forwarding candidate).
	LocalAddresses map[uint32]bool
}

// Forwarder implements the IPv4 forwarding pipeline of spec.md §4.8: parse
// the Ethernet+IPv4 headers, verify the IPv4 checksum, decrement TTL, drop
// on expiry or local delivery, consult the route table for a next hop,
// resolve the next hop's MAC via arp, rewrite the frame, recompute the
// checksum, and emit on the egress interface. Grounded on gopacket/layers
// for header parsing and serialization, the way m-lab-etl's tcpip package
// uses the library for wire-format IPv4/TCP header work.
type Forwarder struct {
	table   *Table
	arp     ARPResolver
	link    Link
	cfg     ForwarderConfig
	log     *netlog.Logger
	ourMACs map[string][6]byte // iface name -> this router's MAC on that iface

	drops sync.Map // reason string -> *int64
}

// NewForwarder builds a Forwarder over table, resolving next-hop MACs via
// arp and emitting finished frames through link. ourMACs supplies this
// router's own source MAC per egress interface.
func NewForwarder(table *Table, arp ARPResolver, link Link, ourMACs map[string][6]byte, cfg ForwarderConfig) *Forwarder {
	return &Forwarder{
		table:   table,
		arp:     arp,
		link:    link,
		cfg:     cfg,
		log:     netlog.For("dvr.forwarder"),
		ourMACs: ourMACs,
	}
}

// Forward runs one frame through the pipeline. frame is a complete Ethernet
// frame as received on ingress. A non-nil *ErrDropped return means the
// packet was consumed per policy, not a pipeline failure.
func (f *Forwarder) Forward(ingress string, frame []byte) error {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return f.drop(DropNonIPv4)
	}
	eth, _ := ethLayer.(*layers.Ethernet)
	if eth.EthernetType != layers.EthernetTypeIPv4 {
		return f.drop(DropNonIPv4)
	}

	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return f.drop(DropNonIPv4)
	}
	ip, _ := ipLayer.(*layers.IPv4)

	if !verifyIPv4Checksum(ip) {
		f.log.WithFields(netlog.Fields{"ingress": ingress}).Warn("bad IPv4 checksum, dropping")
		return f.drop(DropBadChecksum)
	}

	if ip.TTL <= 1 {
		return f.drop(DropTTLExpired)
	}

	dst := be32(ip.DstIP.To4())
	if f.cfg.LocalAddresses[dst] {
		return f.drop(DropLocalDelivery)
	}

	route, ok := f.table.Lookup(dst)
	if !ok || route.Metric >= Infinity {
		return f.drop(DropNoRoute)
	}
	if route.Iface == ingress {
		return f.drop(DropSameInterface)
	}

	nextHop := route.Gateway
	if nextHop == 0 {
		nextHop = dst // directly connected: next hop is the destination itself
	}
	nextHopMAC, ok := f.arp.Resolve(nextHop)
	if !ok {
		return f.drop(DropARPUnresolved)
	}

	ip.TTL--

	srcMAC, ok := f.ourMACs[route.Iface]
	if !ok {
		return f.drop(DropNoRoute)
	}
	eth.SrcMAC = net.HardwareAddr(srcMAC[:])
	eth.DstMAC = net.HardwareAddr(nextHopMAC[:])

	out, err := serializeFrame(eth, ip)
	if err != nil {
		f.drop(DropSerializeError)
		return errors.Join(&ErrDropped{Reason: DropSerializeError}, err)
	}

	if err := f.link.SendFrame(route.Iface, out); err != nil {
		return err
	}
	return nil
}

// drop increments the named counter and returns the corresponding error.
func (f *Forwarder) drop(reason string) error {
	v, _ := f.drops.LoadOrStore(reason, new(int64))
	atomic.AddInt64(v.(*int64), 1)
	return &ErrDropped{Reason: reason}
}

// DropCounts returns a snapshot of drop counters by reason, for the metrics
// collector in metrics.go.
func (f *Forwarder) DropCounts() map[string]int64 {
	out := make(map[string]int64)
	f.drops.Range(func(k, v interface{}) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// verifyIPv4Checksum recomputes the header checksum gopacket already parsed
// out and compares it against the wire value, per spec.md §4.8.
func verifyIPv4Checksum(ip *layers.IPv4) bool {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: false}
	shadow := *ip
	if err := shadow.SerializeTo(buf, opts); err != nil {
		return false
	}
	computed := shadow.Checksum
	return computed == ip.Checksum
}

// serializeFrame rewrites the Ethernet+IPv4 headers (new MACs, decremented
// TTL) and recomputes the IPv4 checksum, reusing the original payload
// untouched (spec.md §4.8: "recompute the IPv4 checksum; payload is opaque").
func serializeFrame(eth *layers.Ethernet, ip *layers.IPv4) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: false}

	payload := gopacket.Payload(ip.Payload)
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, payload); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
