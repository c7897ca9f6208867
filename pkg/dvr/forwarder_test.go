package dvr

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type fakeLink struct {
	iface string
	frame []byte
	calls int
}

func (f *fakeLink) SendFrame(iface string, frame []byte) error {
	f.iface = iface
	f.frame = frame
	f.calls++
	return nil
}

func buildFrame(t *testing.T, ttl uint8, dst net.IP) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 9),
		DstIP:    dst,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payload := gopacket.Payload([]byte("payload"))
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, payload); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func newTestForwarder() (*Forwarder, *Table, *fakeLink, StaticARP) {
	tab := NewTable()
	link := &fakeLink{}
	arp := StaticARP{}
	ourMACs := map[string][6]byte{"eth1": {0x02, 0x00, 0x00, 0x00, 0x00, 0x01}}
	fwd := NewForwarder(tab, arp, link, ourMACs, ForwarderConfig{LocalAddresses: map[uint32]bool{}})
	return fwd, tab, link, arp
}

func TestForwarderDropsExpiredTTL(t *testing.T) {
	fwd, _, _, _ := newTestForwarder()
	frame := buildFrame(t, 1, net.IPv4(192, 168, 1, 1))
	err := fwd.Forward("eth0", frame)
	dropped, ok := err.(*ErrDropped)
	if !ok || dropped.Reason != DropTTLExpired {
		t.Fatalf("err = %v, want ErrDropped{TTLExpired}", err)
	}
}

func TestForwarderDropsWithNoRoute(t *testing.T) {
	fwd, _, _, _ := newTestForwarder()
	frame := buildFrame(t, 64, net.IPv4(192, 168, 1, 1))
	err := fwd.Forward("eth0", frame)
	dropped, ok := err.(*ErrDropped)
	if !ok || dropped.Reason != DropNoRoute {
		t.Fatalf("err = %v, want ErrDropped{NoRoute}", err)
	}
}

func TestForwarderDropsLocalDelivery(t *testing.T) {
	fwd, _, _, _ := newTestForwarder()
	local := ip(192, 168, 1, 1)
	fwd.cfg.LocalAddresses[local] = true
	frame := buildFrame(t, 64, net.IPv4(192, 168, 1, 1))
	err := fwd.Forward("eth0", frame)
	dropped, ok := err.(*ErrDropped)
	if !ok || dropped.Reason != DropLocalDelivery {
		t.Fatalf("err = %v, want ErrDropped{LocalDelivery}", err)
	}
}

func TestForwarderDropsUnresolvedARP(t *testing.T) {
	fwd, tab, _, _ := newTestForwarder()
	tab.Insert(ip(192, 168, 1, 0), ip(255, 255, 255, 0), 0, "eth1", 1, true, time.Now())

	frame := buildFrame(t, 64, net.IPv4(192, 168, 1, 1))
	err := fwd.Forward("eth0", frame)
	dropped, ok := err.(*ErrDropped)
	if !ok || dropped.Reason != DropARPUnresolved {
		t.Fatalf("err = %v, want ErrDropped{ARPUnresolved}", err)
	}
}

func TestForwarderDropsSameInterface(t *testing.T) {
	fwd, tab, _, arp := newTestForwarder()
	tab.Insert(ip(192, 168, 1, 0), ip(255, 255, 255, 0), 0, "eth0", 1, true, time.Now())
	arp[ip(192, 168, 1, 1)] = [6]byte{1, 2, 3, 4, 5, 6}

	frame := buildFrame(t, 64, net.IPv4(192, 168, 1, 1))
	err := fwd.Forward("eth0", frame)
	dropped, ok := err.(*ErrDropped)
	if !ok || dropped.Reason != DropSameInterface {
		t.Fatalf("err = %v, want ErrDropped{SameInterface}", err)
	}
}

func TestForwarderRewritesAndForwards(t *testing.T) {
	fwd, tab, link, arp := newTestForwarder()
	tab.Insert(ip(192, 168, 1, 0), ip(255, 255, 255, 0), 0, "eth1", 1, true, time.Now())
	nextHopMAC := [6]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	arp[ip(192, 168, 1, 1)] = nextHopMAC

	frame := buildFrame(t, 64, net.IPv4(192, 168, 1, 1))
	if err := fwd.Forward("eth0", frame); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if link.calls != 1 {
		t.Fatalf("SendFrame called %d times, want 1", link.calls)
	}
	if link.iface != "eth1" {
		t.Fatalf("egress iface = %q, want %q", link.iface, "eth1")
	}

	pkt := gopacket.NewPacket(link.frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if net.HardwareAddr(eth.DstMAC).String() != net.HardwareAddr(nextHopMAC[:]).String() {
		t.Fatalf("dst MAC = %v, want %v", eth.DstMAC, nextHopMAC)
	}
	ip4 := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ip4.TTL != 63 {
		t.Fatalf("TTL = %d, want 63 (decremented once)", ip4.TTL)
	}
}

func TestForwarderDropCountsTrackReasons(t *testing.T) {
	fwd, _, _, _ := newTestForwarder()
	frame := buildFrame(t, 1, net.IPv4(192, 168, 1, 1))
	_ = fwd.Forward("eth0", frame)
	_ = fwd.Forward("eth0", frame)

	counts := fwd.DropCounts()
	if counts[DropTTLExpired] != 2 {
		t.Fatalf("DropCounts()[TTLExpired] = %d, want 2", counts[DropTTLExpired])
	}
}
