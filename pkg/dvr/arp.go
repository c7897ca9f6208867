package dvr

// ARPResolver resolves an IPv4 next-hop address to a MAC address. It is an
// injected, read-only collaborator (spec.md §3, §4.8) — this module
// implements no ARP protocol of its own, only the lookup contract the
// Forwarder consumes.
type ARPResolver interface {
	Resolve(ip uint32) (mac [6]byte, ok bool)
}

// StaticARP is a minimal ARPResolver backed by a fixed map, useful for tests
// and for static-topology deployments that never need ARP discovery.
type StaticARP map[uint32][6]byte

func (s StaticARP) Resolve(ip uint32) (mac [6]byte, ok bool) {
	mac, ok = s[ip]
	return mac, ok
}
