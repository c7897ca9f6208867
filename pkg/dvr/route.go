// Package dvr implements Core B: a RIPv2-style distance-vector routing
// control plane (route table, RIP engine, forwarder).
package dvr

import (
	"math/bits"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Infinity is the RIP metric value that denotes "unreachable" (spec.md §6).
const Infinity = 16

// Entry is a route table row (spec.md §3, "Route Entry"). Destination is
// always stored pre-masked: Destination&Mask == Destination.
type Entry struct {
	Destination uint32
	Mask        uint32
	Gateway     uint32 // 0 for direct entries
	Iface       string
	Metric      int
	LastRefresh time.Time
	Direct      bool
}

func key(dest, mask uint32) [2]uint32 { return [2]uint32{dest, mask} }

// routeSet is the immutable snapshot the table publishes; readers take a
// pointer atomically and never observe a torn update (spec.md §4.6/§5).
type routeSet struct {
	entries map[[2]uint32]Entry
}

func (rs *routeSet) clone() *routeSet {
	cp := make(map[[2]uint32]Entry, len(rs.entries))
	for k, v := range rs.entries {
		cp[k] = v
	}
	return &routeSet{entries: cp}
}

// Table stores routes and serves longest-prefix-match lookups. Writers are
// serialized by mu; readers (Lookup, Snapshot, Export) take the current
// published *routeSet atomically and never block on a writer, per the
// copy-on-write strategy spec.md §9 suggests.
type Table struct {
	mu  sync.Mutex // serializes writers only
	ptr atomic.Pointer[routeSet]
}

// NewTable returns an empty route table.
func NewTable() *Table {
	t := &Table{}
	t.ptr.Store(&routeSet{entries: make(map[[2]uint32]Entry)})
	return t
}

func (t *Table) current() *routeSet { return t.ptr.Load() }

// Lookup returns the entry that is the longest-prefix match for ip: the
// entry maximizing popcount(mask) among entries where ip&mask == destination
// (spec.md §4.6, §8).
func (t *Table) Lookup(ip uint32) (Entry, bool) {
	rs := t.current()
	var best Entry
	found := false
	bestBits := -1
	for _, e := range rs.entries {
		if ip&e.Mask != e.Destination {
			continue
		}
		b := bits.OnesCount32(e.Mask)
		if b > bestBits {
			bestBits = b
			best = e
			found = true
		}
	}
	return best, found
}

// Get returns the entry exactly keyed by (destination, mask), if any —
// distinct from Lookup's longest-prefix match over an arbitrary address.
func (t *Table) Get(destination, mask uint32) (Entry, bool) {
	rs := t.current()
	e, ok := rs.entries[key(destination&mask, mask)]
	return e, ok
}

// Insert inserts or updates an entry keyed by (destination, mask). It
// reports whether anything changed per the update policy in spec.md §4.6:
// if a matching entry exists, gateway/iface/metric/direct are replaced only
// when they differ (and the timestamp refreshed); if nothing differs, only
// the timestamp is refreshed and no change is reported.
func (t *Table) Insert(destination, mask, gateway uint32, iface string, metric int, direct bool, now time.Time) (changed bool) {
	if metric > Infinity {
		metric = Infinity
	}
	destination &= mask

	t.mu.Lock()
	defer t.mu.Unlock()

	rs := t.current().clone()
	k := key(destination, mask)
	existing, exists := rs.entries[k]

	if exists {
		changed = existing.Gateway != gateway || existing.Iface != iface ||
			existing.Metric != metric || existing.Direct != direct
		existing.LastRefresh = now
		if changed {
			existing.Gateway = gateway
			existing.Iface = iface
			existing.Metric = metric
			existing.Direct = direct
		}
		rs.entries[k] = existing
	} else {
		rs.entries[k] = Entry{
			Destination: destination,
			Mask:        mask,
			Gateway:     gateway,
			Iface:       iface,
			Metric:      metric,
			Direct:      direct,
			LastRefresh: now,
		}
		changed = true
	}

	t.ptr.Store(rs)
	return changed
}

// Touch refreshes an existing entry's timestamp without altering any other
// field — used for an equal-metric RIP refresh (spec.md §4.7 tie-break).
func (t *Table) Touch(destination, mask uint32, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := t.current().clone()
	k := key(destination&mask, mask)
	e, ok := rs.entries[k]
	if !ok {
		return
	}
	e.LastRefresh = now
	rs.entries[k] = e
	t.ptr.Store(rs)
}

// MarkUnreachable sets the matched non-direct entry's metric to Infinity and
// refreshes its timestamp (spec.md §4.6). Direct entries are immune.
func (t *Table) MarkUnreachable(destination, mask uint32, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := t.current().clone()
	k := key(destination&mask, mask)
	e, ok := rs.entries[k]
	if !ok || e.Direct {
		return
	}
	e.Metric = Infinity
	e.LastRefresh = now
	rs.entries[k] = e
	t.ptr.Store(rs)
}

// Expire removes non-direct entries whose age exceeds timeout as of now.
// Direct entries are never removed (spec.md §4.6, §8).
func (t *Table) Expire(now time.Time, timeout time.Duration) (removed []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs := t.current().clone()
	for k, e := range rs.entries {
		if e.Direct {
			continue
		}
		if now.Sub(e.LastRefresh) > timeout {
			removed = append(removed, e)
			delete(rs.entries, k)
		}
	}
	if len(removed) > 0 {
		t.ptr.Store(rs)
	}
	return removed
}

// Snapshot returns every entry currently in the table, for export or
// metrics collection, without taking the writer lock.
func (t *Table) Snapshot() []Entry {
	rs := t.current()
	out := make([]Entry, 0, len(rs.entries))
	for _, e := range rs.entries {
		out = append(out, e)
	}
	return out
}

// ExportRIP snapshots entries as advertisement tuples (spec.md §4.6).
func (t *Table) ExportRIP() []Advertisement {
	entries := t.Snapshot()
	out := make([]Advertisement, 0, len(entries))
	for _, e := range entries {
		out = append(out, Advertisement{
			Prefix: e.Destination,
			Mask:   e.Mask,
			Metric: e.Metric,
		})
	}
	return out
}

// Advertisement is one RIP advertised route tuple (spec.md §6).
type Advertisement struct {
	Prefix uint32
	Mask   uint32
	Metric int
}

// ParseIPv4Mask converts a net.IPMask/net.IP pair into their uint32 wire
// form (big-endian host order), matching the byte order the codec uses
// elsewhere in this module.
func ParseIPv4Mask(ip net.IP, mask net.IPMask) (ipU32, maskU32 uint32) {
	ip4 := ip.To4()
	m4 := []byte(mask)
	if len(m4) == 16 {
		m4 = m4[12:]
	}
	return be32(ip4), be32(m4)
}

func be32(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
