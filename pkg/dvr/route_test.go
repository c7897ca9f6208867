package dvr

import (
	"testing"
	"time"
)

func ip(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestLookupPrefersLongestMatch(t *testing.T) {
	tab := NewTable()
	now := time.Now()
	tab.Insert(ip(10, 0, 0, 0), ip(255, 0, 0, 0), 0, "eth0", 1, false, now)
	tab.Insert(ip(10, 0, 1, 0), ip(255, 255, 255, 0), 0, "eth1", 1, false, now)

	entry, ok := tab.Lookup(ip(10, 0, 1, 5))
	if !ok {
		t.Fatal("expected a match")
	}
	if entry.Iface != "eth1" {
		t.Fatalf("iface = %q, want %q (longest prefix)", entry.Iface, "eth1")
	}
}

func TestLookupNoMatch(t *testing.T) {
	tab := NewTable()
	tab.Insert(ip(10, 0, 0, 0), ip(255, 0, 0, 0), 0, "eth0", 1, false, time.Now())
	if _, ok := tab.Lookup(ip(192, 168, 1, 1)); ok {
		t.Fatal("expected no match outside the configured prefix")
	}
}

func TestInsertReportsChangeOnlyWhenFieldsDiffer(t *testing.T) {
	tab := NewTable()
	now := time.Now()
	dest, mask := ip(10, 0, 0, 0), ip(255, 0, 0, 0)

	if changed := tab.Insert(dest, mask, 1, "eth0", 2, false, now); !changed {
		t.Fatal("first insert of a new entry must report changed=true")
	}
	if changed := tab.Insert(dest, mask, 1, "eth0", 2, false, now.Add(time.Second)); changed {
		t.Fatal("re-inserting identical fields must report changed=false")
	}
	if changed := tab.Insert(dest, mask, 1, "eth0", 1, false, now.Add(2*time.Second)); !changed {
		t.Fatal("a lower metric must report changed=true")
	}
}

func TestDirectRoutesSurviveExpiry(t *testing.T) {
	tab := NewTable()
	now := time.Now()
	dest, mask := ip(10, 0, 0, 0), ip(255, 0, 0, 0)
	tab.Insert(dest, mask, 0, "eth0", 0, true, now.Add(-time.Hour))

	removed := tab.Expire(now, 30*time.Second)
	if len(removed) != 0 {
		t.Fatalf("direct route was expired: %+v", removed)
	}
	if _, ok := tab.Get(dest, mask); !ok {
		t.Fatal("direct route should still be present")
	}
}

func TestLearnedRoutesExpireAfterTimeout(t *testing.T) {
	tab := NewTable()
	now := time.Now()
	dest, mask := ip(172, 16, 0, 0), ip(255, 255, 0, 0)
	tab.Insert(dest, mask, ip(10, 0, 0, 1), "eth0", 3, false, now.Add(-31*time.Second))

	removed := tab.Expire(now, 30*time.Second)
	if len(removed) != 1 {
		t.Fatalf("expected exactly one expired entry, got %d", len(removed))
	}
	if _, ok := tab.Get(dest, mask); ok {
		t.Fatal("expired route should have been removed")
	}
}

func TestMarkUnreachableSpareDirectRoutes(t *testing.T) {
	tab := NewTable()
	now := time.Now()
	dest, mask := ip(10, 0, 0, 0), ip(255, 0, 0, 0)
	tab.Insert(dest, mask, 0, "eth0", 0, true, now)

	tab.MarkUnreachable(dest, mask, now)
	entry, _ := tab.Get(dest, mask)
	if entry.Metric != 0 {
		t.Fatalf("direct route metric changed to %d, want unaffected", entry.Metric)
	}
}

func TestMarkUnreachableSetsInfinity(t *testing.T) {
	tab := NewTable()
	now := time.Now()
	dest, mask := ip(192, 168, 0, 0), ip(255, 255, 0, 0)
	tab.Insert(dest, mask, ip(10, 0, 0, 1), "eth0", 4, false, now)

	tab.MarkUnreachable(dest, mask, now)
	entry, ok := tab.Get(dest, mask)
	if !ok || entry.Metric != Infinity {
		t.Fatalf("metric = %d (ok=%v), want %d", entry.Metric, ok, Infinity)
	}
}

func TestTouchOnlyRefreshesTimestamp(t *testing.T) {
	tab := NewTable()
	t0 := time.Now()
	dest, mask := ip(10, 1, 0, 0), ip(255, 255, 0, 0)
	tab.Insert(dest, mask, ip(10, 0, 0, 2), "eth0", 3, false, t0)

	t1 := t0.Add(5 * time.Second)
	tab.Touch(dest, mask, t1)

	entry, ok := tab.Get(dest, mask)
	if !ok {
		t.Fatal("entry missing after Touch")
	}
	if entry.Metric != 3 || entry.Gateway != ip(10, 0, 0, 2) {
		t.Fatalf("Touch must not alter metric/gateway, got %+v", entry)
	}
	if !entry.LastRefresh.Equal(t1) {
		t.Fatalf("LastRefresh = %v, want %v", entry.LastRefresh, t1)
	}
}

func TestInsertClampsMetricToInfinity(t *testing.T) {
	tab := NewTable()
	dest, mask := ip(10, 2, 0, 0), ip(255, 255, 0, 0)
	tab.Insert(dest, mask, ip(10, 0, 0, 3), "eth0", 99, false, time.Now())

	entry, _ := tab.Get(dest, mask)
	if entry.Metric != Infinity {
		t.Fatalf("metric = %d, want clamped to %d", entry.Metric, Infinity)
	}
}
