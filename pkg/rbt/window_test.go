package rbt

import (
	"testing"
	"time"
)

func TestWindowAdmitRespectsSize(t *testing.T) {
	w := NewWindow(1)
	if !w.Admit(1, []byte("a"), time.Now(), time.Hour, func(uint32) {}) {
		t.Fatal("first admit into an empty window should succeed")
	}
	if w.Admit(2, []byte("b"), time.Now(), time.Hour, func(uint32) {}) {
		t.Fatal("admit should fail once the window is full")
	}
	if w.HasSpace() {
		t.Fatal("HasSpace should report false when full")
	}
}

func TestWindowAdmitRejectsDuplicateSeq(t *testing.T) {
	w := NewWindow(4)
	w.Admit(1, []byte("a"), time.Now(), time.Hour, func(uint32) {})
	if w.Admit(1, []byte("a2"), time.Now(), time.Hour, func(uint32) {}) {
		t.Fatal("admitting an already-outstanding sequence should fail")
	}
}

func TestWindowOnAckRemovesCoveredSegments(t *testing.T) {
	w := NewWindow(4)
	w.Admit(1, []byte("abc"), time.Now(), time.Hour, func(uint32) {}) // covers bytes [1,4)
	w.Admit(4, []byte("de"), time.Now(), time.Hour, func(uint32) {})  // covers bytes [4,6)

	w.OnAck(4) // cumulative ack of 4 covers only the first segment
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after partial cumulative ack", w.Len())
	}
	if _, ok := w.Get(1); ok {
		t.Fatal("segment 1 should have been removed by the cumulative ack")
	}
	if _, ok := w.Get(4); !ok {
		t.Fatal("segment 4 should still be outstanding")
	}

	w.OnAck(6)
	if w.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after full cumulative ack", w.Len())
	}
}

func TestWindowDupAckFiresOnThirdObservation(t *testing.T) {
	w := NewWindow(4)
	w.Admit(5, []byte("x"), time.Now(), time.Hour, func(uint32) {})

	if fire, _, _ := w.OnDupAck(5); fire {
		t.Fatal("first observation must not fire")
	}
	if fire, _, _ := w.OnDupAck(5); fire {
		t.Fatal("second observation must not fire")
	}
	fire, lowest, has := w.OnDupAck(5)
	if !fire {
		t.Fatal("third observation must fire fast retransmit")
	}
	if !has || lowest != 5 {
		t.Fatalf("expected lowest outstanding seq 5, got %d (has=%v)", lowest, has)
	}
	if fire, _, _ := w.OnDupAck(5); fire {
		t.Fatal("a fourth observation must not re-fire")
	}
}

func TestWindowDupAckCounterIsGlobalAcrossWindow(t *testing.T) {
	// Two segments share the same ack number observation count — the
	// counter is keyed by ack number for the whole transfer, not per-window
	// slot (spec.md §9).
	w := NewWindow(4)
	w.Admit(10, []byte("y"), time.Now(), time.Hour, func(uint32) {})
	w.OnDupAck(9)
	w.OnDupAck(9)
	w.OnAck(11) // segment 10 is acknowledged and leaves the window
	w.Admit(11, []byte("z"), time.Now(), time.Hour, func(uint32) {})
	fire, _, _ := w.OnDupAck(9)
	if !fire {
		t.Fatal("global counter should fire on the third observation regardless of segment churn")
	}
}

func TestWindowRescheduleExceedsLimit(t *testing.T) {
	w := NewWindow(1)
	w.Admit(1, []byte("a"), time.Now(), time.Hour, func(uint32) {})

	var exceeded bool
	var count int
	for i := 0; i < maxRetransmits; i++ {
		c, exc, ok := w.Reschedule(1, time.Now(), time.Hour, func(uint32) {})
		if !ok {
			t.Fatalf("reschedule %d: segment unexpectedly not outstanding", i)
		}
		count, exceeded = c, exc
	}
	if exceeded {
		t.Fatalf("should not exceed after exactly %d retransmits", maxRetransmits)
	}
	if count != maxRetransmits {
		t.Fatalf("count = %d, want %d", count, maxRetransmits)
	}

	_, exceeded, ok := w.Reschedule(1, time.Now(), time.Hour, func(uint32) {})
	if !ok || !exceeded {
		t.Fatal("the 17th attempt must be reported as exceeded")
	}
}

func TestWindowCancelStopsAllTimers(t *testing.T) {
	fired := make(chan uint32, 2)
	w := NewWindow(4)
	w.Admit(1, []byte("a"), time.Now(), time.Millisecond, func(seq uint32) { fired <- seq })
	w.Admit(2, []byte("b"), time.Now(), time.Millisecond, func(seq uint32) { fired <- seq })
	w.Cancel()

	select {
	case seq := <-fired:
		t.Fatalf("timer for seq %d fired after Cancel", seq)
	case <-time.After(20 * time.Millisecond):
	}
	if w.Len() != 0 {
		t.Fatalf("Len() = %d after Cancel, want 0", w.Len())
	}
}
