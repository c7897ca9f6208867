package rbt

import (
	"sync"
	"time"
)

const maxRetransmits = 16 // the 17th retransmit (retransmit count > maxRetransmits) is fatal, per spec.md §3

// Outstanding is an in-flight segment awaiting acknowledgment.
type Outstanding struct {
	Seq          uint32
	Payload      []byte
	FirstSentAt  time.Time
	LastSentAt   time.Time
	RetransmitN  int
	timer        *time.Timer
}

// Window tracks in-flight segments, their retransmit counters, and their
// per-segment timers (spec.md §4.3). It is shared between the ACK-receive
// path and the timer-fire path and is safe for concurrent use.
type Window struct {
	mu          sync.Mutex
	size        int
	outstanding map[uint32]*Outstanding
	dupAcks     map[uint32]int
}

// NewWindow returns an empty window with the given hard cap on outstanding
// segments (counted per-segment, not per-byte).
func NewWindow(size int) *Window {
	return &Window{
		size:        size,
		outstanding: make(map[uint32]*Outstanding),
		dupAcks:     make(map[uint32]int),
	}
}

// Len reports the number of currently outstanding segments.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.outstanding)
}

// HasSpace reports whether another segment can be admitted without
// exceeding the window's hard cap.
func (w *Window) HasSpace() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.outstanding) < w.size
}

// Admit inserts a new outstanding record if the window has space and no
// record already exists for seq. onTimeout is invoked, with the window's
// lock released, when the segment's timer fires while it is still
// outstanding. It returns false if the window was full or seq was already
// outstanding.
func (w *Window) Admit(seq uint32, payload []byte, now time.Time, timeout time.Duration, onTimeout func(uint32)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.outstanding) >= w.size {
		return false
	}
	if _, exists := w.outstanding[seq]; exists {
		return false
	}
	o := &Outstanding{
		Seq:         seq,
		Payload:     payload,
		FirstSentAt: now,
		LastSentAt:  now,
	}
	o.timer = time.AfterFunc(timeout, func() { onTimeout(seq) })
	w.outstanding[seq] = o
	return true
}

// Get returns the outstanding record for seq, if any.
func (w *Window) Get(seq uint32) (*Outstanding, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.outstanding[seq]
	return o, ok
}

// Reschedule re-stamps a retransmit attempt: increments the retransmit
// counter, updates LastSentAt, and reschedules the segment's timer at the
// given timeout. It reports the new retransmit count and whether the limit
// (§3: at most 16 retransmit attempts) has now been exceeded.
func (w *Window) Reschedule(seq uint32, now time.Time, timeout time.Duration, onTimeout func(uint32)) (count int, exceeded bool, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, exists := w.outstanding[seq]
	if !exists {
		return 0, false, false
	}
	o.RetransmitN++
	o.LastSentAt = now
	if o.timer != nil {
		o.timer.Stop()
	}
	if o.RetransmitN > maxRetransmits {
		return o.RetransmitN, true, true
	}
	o.timer = time.AfterFunc(timeout, func() { onTimeout(seq) })
	return o.RetransmitN, false, true
}

// OnAck removes every outstanding segment whose end byte is covered by a
// cumulative ack (seq+len(payload) <= ackNum), cancelling each timer.
func (w *Window) OnAck(ackNum uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for seq, o := range w.outstanding {
		if seq+uint32(len(o.Payload)) <= ackNum {
			if o.timer != nil {
				o.timer.Stop()
			}
			delete(w.outstanding, seq)
		}
	}
}

// OnDupAck records an observation of ackNum and reports whether this is the
// third observation (the fast-retransmit trigger), along with the lowest
// currently outstanding sequence to retransmit. The counter is keyed
// globally by ack number for the whole run, per spec.md §9 ("duplicate-ack
// counter keyed globally by ack number").
func (w *Window) OnDupAck(ackNum uint32) (fire bool, lowestSeq uint32, hasOutstanding bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dupAcks[ackNum]++
	if w.dupAcks[ackNum] != 3 {
		return false, 0, false
	}
	var lowest uint32
	found := false
	for seq := range w.outstanding {
		if !found || seq < lowest {
			lowest = seq
			found = true
		}
	}
	return true, lowest, found
}

// Cancel stops and removes every outstanding timer. Used on teardown.
func (w *Window) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for seq, o := range w.outstanding {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(w.outstanding, seq)
	}
}
