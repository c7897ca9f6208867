package rbt

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"netcore/internal/netlog"
	"netcore/pkg/rbtio"
)

// ReceiverState is the state the receiver side of a transfer is in.
type ReceiverState int

const (
	StateListen ReceiverState = iota
	StateRecvEstablished
	StateRecvClosed
)

func (s ReceiverState) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateRecvEstablished:
		return "ESTABLISHED"
	case StateRecvClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ReceiverConfig configures a Receiver. WindowSize is accepted for parity
// with the CLI surface (spec.md §6) but unused operationally by the
// receiver, which always delivers in order once bytes arrive.
type ReceiverConfig struct {
	MTU        int
	WindowSize int
}

// Receiver is the RBT receiver state machine (spec.md §4.5): handshake,
// in-order delivery with out-of-order buffering, cumulative ACK emission,
// teardown.
type Receiver struct {
	conn rbtio.Conn
	cfg  ReceiverConfig
	log  *netlog.Logger
	sink io.Writer

	connID string
	stats  Stats

	mu       sync.Mutex
	state    ReceiverState
	expected uint32
	buffer   map[uint32][]byte // seq -> payload, every key > expected
	start    time.Time
}

// NewReceiver builds a receiver bound to conn, delivering bytes to sink in
// order.
func NewReceiver(conn rbtio.Conn, sink io.Writer, cfg ReceiverConfig) *Receiver {
	return &Receiver{
		conn:   conn,
		cfg:    cfg,
		log:    netlog.For("rbt.receiver"),
		sink:   sink,
		connID: xid.New().String(),
		state:  StateListen,
		buffer: make(map[uint32][]byte),
	}
}

func (r *Receiver) Stats() *Stats { return &r.stats }

func (r *Receiver) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run drives the receiver state machine until teardown (FIN observed) or
// ctx is cancelled (a supplemented suspension point beyond §4.5/§5). Every
// receive error, including one from a closed connection, is handled like a
// read timeout: the loop continues, so Run does not return on I/O errors.
func (r *Receiver) Run(ctx context.Context) error {
	r.start = time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := r.conn.Recv(time.Second)
		if err != nil {
			if r.State() == StateRecvClosed {
				return nil
			}
			continue // read timeout: loop continues, per spec.md §7
		}

		pkt, err := Decode(data)
		if err != nil {
			continue // malformed unit: drop
		}
		if !Verify(pkt) {
			r.stats.incChecksum()
			continue
		}
		r.stats.incReceived()

		switch r.State() {
		case StateListen:
			r.handleListen(pkt)
		case StateRecvEstablished:
			if done := r.handleEstablished(pkt); done {
				return nil
			}
		case StateRecvClosed:
			return nil
		}
	}
}

func (r *Receiver) now() int64 { return time.Since(r.start).Nanoseconds() }

func (r *Receiver) handleListen(pkt *Packet) {
	if !pkt.HasFlag(FlagS) || pkt.Seq != 0 {
		return
	}
	r.mu.Lock()
	r.expected = 1
	r.state = StateRecvEstablished
	r.mu.Unlock()

	reply := &Packet{Seq: 0, Ack: 1, Flags: FlagS | FlagA, Timestamp: pkt.Timestamp}
	r.send(reply)
	r.log.Section("handshake accepted", netlog.Fields{"conn_id": r.connID})
}

func (r *Receiver) handleEstablished(pkt *Packet) (done bool) {
	if pkt.HasFlag(FlagF) {
		r.mu.Lock()
		r.state = StateRecvClosed
		r.mu.Unlock()

		if f, ok := r.sink.(interface{ Flush() error }); ok {
			_ = f.Flush()
		}

		reply := &Packet{Seq: 0, Ack: pkt.Seq + 1, Flags: FlagA | FlagF, Timestamp: pkt.Timestamp}
		r.send(reply)
		r.log.Section("transfer complete", netlog.Fields{
			"conn_id": r.connID,
			"bytes":   r.stats.Snapshot().BytesTransferred,
		})
		return true
	}

	if len(pkt.Payload) == 0 && pkt.HasFlag(FlagA) {
		return false // not a data segment, nothing to deliver or ack
	}

	r.mu.Lock()
	switch {
	case pkt.Seq == r.expected:
		r.deliverLocked(pkt.Payload)
		r.drainBufferLocked()
	case pkt.Seq > r.expected:
		if _, dup := r.buffer[pkt.Seq]; !dup {
			r.buffer[pkt.Seq] = pkt.Payload
		}
	default: // pkt.Seq < r.expected
		r.mu.Unlock()
		r.stats.incOutOfSeq()
		r.ackFor(pkt)
		return false
	}
	r.mu.Unlock()

	r.ackFor(pkt)
	return false
}

// deliverLocked writes payload to the sink and advances expected. Caller
// must hold r.mu.
func (r *Receiver) deliverLocked(payload []byte) {
	if len(payload) > 0 {
		_, _ = r.sink.Write(payload)
		r.stats.addBytes(len(payload))
	}
	r.expected += uint32(len(payload))
}

// drainBufferLocked delivers any buffered segments that have become
// contiguous with expected, repeatedly, per spec.md §4.5. Caller must hold
// r.mu.
func (r *Receiver) drainBufferLocked() {
	for {
		payload, ok := r.buffer[r.expected]
		if !ok {
			return
		}
		delete(r.buffer, r.expected)
		r.deliverLocked(payload)
	}
}

// ackFor emits a cumulative ACK echoing the triggering unit's timestamp, per
// spec.md §4.5 ("timestamp is the timestamp of this triggering unit, not
// now").
func (r *Receiver) ackFor(pkt *Packet) {
	r.mu.Lock()
	expected := r.expected
	r.mu.Unlock()
	ack := &Packet{Seq: 0, Ack: expected, Flags: FlagA, Timestamp: pkt.Timestamp}
	r.send(ack)
}

func (r *Receiver) send(p *Packet) {
	b := Encode(p)
	if err := r.conn.Send(b); err != nil {
		r.log.Warnf("send failed: %v", err)
		return
	}
	r.stats.incSent()
}

// bufferedKeys returns the buffer's keys in ascending order — exposed for
// tests asserting the out-of-order invariant (every key > expected).
func (r *Receiver) bufferedKeys() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]uint32, 0, len(r.buffer))
	for k := range r.buffer {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
