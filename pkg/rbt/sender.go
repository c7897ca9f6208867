package rbt

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/xid"

	"netcore/internal/netlog"
	"netcore/pkg/rbtio"
)

// SenderState is the state the sender side of a transfer is in.
type SenderState int

const (
	StateClosed SenderState = iota
	StateSynSent
	StateEstablished
	StateFinSent
	StateDone
	StateMaxRetransmitExceeded
)

func (s SenderState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateSynSent:
		return "SYN_SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinSent:
		return "FIN_SENT"
	case StateDone:
		return "DONE"
	case StateMaxRetransmitExceeded:
		return "MAX_RETX_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	MTU        int
	WindowSize int
}

// Sender is the RBT sender state machine (spec.md §4.4): handshake, paced
// transmission, ACK processing, fast retransmit, teardown.
type Sender struct {
	conn rbtio.Conn
	cfg  SenderConfig
	log  *netlog.Logger

	connID string
	rtt    *Estimator
	win    *Window
	stats  Stats

	mu       sync.Mutex
	state    SenderState
	nextSeq  uint32 // next byte offset to admit into the window
	fileLen  uint32
	start    time.Time
}

// NewSender builds a sender bound to conn. The file to transfer is passed
// later, to SendFile.
func NewSender(conn rbtio.Conn, cfg SenderConfig) *Sender {
	if cfg.MTU <= 0 {
		cfg.MTU = 512
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1
	}
	return &Sender{
		conn:   conn,
		cfg:    cfg,
		log:    netlog.For("rbt.sender"),
		connID: xid.New().String(),
		rtt:    NewEstimator(),
		win:    NewWindow(cfg.WindowSize),
		state:  StateClosed,
	}
}

// Stats returns a live pointer to the sender's statistics block, suitable
// for wiring into a StatsCollector while the transfer is still running.
func (s *Sender) Stats() *Stats { return &s.stats }

func (s *Sender) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sender) now() int64 { return time.Since(s.start).Nanoseconds() }

// Handshake performs the three-way handshake: transmit SYN, await SYN|ACK
// (up to 10s), feed the RTT estimator its base-case sample, and optionally
// send the final ACK. It returns once ESTABLISHED, on handshake timeout, or
// if ctx is cancelled first (a supplemented suspension point beyond §4.4/§5:
// the socket receive below respects ctx in addition to its poll timeout).
func (s *Sender) Handshake(ctx context.Context) error {
	s.start = time.Now()
	s.mu.Lock()
	s.state = StateSynSent
	s.mu.Unlock()

	syn := &Packet{Seq: 0, Flags: FlagS, Timestamp: s.now()}
	if err := s.send(syn); err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining > time.Second {
			remaining = time.Second
		}
		data, err := s.conn.Recv(remaining)
		if err != nil {
			continue // socket read timeouts are ignored, loop continues (§4.4/§7)
		}
		pkt, err := Decode(data)
		if err != nil {
			continue // malformed, drop
		}
		if !Verify(pkt) {
			s.stats.incChecksum()
			continue
		}
		if !pkt.HasFlag(FlagS) || !pkt.HasFlag(FlagA) {
			continue
		}

		sample := time.Duration(s.now() - pkt.Timestamp)
		s.rtt.Sample(sample, true) // handshake ACK is always the base case

		s.mu.Lock()
		s.state = StateEstablished
		s.mu.Unlock()

		ack := &Packet{Seq: 1, Ack: 1, Flags: FlagA, Timestamp: s.now()}
		_ = s.send(ack) // final ACK is best-effort, per spec.md §4.4
		s.log.Section("handshake complete", netlog.Fields{"conn_id": s.connID, "rtt": sample})
		return nil
	}

	return fmt.Errorf("%w", ErrHandshakeTimeout)
}

// SendFile segments r into MTU-sized data segments and drives them through
// the window until the whole file and the FIN have been acknowledged, the
// connection fails with MAX_RETX_EXCEEDED, or ctx is cancelled.
func (s *Sender) SendFile(ctx context.Context, r io.Reader) error {
	file, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.fileLen = uint32(len(file))
	s.nextSeq = 1
	s.mu.Unlock()

	base := uint32(1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.admitReady(file, &base)

		s.mu.Lock()
		st := s.state
		s.mu.Unlock()
		if st == StateMaxRetransmitExceeded {
			return fmt.Errorf("%w", ErrMaxRetransmitExceeded)
		}

		if base > s.fileLen && s.win.Len() == 0 {
			return s.teardown(ctx)
		}

		// Socket reads use a ~1s poll timeout so the loop can re-check the
		// window and admit newly freed slots between receives (spec.md §5).
		data, err := s.conn.Recv(time.Second)
		if err != nil {
			continue // read timeout: loop continues, per spec.md §7
		}

		pkt, err := Decode(data)
		if err != nil {
			continue // malformed unit: drop, do not count as checksum failure
		}
		if !Verify(pkt) {
			s.stats.incChecksum()
			continue
		}
		if !pkt.HasFlag(FlagA) {
			continue
		}
		s.stats.incReceived()
		s.handleAck(pkt, &base)
	}
}

func (s *Sender) admitReady(file []byte, base *uint32) {
	for s.win.HasSpace() && int(s.nextSeqSnapshot()) <= len(file) {
		seq := s.nextSeqSnapshot()
		end := seq + uint32(s.cfg.MTU)
		if end > uint32(len(file))+1 {
			end = uint32(len(file)) + 1
		}
		payload := file[seq-1 : end-1]
		if len(payload) == 0 {
			break
		}
		s.mu.Lock()
		s.nextSeq = end
		s.mu.Unlock()

		s.admitSegment(seq, payload)
	}
}

func (s *Sender) nextSeqSnapshot() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

func (s *Sender) admitSegment(seq uint32, payload []byte) {
	timeout := s.rtt.Timeout()
	ok := s.win.Admit(seq, payload, time.Now(), timeout, func(seq uint32) { s.onTimerFire(seq) })
	if !ok {
		return
	}
	s.transmit(seq, payload, 0)
}

func (s *Sender) transmit(seq uint32, payload []byte, retransmitN int) {
	pkt := &Packet{Seq: seq, Flags: FlagA, Timestamp: s.now(), Payload: payload}
	if err := s.send(pkt); err != nil {
		s.log.Warnf("send failed: %v", err)
		return
	}
	if retransmitN > 0 {
		s.stats.incRetransmit()
	} else {
		s.stats.addBytes(len(payload))
	}
}

func (s *Sender) onTimerFire(seq uint32) {
	o, ok := s.win.Get(seq)
	if !ok {
		return // already acknowledged; idempotent no-op per spec.md design notes
	}
	count, exceeded, stillOutstanding := s.win.Reschedule(seq, time.Now(), s.rtt.Timeout(), s.onTimerFire)
	if !stillOutstanding {
		return
	}
	if exceeded {
		s.mu.Lock()
		s.state = StateMaxRetransmitExceeded
		s.mu.Unlock()
		s.log.Errorf("seq %d exceeded %d retransmit attempts", seq, maxRetransmits)
		return
	}
	s.transmit(seq, o.Payload, count)
}

func (s *Sender) handleAck(pkt *Packet, base *uint32) {
	sample := time.Duration(s.now() - pkt.Timestamp)
	s.rtt.Sample(sample, pkt.Seq == 0)

	fire, lowest, hasOutstanding := s.win.OnDupAck(pkt.Ack)
	if fire && hasOutstanding {
		s.stats.incDuplicateAck()
		if o, ok := s.win.Get(lowest); ok {
			count, exceeded, stillOutstanding := s.win.Reschedule(lowest, time.Now(), s.rtt.Timeout(), s.onTimerFire)
			if stillOutstanding && !exceeded {
				s.transmit(lowest, o.Payload, count)
			}
		}
	}

	s.win.OnAck(pkt.Ack)
	if pkt.Ack > *base {
		*base = pkt.Ack
	}
}

func (s *Sender) teardown(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateFinSent
	fileLen := s.fileLen
	s.mu.Unlock()

	fin := &Packet{Seq: fileLen + 1, Flags: FlagF | FlagA, Timestamp: s.now()}
	if err := s.send(fin); err != nil {
		return err
	}

	// Optionally await the peer's final F|A; termination never blocks on it.
	_, _ = s.conn.Recv(500 * time.Millisecond)

	s.mu.Lock()
	s.state = StateDone
	s.mu.Unlock()
	s.win.Cancel()
	s.log.Section("transfer complete", netlog.Fields{"conn_id": s.connID, "bytes": s.stats.Snapshot().BytesTransferred})
	return nil
}

func (s *Sender) send(p *Packet) error {
	b := Encode(p)
	s.stats.incSent()
	return s.conn.Send(b)
}
