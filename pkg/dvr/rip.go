package dvr

import (
	"context"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"netcore/internal/netlog"
)

const (
	// RIPPort is the well-known RIP UDP port (spec.md §6).
	RIPPort = 520

	responseInterval = 10 * time.Second
	sweepInterval     = 1 * time.Second
	routeTimeout      = 30 * time.Second
)

// MulticastGroup is the RIP multicast destination (spec.md §6).
var MulticastGroup = [4]byte{224, 0, 0, 9}

// BroadcastMAC is the L2 broadcast address used for unsolicited and request
// datagrams (spec.md §6).
var BroadcastMAC = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Iface describes one of the router's own interfaces, injected by the
// caller (spec.md §3: "the core never creates interfaces").
type Iface struct {
	Name string
	IP   uint32
	Mask uint32
}

// Transport is the abstract send/receive capability the RIP engine needs:
// multicast to every interface, unicast reply to a specific peer, and a
// single inbound stream of (payload, sourceIP, ingress interface) tuples.
// Concrete UDP/multicast-socket wiring is out of scope for this module
// (spec.md §1) — callers supply it.
type Transport interface {
	SendMulticast(iface string, payload []byte) error
	SendUnicast(iface string, destIP uint32, payload []byte) error
	Recv(ctx context.Context) (payload []byte, srcIP uint32, ingress string, err error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Interfaces []Iface
}

// Engine is the RIP control plane (spec.md §4.7): seeds direct routes,
// exchanges periodic and triggered advertisements with neighbors, ages
// learned routes, and supplies longest-prefix-match lookups via Table to
// the Forwarder.
type Engine struct {
	id        string
	table     *Table
	transport Transport
	ifaces    []Iface
	log       *netlog.Logger
}

// NewEngine seeds direct routes for every configured interface and returns
// an Engine ready to Run. Direct routes are seeded synchronously so Table
// is immediately usable by a Forwarder even before Run is called.
func NewEngine(table *Table, transport Transport, cfg EngineConfig) *Engine {
	e := &Engine{
		id:        xid.New().String(),
		table:     table,
		transport: transport,
		ifaces:    cfg.Interfaces,
		log:       netlog.For("dvr.rip"),
	}
	now := time.Now()
	for _, iface := range cfg.Interfaces {
		table.Insert(iface.IP&iface.Mask, iface.Mask, 0, iface.Name, 0, true, now)
	}
	return e
}

// Run starts the advertiser, expiry sweeper, and receive loop, and blocks
// until ctx is cancelled or one of them returns a fatal error — generalizing
// the teacher's go s.updateLoop()/go s.sessionCleanupLoop() pair into a
// structured, cancellable equivalent (SPEC_FULL.md §3).
func (e *Engine) Run(ctx context.Context) error {
	if err := e.sendRequests(); err != nil {
		e.log.Warnf("startup request send failed: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.advertiseLoop(ctx) })
	g.Go(func() error { return e.sweepLoop(ctx) })
	g.Go(func() error { return e.receiveLoop(ctx) })
	return g.Wait()
}

func (e *Engine) sendRequests() error {
	msg := EncodeMessage(Message{Command: CommandRequest})
	for _, iface := range e.ifaces {
		if err := e.transport.SendMulticast(iface.Name, msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) advertiseLoop(ctx context.Context) error {
	ticker := time.NewTicker(responseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.broadcastFullTable()
		}
	}
}

func (e *Engine) broadcastFullTable() {
	entries := e.exportWire()
	msg := EncodeMessage(Message{Command: CommandResponse, Entries: entries})
	for _, iface := range e.ifaces {
		if err := e.transport.SendMulticast(iface.Name, msg); err != nil {
			e.log.Warnf("periodic advertisement on %s failed: %v", iface.Name, err)
		}
	}
}

func (e *Engine) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed := e.table.Expire(time.Now(), routeTimeout)
			for _, r := range removed {
				e.log.WithFields(netlog.Fields{
					"engine_id": e.id,
					"prefix":    r.Destination,
					"mask":      r.Mask,
				}).Info("route expired")
			}
		}
	}
}

func (e *Engine) receiveLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		payload, srcIP, ingress, err := e.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue // drop and continue, per spec.md §7
		}
		if e.isLocal(srcIP) {
			continue // suppress self-reception (spec.md §4.7 ingress filter)
		}
		msg, err := DecodeMessage(payload)
		if err != nil {
			continue // malformed unit: drop
		}
		switch msg.Command {
		case CommandRequest:
			e.handleRequest(ingress, srcIP)
		case CommandResponse:
			e.handleResponse(ingress, srcIP, msg.Entries)
		}
	}
}

func (e *Engine) isLocal(ip uint32) bool {
	for _, iface := range e.ifaces {
		if iface.IP == ip {
			return true
		}
	}
	return false
}

func (e *Engine) handleRequest(ingress string, requester uint32) {
	entries := e.exportWire()
	msg := EncodeMessage(Message{Command: CommandResponse, Entries: entries})
	if err := e.transport.SendUnicast(ingress, requester, msg); err != nil {
		e.log.Warnf("request reply on %s failed: %v", ingress, err)
	}
}

// handleResponse applies +1 hop to each advertised entry and installs it per
// the tie-break rule in spec.md §4.7: an existing entry is replaced only
// when the incoming metric is strictly lower; an equal-metric advertisement
// only refreshes the timestamp. An advertisement that clamps to Infinity
// marks the matching route unreachable regardless of its current metric —
// the expiry sweeper retires it.
func (e *Engine) handleResponse(ingress string, sender uint32, entries []WireEntry) {
	now := time.Now()
	changedAny := false
	for _, adv := range entries {
		metric := adv.Metric + 1
		if metric > Infinity {
			metric = Infinity
		}
		if metric >= Infinity {
			e.table.MarkUnreachable(adv.Prefix, adv.Mask, now)
			continue
		}

		existing, ok := e.table.Get(adv.Prefix, adv.Mask)
		if !ok || metric < existing.Metric {
			if e.table.Insert(adv.Prefix, adv.Mask, sender, ingress, metric, false, now) {
				changedAny = true
			}
			continue
		}
		if metric == existing.Metric {
			e.table.Touch(adv.Prefix, adv.Mask, now)
		}
		// metric > existing.Metric: a worse route than the one installed;
		// ignored per the tie-break rule.
	}
	if changedAny {
		e.triggerUpdate(ingress)
	}
}

// triggerUpdate emits an immediate RESPONSE on ingress to accelerate
// convergence (spec.md §4.7, "Triggered update").
func (e *Engine) triggerUpdate(ingress string) {
	entries := e.exportWire()
	msg := EncodeMessage(Message{Command: CommandResponse, Entries: entries})
	if err := e.transport.SendMulticast(ingress, msg); err != nil {
		e.log.Warnf("triggered update on %s failed: %v", ingress, err)
		return
	}
	e.log.WithFields(netlog.Fields{"engine_id": e.id, "iface": ingress}).Info("triggered update sent")
}

func (e *Engine) exportWire() []WireEntry {
	advs := e.table.ExportRIP()
	out := make([]WireEntry, 0, len(advs))
	for _, a := range advs {
		entry, ok := e.table.Get(a.Prefix, a.Mask)
		gateway := uint32(0)
		if ok {
			gateway = entry.Gateway
		}
		out = append(out, WireEntry{Prefix: a.Prefix, Mask: a.Mask, NextHop: gateway, Metric: a.Metric})
	}
	return out
}

// Table returns the engine's route table, for wiring into a Forwarder.
func (e *Engine) Table() *Table { return e.table }
