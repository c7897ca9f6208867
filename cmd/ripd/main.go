// Command ripd runs the RIPv2-style distance-vector routing daemon: it
// seeds direct routes from its configured interfaces, exchanges
// advertisements with neighbors over UDP multicast, and serves route-table
// metrics over HTTP for Prometheus to scrape.
//
// The multicast socket wiring here is CLI glue, not protocol logic (spec.md
// §1 places "the datagram/socket facility itself" out of scope for the
// core) — it exists only to give dvr.Transport a concrete body to run
// against.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netcore/internal/netlog"
	"netcore/pkg/dvr"
)

var (
	fInterfaces = flag.String("interfaces", "", "comma-separated iface=cidr pairs, e.g. eth0=10.0.0.1/24,eth1=10.0.1.1/24")
	fMetricsAddr = flag.String("metrics_addr", ":9108", "address to serve Prometheus metrics on")
)

func main() {
	flag.Parse()
	log := netlog.For("cmd.ripd")

	ifaces, err := parseInterfaces(*fInterfaces)
	if err != nil {
		log.Errorf("parsing -interfaces: %v", err)
		os.Exit(2)
	}
	if len(ifaces) == 0 {
		log.Error("usage: ripd -interfaces eth0=10.0.0.1/24[,eth1=10.0.1.1/24,...]")
		os.Exit(2)
	}

	transport, err := newMulticastTransport(ifaces)
	if err != nil {
		log.Errorf("opening multicast sockets: %v", err)
		os.Exit(1)
	}
	defer transport.Close()

	table := dvr.NewTable()
	engine := dvr.NewEngine(table, transport, dvr.EngineConfig{Interfaces: ifaces})

	collector := dvr.NewMetricsCollector(table, nil)
	prometheus.MustRegister(collector)
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Infof("serving metrics on %s", *fMetricsAddr)
		if err := http.ListenAndServe(*fMetricsAddr, nil); err != nil {
			log.Warnf("metrics server stopped: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(ctx) }()

	log.Section("rip daemon started", netlog.Fields{"interfaces": len(ifaces)})
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Errorf("engine stopped: %v", err)
		}
	case sig := <-sigCh:
		log.Warnf("received signal %v, shutting down", sig)
		cancel()
		<-errCh
	}
}

func parseInterfaces(spec string) ([]dvr.Iface, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var out []dvr.Iface
	for _, pair := range strings.Split(spec, ",") {
		name, cidr, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, net.InvalidAddrError("expected iface=cidr, got " + pair)
		}
		ipAddr, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		ipU32, maskU32 := dvr.ParseIPv4Mask(ipAddr, ipNet.Mask)
		out = append(out, dvr.Iface{Name: name, IP: ipU32, Mask: maskU32})
	}
	return out, nil
}
