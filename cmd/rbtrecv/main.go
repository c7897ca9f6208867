// Command rbtrecv drives the receiver side of an RBT file transfer.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"netcore/internal/netlog"
	"netcore/pkg/rbt"
	"netcore/pkg/rbtio"
)

var (
	fLocalPort = flag.Int("local_port", 9000, "local UDP port to listen on")
	fOut       = flag.String("out", "", "path to write the received file to")
	fMTU       = flag.Int("mtu", 512, "maximum segment size in bytes")
	fWindow    = flag.Int("window", 8, "sliding window size, in segments")
)

func main() {
	flag.Parse()
	log := netlog.For("cmd.rbtrecv")

	if *fOut == "" {
		log.Error("usage: rbtrecv -out path [-local_port n] [-mtu n] [-window n]")
		os.Exit(2)
	}

	out, err := os.Create(*fOut)
	if err != nil {
		log.Errorf("create %s: %v", *fOut, err)
		os.Exit(1)
	}
	defer out.Close()

	conn, err := rbtio.ListenUDP(*fLocalPort)
	if err != nil {
		log.Errorf("listen on port %d: %v", *fLocalPort, err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("received signal, cancelling transfer")
		cancel()
	}()

	log.Section("listening", netlog.Fields{"local_port": *fLocalPort})
	receiver := rbt.NewReceiver(conn, out, rbt.ReceiverConfig{MTU: *fMTU, WindowSize: *fWindow})
	if err := receiver.Run(ctx); err != nil {
		log.Errorf("transfer failed: %v", err)
		os.Exit(1)
	}

	snap := receiver.Stats().Snapshot()
	log.Section("transfer summary", netlog.Fields{
		"bytes_transferred":  snap.BytesTransferred,
		"packets_sent":       snap.PacketsSent,
		"packets_received":   snap.PacketsReceived,
		"out_of_seq_discards": snap.OutOfSeqDiscards,
		"checksum_discards":   snap.ChecksumDiscards,
	})
}
