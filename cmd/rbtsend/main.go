// Command rbtsend drives the sender side of an RBT file transfer.
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
	fLocalPort  = flag.Int("local_port", 0, "local UDP port to bind (0 = any)")
	fRemoteAddr = flag.String("remote", "", "remote host:port to send to")
	fFile       = flag.String("file", "", "path of the file to transfer")
	fMTU        = flag.Int("mtu", 512, "maximum segment size in bytes")
	fWindow     = flag.Int("window", 8, "sliding window size, in segments")
)

func main() {
	flag.Parse()
	log := netlog.For("cmd.rbtsend")

	if *fRemoteAddr == "" || *fFile == "" {
		log.Error("usage: rbtsend -remote host:port -file path [-local_port n] [-mtu n] [-window n]")
		os.Exit(2)
	}

	f, err := os.Open(*fFile)
	if err != nil {
		log.Errorf("open %s: %v", *fFile, err)
		os.Exit(1)
	}
	defer f.Close()

	conn, err := rbtio.DialUDP(*fLocalPort, *fRemoteAddr)
	if err != nil {
		log.Errorf("dial %s: %v", *fRemoteAddr, err)
		os.Exit(1)
	}
	defer conn.Close()

	sender := rbt.NewSender(conn, rbt.SenderConfig{MTU: *fMTU, WindowSize: *fWindow})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("received signal, cancelling transfer")
		cancel()
	}()

	log.Section("connecting", netlog.Fields{"remote": *fRemoteAddr})
	if err := sender.Handshake(ctx); err != nil {
		log.Errorf("handshake: %v", err)
		os.Exit(1)
	}

	if err := sender.SendFile(ctx, f); err != nil {
		log.Errorf("transfer failed: %v", err)
		os.Exit(1)
	}

	snap := sender.Stats().Snapshot()
	log.Section("transfer summary", netlog.Fields{
		"bytes_transferred": snap.BytesTransferred,
		"packets_sent":      snap.PacketsSent,
		"packets_received":  snap.PacketsReceived,
		"retransmissions":   snap.Retransmissions,
		"duplicate_acks":    snap.DuplicateAcks,
	})
}
