package dvr

import (
	"encoding/binary"
	"fmt"
)

// RIPv2-style message kinds (spec.md §4.7, §6).
const (
	CommandRequest  byte = 1
	CommandResponse byte = 2
)

// entrySize is the wire size of one advertised route: prefix(4) + mask(4) +
// next-hop(4) + metric(4).
const entrySize = 4 + 4 + 4 + 4

// Message is a decoded RIP datagram.
type Message struct {
	Command byte
	Entries []WireEntry
}

// WireEntry is one advertised route on the wire: address, mask, next-hop,
// metric (spec.md §6).
type WireEntry struct {
	Prefix  uint32
	Mask    uint32
	NextHop uint32
	Metric  int
}

// EncodeMessage serializes a RIP message.
func EncodeMessage(m Message) []byte {
	buf := make([]byte, 1+len(m.Entries)*entrySize)
	buf[0] = m.Command
	off := 1
	for _, e := range m.Entries {
		binary.BigEndian.PutUint32(buf[off:], e.Prefix)
		binary.BigEndian.PutUint32(buf[off+4:], e.Mask)
		binary.BigEndian.PutUint32(buf[off+8:], e.NextHop)
		binary.BigEndian.PutUint32(buf[off+12:], uint32(e.Metric))
		off += entrySize
	}
	return buf
}

// DecodeMessage parses a RIP message.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, fmt.Errorf("dvr: empty RIP message")
	}
	rest := data[1:]
	if len(rest)%entrySize != 0 {
		return Message{}, fmt.Errorf("dvr: malformed RIP message body (%d bytes)", len(rest))
	}
	n := len(rest) / entrySize
	entries := make([]WireEntry, 0, n)
	for i := 0; i < n; i++ {
		off := i * entrySize
		entries = append(entries, WireEntry{
			Prefix:  binary.BigEndian.Uint32(rest[off:]),
			Mask:    binary.BigEndian.Uint32(rest[off+4:]),
			NextHop: binary.BigEndian.Uint32(rest[off+8:]),
			Metric:  int(binary.BigEndian.Uint32(rest[off+12:])),
		})
	}
	return Message{Command: data[0], Entries: entries}, nil
}
