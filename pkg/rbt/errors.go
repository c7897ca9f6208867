package rbt

import "errors"

var (
	// ErrHandshakeTimeout is returned when no valid SYN|ACK arrives within
	// the 10s handshake window (spec.md §5).
	ErrHandshakeTimeout = errors.New("rbt: handshake timed out")

	// ErrMaxRetransmitExceeded is returned when a segment reaches its 17th
	// retransmission attempt, failing the transfer (spec.md §4.4).
	ErrMaxRetransmitExceeded = errors.New("rbt: retransmission limit exceeded")
)
