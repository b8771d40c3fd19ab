package gossip

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/andydunstall/murmur/pkg/ringkey"
)

const (
	streamTimeout = time.Second * 10
)

// transport sends messages to other members.
//
// SWIM messages are sent as datagrams from the packet listener's socket so
// replies are addressed to the same port. Gossip batches and joins may
// exceed the packet size so are sent over short lived streams.
type transport struct {
	packetConn net.PacketConn
	dialer     *net.Dialer

	key      *ringkey.Key
	compress bool

	maxPacketSize int

	metrics *Metrics
}

func newTransport(
	packetConn net.PacketConn,
	key *ringkey.Key,
	compress bool,
	maxPacketSize int,
	metrics *Metrics,
) *transport {
	return &transport{
		packetConn: packetConn,
		dialer: &net.Dialer{
			Timeout: streamTimeout,
		},
		key:           key,
		compress:      compress,
		maxPacketSize: maxPacketSize,
		metrics:       metrics,
	}
}

// SendPacket sends the message to the member at the given address as a
// single datagram.
//
// If the encoded message exceeds the maximum packet size, piggybacked
// membership is dropped until it fits.
func (t *transport) SendPacket(msg message, addr string) error {
	b, err := t.encodePacket(msg)
	if err != nil {
		return err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve udp: %s: %w", addr, err)
	}
	if _, err = t.packetConn.WriteTo(b, udpAddr); err != nil {
		return fmt.Errorf("write packet: %s: %w", addr, err)
	}

	t.metrics.PacketBytesOutbound.Add(float64(len(b)))

	return nil
}

func (t *transport) encodePacket(msg message) ([]byte, error) {
	for {
		b, err := encodeMessage(msg, t.key, t.compress)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		if len(b) <= t.maxPacketSize {
			return b, nil
		}
		if !truncatePiggyback(msg) {
			return nil, fmt.Errorf(
				"max packet size too small for message: %d < %d",
				t.maxPacketSize, len(b),
			)
		}
	}
}

// SendStream sends the message to the member at the given address over a
// new stream connection.
func (t *transport) SendStream(ctx context.Context, msg message, addr string) error {
	_, err := t.stream(ctx, msg, addr, false)
	return err
}

// RequestStream sends the message to the member at the given address over a
// new stream connection and waits for a reply.
func (t *transport) RequestStream(ctx context.Context, msg message, addr string) (message, error) {
	return t.stream(ctx, msg, addr, true)
}

func (t *transport) stream(
	ctx context.Context,
	msg message,
	addr string,
	waitForReply bool,
) (message, error) {
	b, err := encodeMessage(msg, t.key, t.compress)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(streamTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	t.metrics.ConnectionsOutbound.Inc()

	trackedReader := newTrackedReader(conn)
	defer func() {
		t.metrics.StreamBytesInbound.Add(float64(trackedReader.NumBytesRead()))
	}()

	trackedWriter := newTrackedWriter(conn)
	defer func() {
		t.metrics.StreamBytesOutbound.Add(float64(trackedWriter.NumBytesWritten()))
	}()

	w := bufio.NewWriter(trackedWriter)
	if err := writeFrame(w, b); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	if !waitForReply {
		return nil, nil
	}

	reply, err := readFrame(bufio.NewReader(trackedReader))
	if err != nil {
		return nil, err
	}
	replyMsg, err := decodeMessage(reply, t.key)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return replyMsg, nil
}

// truncatePiggyback halves the piggybacked membership of the message.
// Returns false if there is nothing left to drop.
func truncatePiggyback(msg message) bool {
	halve := func(records []memberRecord) ([]memberRecord, bool) {
		if len(records) == 0 {
			return records, false
		}
		return records[:len(records)/2], true
	}

	var ok bool
	switch msg := msg.(type) {
	case *ping:
		msg.Membership, ok = halve(msg.Membership)
	case *ack:
		msg.Membership, ok = halve(msg.Membership)
	case *pingReq:
		msg.Membership, ok = halve(msg.Membership)
	}
	return ok
}
