package gossip

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/andydunstall/murmur/pkg/log"
	"github.com/andydunstall/murmur/pkg/ringkey"
)

const (
	// maxDatagramSize is the size of the packet read buffer. Packets are
	// accepted up to the maximum UDP payload size regardless of the local
	// max packet size, since other members may be configured differently.
	maxDatagramSize = 65535
)

// messageHandler handles messages received from other members.
type messageHandler interface {
	// handleMessage handles a one way message.
	handleMessage(msg message)

	// handleJoin handles a join request and returns the reply.
	handleJoin(msg *join) *rumors
}

// dropReason returns the metrics label for a message that couldn't be
// decoded.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ringkey.ErrDecrypt),
		errors.Is(err, ringkey.ErrInvalidNonce),
		errors.Is(err, ErrMissingKey):
		return "decrypt"
	case errors.Is(err, ErrEncryptionRequired):
		return "unencrypted"
	case errors.Is(err, ErrUnknownMessageType):
		return "unknown_type"
	case errors.Is(err, ErrUnsupportedVersion):
		return "unsupported_version"
	default:
		return "malformed"
	}
}

// streamListener listens for incoming stream connections and reads messages
// from those connections.
type streamListener struct {
	ln net.Listener

	handler messageHandler

	key      *ringkey.Key
	compress bool

	streamTimeout time.Duration

	metrics *Metrics

	logger log.Logger
}

func newStreamListener(
	ln net.Listener,
	handler messageHandler,
	key *ringkey.Key,
	compress bool,
	streamTimeout time.Duration,
	metrics *Metrics,
	logger log.Logger,
) *streamListener {
	return &streamListener{
		ln:            ln,
		handler:       handler,
		key:           key,
		compress:      compress,
		streamTimeout: streamTimeout,
		metrics:       metrics,
		logger:        logger,
	}
}

// Serve will accept connections until listener is closed.
func (l *streamListener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("failed to accept connection", zap.Error(err))
			continue
		}

		l.logger.Debug(
			"accepted conn",
			zap.String("addr", conn.RemoteAddr().String()),
		)

		l.metrics.ConnectionsInbound.Inc()

		go func() {
			if err := l.handleConn(conn); err != nil {
				l.logger.Warn(
					"failed to handle connection",
					zap.String("addr", conn.RemoteAddr().String()),
					zap.Error(err),
				)
			}
		}()
	}
}

func (l *streamListener) Close() error {
	return l.ln.Close()
}

func (l *streamListener) handleConn(conn net.Conn) error {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(l.streamTimeout))

	trackedReader := newTrackedReader(conn)
	defer func() {
		l.metrics.StreamBytesInbound.Add(float64(trackedReader.NumBytesRead()))
	}()

	trackedWriter := newTrackedWriter(conn)
	defer func() {
		l.metrics.StreamBytesOutbound.Add(float64(trackedWriter.NumBytesWritten()))
	}()

	b, err := readFrame(bufio.NewReader(trackedReader))
	if err != nil {
		return err
	}

	msg, err := decodeMessage(b, l.key)
	if err != nil {
		l.metrics.PacketsDropped.WithLabelValues(dropReason(err)).Inc()
		return fmt.Errorf("decode: %w", err)
	}

	joinMsg, ok := msg.(*join)
	if !ok {
		l.handler.handleMessage(msg)
		return nil
	}

	reply, err := encodeMessage(l.handler.handleJoin(joinMsg), l.key, l.compress)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	w := bufio.NewWriter(trackedWriter)
	if err := writeFrame(w, reply); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// packetListener listens for and handles incoming packets.
type packetListener struct {
	ln net.PacketConn

	handler messageHandler

	key *ringkey.Key

	readBuf []byte

	metrics *Metrics

	logger log.Logger
}

func newPacketListener(
	ln net.PacketConn,
	handler messageHandler,
	key *ringkey.Key,
	metrics *Metrics,
	logger log.Logger,
) *packetListener {
	return &packetListener{
		ln:      ln,
		handler: handler,
		key:     key,
		readBuf: make([]byte, maxDatagramSize),
		metrics: metrics,
		logger:  logger,
	}
}

func (l *packetListener) Serve() {
	for {
		n, addr, err := l.ln.ReadFrom(l.readBuf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("failed to read packet", zap.Error(err))
			continue
		}

		l.metrics.PacketBytesInbound.Add(float64(n))

		if err = l.handlePacket(l.readBuf[:n]); err != nil {
			l.logger.Debug(
				"dropped packet",
				zap.String("addr", addr.String()),
				zap.Error(err),
			)
		}
	}
}

func (l *packetListener) Close() error {
	return l.ln.Close()
}

func (l *packetListener) handlePacket(b []byte) error {
	msg, err := decodeMessage(b, l.key)
	if err != nil {
		l.metrics.PacketsDropped.WithLabelValues(dropReason(err)).Inc()
		return fmt.Errorf("decode: %w", err)
	}

	if _, ok := msg.(*join); ok {
		l.metrics.PacketsDropped.WithLabelValues("unexpected_type").Inc()
		return fmt.Errorf("unexpected message type: %s", msg.messageType())
	}

	l.handler.handleMessage(msg)
	return nil
}
