package gossip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bkaradzic/go-lz4"
	"github.com/ugorji/go/codec"

	"github.com/andydunstall/murmur/pkg/ringkey"
)

var (
	// ErrMalformed is returned when a message cannot be decoded.
	ErrMalformed = errors.New("malformed message")

	// ErrUnsupportedVersion is returned when a message has an unknown
	// envelope or schema version.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrUnknownMessageType is returned when a message has an unknown type.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrEncryptionRequired is returned when an unencrypted message is
	// received by a member configured with a ring key.
	ErrEncryptionRequired = errors.New("encryption required")

	// ErrMissingKey is returned when an encrypted message is received by a
	// member without a ring key.
	ErrMissingKey = errors.New("missing ring key")
)

type messageType uint8

const (
	messageTypePing messageType = iota + 1
	messageTypeAck
	messageTypePingReq
	messageTypeRumors
	messageTypeJoin
)

func (t messageType) String() string {
	switch t {
	case messageTypePing:
		return "ping"
	case messageTypeAck:
		return "ack"
	case messageTypePingReq:
		return "ping_req"
	case messageTypeRumors:
		return "rumors"
	case messageTypeJoin:
		return "join"
	default:
		return "unknown"
	}
}

const (
	// wireVersion is the version of the outer envelope.
	wireVersion uint8 = 1

	// supportedVersion is the schema version of the inner message.
	supportedVersion uint8 = 0

	// maxFrameSize is the maximum size of a stream frame.
	maxFrameSize = 32 << 20
)

// message is a message sent between members.
type message interface {
	messageType() messageType
}

// memberRecord is the wire representation of a membership.
type memberRecord struct {
	ID          string `codec:"id"`
	Addr        string `codec:"addr"`
	Incarnation uint64 `codec:"incarnation"`
	Health      uint8  `codec:"health"`
}

func newMemberRecord(m Membership) memberRecord {
	return memberRecord{
		ID:          m.Member.ID,
		Addr:        m.Addr,
		Incarnation: m.Incarnation,
		Health:      uint8(m.Health),
	}
}

func newMemberRecords(memberships []Membership) []memberRecord {
	records := make([]memberRecord, 0, len(memberships))
	for _, m := range memberships {
		records = append(records, newMemberRecord(m))
	}
	return records
}

func (r memberRecord) Member() Member {
	return Member{
		ID:          r.ID,
		Addr:        r.Addr,
		Incarnation: r.Incarnation,
	}
}

// ping is a direct probe of a member.
type ping struct {
	Seq  uint64       `codec:"seq"`
	From memberRecord `codec:"from"`

	// ForwardTo is set when the ping is sent on behalf of another member,
	// where the ack must be forwarded to that member.
	ForwardTo *memberRecord `codec:"forward_to"`

	// Membership contains piggybacked membership rumors.
	Membership []memberRecord `codec:"membership"`
}

func (m *ping) messageType() messageType {
	return messageTypePing
}

// ack acknowledges a ping.
type ack struct {
	Seq        uint64         `codec:"seq"`
	From       memberRecord   `codec:"from"`
	ForwardTo  *memberRecord  `codec:"forward_to"`
	Membership []memberRecord `codec:"membership"`
}

func (m *ack) messageType() messageType {
	return messageTypeAck
}

// pingReq asks a member to probe the target on behalf of the sender.
type pingReq struct {
	Seq        uint64         `codec:"seq"`
	From       memberRecord   `codec:"from"`
	Target     memberRecord   `codec:"target"`
	Membership []memberRecord `codec:"membership"`
}

func (m *pingReq) messageType() messageType {
	return messageTypePingReq
}

// rumors is a batch of rumors.
type rumors struct {
	From           memberRecord    `codec:"from"`
	Membership     []memberRecord  `codec:"membership"`
	Services       []Service       `codec:"services"`
	ServiceConfigs []ServiceConfig `codec:"service_configs"`
	ServiceFiles   []ServiceFile   `codec:"service_files"`
	Elections      []Election      `codec:"elections"`
	Departures     []Departure     `codec:"departures"`
}

func (m *rumors) messageType() messageType {
	return messageTypeRumors
}

// join is sent by a member joining the cluster. The receiver replies with
// its full rumor state.
type join struct {
	From memberRecord `codec:"from"`
}

func (m *join) messageType() messageType {
	return messageTypeJoin
}

// wire is the outer envelope of every message.
type wire struct {
	Encrypted  bool   `codec:"encrypted"`
	Compressed bool   `codec:"compressed"`
	Nonce      []byte `codec:"nonce"`
	Payload    []byte `codec:"payload"`
}

// trackedWriter is a wrapper for the underlying writer that counts the number
// of bytes written.
type trackedWriter struct {
	w io.Writer
	n int
}

func newTrackedWriter(w io.Writer) *trackedWriter {
	return &trackedWriter{
		w: w,
		n: 0,
	}
}

func (w *trackedWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	w.n += n
	return n, err
}

func (w *trackedWriter) NumBytesWritten() int {
	return w.n
}

var _ io.Writer = &trackedWriter{}

// trackedReader is a wrapper for the underlying reader that counts the number
// of bytes read.
type trackedReader struct {
	r io.Reader
	n int
}

func newTrackedReader(r io.Reader) *trackedReader {
	return &trackedReader{
		r: r,
	}
}

func (r *trackedReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	r.n += n
	return n, err
}

func (r *trackedReader) NumBytesRead() int {
	return r.n
}

var _ io.Reader = &trackedReader{}

type encoder struct {
	encoder *codec.Encoder
}

func newEncoder(writer io.Writer) *encoder {
	var handle codec.MsgpackHandle
	return &encoder{
		encoder: codec.NewEncoder(writer, &handle),
	}
}

func (e *encoder) Encode(v interface{}) error {
	return e.encoder.Encode(v)
}

type decoder struct {
	decoder *codec.Decoder
}

func newDecoder(reader io.Reader) *decoder {
	var handle codec.MsgpackHandle
	return &decoder{
		decoder: codec.NewDecoder(reader, &handle),
	}
}

func (d *decoder) Decode(v interface{}) error {
	return d.decoder.Decode(v)
}

// encodeMessage encodes the message into an envelope. The message is
// compressed if compress is set, and encrypted if key is not nil.
func encodeMessage(msg message, key *ringkey.Key, compress bool) ([]byte, error) {
	// Add fixed header.
	var buf bytes.Buffer
	_ = buf.WriteByte(uint8(msg.messageType()))
	_ = buf.WriteByte(supportedVersion)

	if err := newEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	w := wire{
		Payload: buf.Bytes(),
	}
	if compress {
		compressed, err := lz4.Encode(nil, w.Payload)
		if err != nil {
			return nil, fmt.Errorf("compress: %w", err)
		}
		w.Payload = compressed
		w.Compressed = true
	}
	if key != nil {
		nonce, ciphertext, err := key.Seal(w.Payload)
		if err != nil {
			return nil, fmt.Errorf("seal: %w", err)
		}
		w.Nonce = nonce
		w.Payload = ciphertext
		w.Encrypted = true
	}

	var out bytes.Buffer
	_ = out.WriteByte(wireVersion)
	if err := newEncoder(&out).Encode(&w); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return out.Bytes(), nil
}

// decodeMessage decodes a message from an envelope.
//
// If key is not nil the envelope must be encrypted with that key, otherwise
// the envelope must be unencrypted.
func decodeMessage(b []byte, key *ringkey.Key) (message, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if b[0] != wireVersion {
		return nil, fmt.Errorf("%w: envelope: %d", ErrUnsupportedVersion, b[0])
	}

	var w wire
	if err := newDecoder(bytes.NewReader(b[1:])).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: envelope: %s", ErrMalformed, err)
	}

	payload := w.Payload
	if w.Encrypted {
		if key == nil {
			return nil, ErrMissingKey
		}
		plaintext, err := key.Open(w.Nonce, w.Payload)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		payload = plaintext
	} else if key != nil {
		return nil, ErrEncryptionRequired
	}

	if w.Compressed {
		// The lz4 header holds the little endian decompressed size, which
		// must be checked before decoding allocates it.
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: compressed payload too small: %d", ErrMalformed, len(payload))
		}
		if size := binary.LittleEndian.Uint32(payload); size > maxFrameSize {
			return nil, fmt.Errorf("%w: decompressed size too large: %d", ErrMalformed, size)
		}
		decompressed, err := lz4.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %s", ErrMalformed, err)
		}
		payload = decompressed
	}

	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: message too small: %d", ErrMalformed, len(payload))
	}
	version := payload[1]
	if version != supportedVersion {
		return nil, fmt.Errorf("%w: message: %d", ErrUnsupportedVersion, version)
	}

	var msg message
	switch messageType(payload[0]) {
	case messageTypePing:
		msg = &ping{}
	case messageTypeAck:
		msg = &ack{}
	case messageTypePingReq:
		msg = &pingReq{}
	case messageTypeRumors:
		msg = &rumors{}
	case messageTypeJoin:
		msg = &join{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, payload[0])
	}

	if err := newDecoder(bytes.NewReader(payload[2:])).Decode(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformed, msg.messageType(), err)
	}
	return msg, nil
}

// writeFrame writes the envelope to a stream prefixed with its length.
func writeFrame(w io.Writer, b []byte) error {
	if len(b) > maxFrameSize {
		return fmt.Errorf("frame too large: %d", len(b))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(b)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readFrame reads a length prefixed envelope from a stream.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: frame too large: %d", ErrMalformed, size)
	}

	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return b, nil
}
