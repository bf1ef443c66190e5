package workflow

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dshills/handshake-go/workflow/transport"
)

// LayerStack is the protocol-layer pipeline of one Context. It turns
// messages into wire units and back; the engine treats it as opaque.
type LayerStack interface {
	// Init prepares the stack once the transport is open.
	Init(ctx context.Context) error

	// Send prepares and writes msgs. It returns the prepared wire units even
	// when writing failed, so a flight can be retransmitted later.
	Send(ctx context.Context, msgs []Message) ([][]byte, error)

	// Receive reads and decodes at least one message, or returns an error
	// (transport.ErrTimeout when nothing arrived).
	Receive(ctx context.Context) ([]Message, error)

	// Retransmit writes previously prepared wire units again.
	Retransmit(ctx context.Context, prepared [][]byte) error

	// CloseNotify sends the protocol close signal in the given epoch.
	CloseNotify(ctx context.Context, epoch int) error

	// Reset drops buffered data and sequence state.
	Reset()
}

// EpochSetter is implemented by stacks that stamp a write epoch on records.
type EpochSetter interface {
	SetEpoch(epoch int)
}

// Flusher is implemented by stacks that may hold back data.
type Flusher interface {
	Flush(ctx context.Context) error
}

// LayerFactory builds the layer stack of one Context.
type LayerFactory func(c *Context, cfg Config) (LayerStack, error)

// DefaultLayerFactory uses a PacketStack for the packet executor and a
// RecordStack otherwise.
func DefaultLayerFactory(c *Context, cfg Config) (LayerStack, error) {
	if c.Transport == nil {
		return nil, fmt.Errorf("%w: no transport for %q", ErrTransport, c.Connection.Alias)
	}
	if cfg.ExecutorType == ExecutorPacket {
		return NewPacketStack(c.Transport), nil
	}
	return NewRecordStack(c.Transport, cfg.Datagram()), nil
}

// Record content types.
const (
	contentChangeCipherSpec byte = 20
	contentAlert            byte = 21
	contentHandshake        byte = 22
	contentApplicationData  byte = 23
	contentPacket           byte = 0x40
)

const (
	maxFragment     = 1 << 14
	streamHeaderLen = 5
	dgramHeaderLen  = 13
)

func contentType(kind string) (byte, bool) {
	switch kind {
	case KindChangeCipherSpec:
		return contentChangeCipherSpec, true
	case KindAlert:
		return contentAlert, true
	case KindHandshake:
		return contentHandshake, true
	case KindApplicationData:
		return contentApplicationData, true
	case KindPacket:
		return contentPacket, true
	}
	return 0, false
}

func kindOf(ct byte) string {
	switch ct {
	case contentChangeCipherSpec:
		return KindChangeCipherSpec
	case contentAlert:
		return KindAlert
	case contentHandshake:
		return KindHandshake
	case contentApplicationData:
		return KindApplicationData
	case contentPacket:
		return KindPacket
	}
	return fmt.Sprintf("UNKNOWN(%d)", ct)
}

func decodeMessage(ct byte, body []byte) Message {
	m := Message{Kind: kindOf(ct), Payload: append([]byte(nil), body...)}
	if ct == contentAlert && len(body) == 2 {
		m.Alert = &Alert{Level: AlertLevel(body[0]), Description: body[1]}
	}
	return m
}

func messageBody(m Message) []byte {
	if len(m.Payload) == 0 && m.Alert != nil {
		return []byte{byte(m.Alert.Level), m.Alert.Description}
	}
	return m.Payload
}

// RecordStack frames messages into TLS (stream) or DTLS (datagram) records.
// Record bodies are written as given; encryption is the caller's concern.
type RecordStack struct {
	h        transport.Handler
	datagram bool
	epoch    int
	seq      map[int]uint64
	pending  []byte
}

// NewRecordStack returns a record stack over h.
func NewRecordStack(h transport.Handler, datagram bool) *RecordStack {
	return &RecordStack{h: h, datagram: datagram, seq: make(map[int]uint64)}
}

func (r *RecordStack) Init(ctx context.Context) error {
	if r.h == nil || !r.h.Initialized() {
		return transport.ErrNotInitialized
	}
	r.pending = nil
	return nil
}

func (r *RecordStack) SetEpoch(epoch int) { r.epoch = epoch }

func (r *RecordStack) Send(ctx context.Context, msgs []Message) ([][]byte, error) {
	prepared, err := r.prepare(msgs, r.epoch)
	if err != nil {
		return nil, err
	}
	for _, rec := range prepared {
		if err := r.h.Send(ctx, rec); err != nil {
			return prepared, err
		}
	}
	return prepared, nil
}

func (r *RecordStack) prepare(msgs []Message, epoch int) ([][]byte, error) {
	var out [][]byte
	for _, m := range msgs {
		ct, ok := contentType(m.Kind)
		if !ok || ct == contentPacket {
			return nil, fmt.Errorf("%w: cannot frame message kind %q", ErrPreparation, m.Kind)
		}
		body := messageBody(m)
		for {
			n := len(body)
			if n > maxFragment {
				n = maxFragment
			}
			out = append(out, r.frame(ct, epoch, body[:n]))
			body = body[n:]
			if len(body) == 0 {
				break
			}
		}
	}
	return out, nil
}

func (r *RecordStack) frame(ct byte, epoch int, body []byte) []byte {
	if !r.datagram {
		rec := make([]byte, streamHeaderLen+len(body))
		rec[0] = ct
		rec[1], rec[2] = 0x03, 0x03
		binary.BigEndian.PutUint16(rec[3:5], uint16(len(body)))
		copy(rec[streamHeaderLen:], body)
		return rec
	}
	rec := make([]byte, dgramHeaderLen+len(body))
	rec[0] = ct
	rec[1], rec[2] = 0xfe, 0xfd
	binary.BigEndian.PutUint16(rec[3:5], uint16(epoch))
	r.stamp(rec, epoch)
	binary.BigEndian.PutUint16(rec[11:13], uint16(len(body)))
	copy(rec[dgramHeaderLen:], body)
	return rec
}

// stamp writes the next 48-bit sequence number of epoch into a DTLS header.
func (r *RecordStack) stamp(rec []byte, epoch int) {
	seq := r.seq[epoch]
	r.seq[epoch] = seq + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	copy(rec[5:11], buf[2:])
}

// Retransmit writes the prepared records again. DTLS records get fresh
// sequence numbers; their bodies are not rebuilt.
func (r *RecordStack) Retransmit(ctx context.Context, prepared [][]byte) error {
	for _, rec := range prepared {
		if r.datagram && len(rec) >= dgramHeaderLen {
			rec = append([]byte(nil), rec...)
			r.stamp(rec, int(binary.BigEndian.Uint16(rec[3:5])))
		}
		if err := r.h.Send(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *RecordStack) Receive(ctx context.Context) ([]Message, error) {
	for {
		msgs := r.parse()
		if len(msgs) > 0 {
			return msgs, nil
		}
		data, err := r.h.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, nil
		}
		if r.datagram {
			// Records never span datagrams; drop any truncated tail.
			r.pending = data
			msgs = r.parse()
			r.pending = nil
			return msgs, nil
		}
		r.pending = append(r.pending, data...)
	}
}

// parse consumes every complete record from the pending buffer.
func (r *RecordStack) parse() []Message {
	hl := streamHeaderLen
	if r.datagram {
		hl = dgramHeaderLen
	}
	var msgs []Message
	for len(r.pending) >= hl {
		n := int(binary.BigEndian.Uint16(r.pending[hl-2 : hl]))
		if len(r.pending) < hl+n {
			break
		}
		msgs = append(msgs, decodeMessage(r.pending[0], r.pending[hl:hl+n]))
		r.pending = r.pending[hl+n:]
	}
	return msgs
}

func (r *RecordStack) CloseNotify(ctx context.Context, epoch int) error {
	recs, err := r.prepare([]Message{NewAlertMessage(AlertWarning, AlertCloseNotify)}, epoch)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := r.h.Send(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *RecordStack) Reset() {
	r.pending = nil
	r.epoch = 0
	r.seq = make(map[int]uint64)
}

// PacketStack carries each message as one packet. Packets written by
// consecutive sends are coalesced into one datagram when Coalesce is set;
// a send whose packets were absorbed into an earlier datagram reports
// ErrSkipAction.
type PacketStack struct {
	h transport.Handler

	Coalesce        bool
	MaxDatagramSize int

	pending []byte
	queued  int
}

// NewPacketStack returns a packet stack over h.
func NewPacketStack(h transport.Handler) *PacketStack {
	return &PacketStack{h: h, MaxDatagramSize: 1200}
}

const packetHeaderLen = 3

func (p *PacketStack) Init(ctx context.Context) error {
	if p.h == nil || !p.h.Initialized() {
		return transport.ErrNotInitialized
	}
	p.pending, p.queued = nil, 0
	return nil
}

func encodePacket(m Message) ([]byte, error) {
	ct, ok := contentType(m.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: cannot build packet for kind %q", ErrPreparation, m.Kind)
	}
	body := messageBody(m)
	if len(body) > 0xffff {
		return nil, fmt.Errorf("%w: packet body of %d bytes", ErrPreparation, len(body))
	}
	pkt := make([]byte, packetHeaderLen+len(body))
	pkt[0] = ct
	binary.BigEndian.PutUint16(pkt[1:3], uint16(len(body)))
	copy(pkt[packetHeaderLen:], body)
	return pkt, nil
}

func (p *PacketStack) Send(ctx context.Context, msgs []Message) ([][]byte, error) {
	prepared := make([][]byte, 0, len(msgs))
	size := 0
	for _, m := range msgs {
		pkt, err := encodePacket(m)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, pkt)
		size += len(pkt)
	}

	if !p.Coalesce {
		for _, pkt := range prepared {
			if err := p.h.Send(ctx, pkt); err != nil {
				return prepared, err
			}
		}
		return prepared, nil
	}

	if p.queued > 0 && len(p.pending)+size > p.MaxDatagramSize {
		if err := p.Flush(ctx); err != nil {
			return prepared, err
		}
	}
	coalesced := p.queued > 0
	for _, pkt := range prepared {
		p.pending = append(p.pending, pkt...)
	}
	p.queued++
	if coalesced {
		return prepared, ErrSkipAction
	}
	return prepared, nil
}

// Flush writes any coalesced packets as one datagram.
func (p *PacketStack) Flush(ctx context.Context) error {
	if p.queued == 0 {
		return nil
	}
	data := p.pending
	p.pending, p.queued = nil, 0
	return p.h.Send(ctx, data)
}

func (p *PacketStack) Retransmit(ctx context.Context, prepared [][]byte) error {
	for _, pkt := range prepared {
		if err := p.h.Send(ctx, pkt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PacketStack) Receive(ctx context.Context) ([]Message, error) {
	if err := p.Flush(ctx); err != nil {
		return nil, err
	}
	data, err := p.h.Receive(ctx)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	for len(data) >= packetHeaderLen {
		n := int(binary.BigEndian.Uint16(data[1:3]))
		if len(data) < packetHeaderLen+n {
			break
		}
		msgs = append(msgs, decodeMessage(data[0], data[packetHeaderLen:packetHeaderLen+n]))
		data = data[packetHeaderLen+n:]
	}
	return msgs, nil
}

func (p *PacketStack) CloseNotify(ctx context.Context, epoch int) error {
	if err := p.Flush(ctx); err != nil {
		return err
	}
	pkt, err := encodePacket(NewAlertMessage(AlertWarning, AlertCloseNotify))
	if err != nil {
		return err
	}
	return p.h.Send(ctx, pkt)
}

func (p *PacketStack) Reset() {
	p.pending, p.queued = nil, 0
}
