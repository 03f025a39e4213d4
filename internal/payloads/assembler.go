package payloads

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bamsammich/botstream/internal/protocol"
)

// MaxEnvelopeSize bounds the JSON envelope of one request or response. Larger
// envelopes are discarded.
const MaxEnvelopeSize = 16 * protocol.MaxPayloadLength

// RequestFunc receives a fully assembled request envelope.
type RequestFunc func(id uuid.UUID, req *protocol.ReceiveRequest)

// ResponseFunc receives a fully assembled response envelope.
type ResponseFunc func(id uuid.UUID, resp *protocol.ReceiveResponse)

// payloadAssembler accumulates the envelope chunks of one request or response.
type payloadAssembler struct {
	buf     bytes.Buffer
	kind    protocol.PayloadType
	id      uuid.UUID
	dropped bool
}

// AssemblerManager routes incoming frames to the request, response, and
// stream assemblers of one connection.
type AssemblerManager struct {
	streams    *StreamManager
	onRequest  RequestFunc
	onResponse ResponseFunc
	active     map[uuid.UUID]*payloadAssembler
	mu         sync.Mutex
}

// NewAssemblerManager creates a manager that hands completed envelopes to
// onRequest and onResponse.
func NewAssemblerManager(
	streams *StreamManager, onRequest RequestFunc, onResponse ResponseFunc,
) *AssemblerManager {
	return &AssemblerManager{
		streams:    streams,
		onRequest:  onRequest,
		onResponse: onResponse,
		active:     make(map[uuid.UUID]*payloadAssembler),
	}
}

// Streams returns the stream manager used for content streams.
func (m *AssemblerManager) Streams() *StreamManager {
	return m.streams
}

// PayloadStream returns the content stream a Stream frame belongs to,
// creating it on first use. Returns false for other frame types and for
// streams that were already closed.
func (m *AssemblerManager) PayloadStream(h protocol.Header) (*PayloadStream, bool) {
	if h.Type != protocol.TypeStream {
		return nil, false
	}
	a, _ := m.streams.GetOrCreateAssembler(h.ID)
	if a == nil {
		return nil, false
	}
	return a.Stream(), true
}

// OnReceive feeds one frame body to the assembler selected by h.Type.
// Frame types other than Request, Response, and Stream are ignored.
func (m *AssemblerManager) OnReceive(h protocol.Header, chunk []byte) {
	switch h.Type {
	case protocol.TypeStream:
		m.streams.OnReceive(h, chunk)
	case protocol.TypeRequest, protocol.TypeResponse:
		m.receiveEnvelope(h, chunk)
	default:
	}
}

func (m *AssemblerManager) receiveEnvelope(h protocol.Header, chunk []byte) {
	m.mu.Lock()
	a, ok := m.active[h.ID]
	if !ok {
		a = &payloadAssembler{id: h.ID, kind: h.Type}
		m.active[h.ID] = a
	}
	if a.kind != h.Type {
		m.mu.Unlock()
		slog.Debug("dropping chunk with mismatched payload type",
			"id", h.ID, "type", h.Type, "assembling", a.kind)
		return
	}
	if a.dropped || a.buf.Len()+len(chunk) > MaxEnvelopeSize {
		oversized := !a.dropped
		// Remaining chunks are skipped until End so the ID cannot start over.
		a.dropped = true
		a.buf = bytes.Buffer{}
		if h.End {
			delete(m.active, h.ID)
		}
		m.mu.Unlock()
		if oversized {
			slog.Warn("dropping oversized payload", "id", h.ID, "type", h.Type, "limit", MaxEnvelopeSize)
		}
		return
	}
	a.buf.Write(chunk)
	if !h.End {
		m.mu.Unlock()
		return
	}
	delete(m.active, h.ID)
	m.mu.Unlock()

	if err := m.complete(a); err != nil {
		slog.Warn("dropping payload", "id", h.ID, "type", h.Type, "error", err)
	}
}

func (m *AssemblerManager) complete(a *payloadAssembler) error {
	switch a.kind {
	case protocol.TypeRequest:
		var env protocol.RequestPayload
		if err := protocol.DecodeEnvelope(a.buf.Bytes(), &env); err != nil {
			return err
		}
		streams, err := m.bindStreams(env.Streams)
		if err != nil {
			return err
		}
		if m.onRequest != nil {
			m.onRequest(a.id, &protocol.ReceiveRequest{
				Verb:    env.Verb,
				Path:    env.Path,
				Streams: streams,
			})
		}
	case protocol.TypeResponse:
		var env protocol.ResponsePayload
		if err := protocol.DecodeEnvelope(a.buf.Bytes(), &env); err != nil {
			return err
		}
		streams, err := m.bindStreams(env.Streams)
		if err != nil {
			return err
		}
		if m.onResponse != nil {
			m.onResponse(a.id, &protocol.ReceiveResponse{
				StatusCode: env.StatusCode,
				Streams:    streams,
			})
		}
	}
	return nil
}

// bindStreams attaches a stream assembler to every stream the envelope declares.
func (m *AssemblerManager) bindStreams(descs []protocol.StreamDescription) ([]*protocol.ContentStream, error) {
	ids := make([]uuid.UUID, len(descs))
	for i, d := range descs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("stream description id %q: %w", d.ID, err)
		}
		ids[i] = id
	}

	streams := make([]*protocol.ContentStream, 0, len(descs))
	for i, d := range descs {
		length := protocol.UnknownLength
		if d.Length != nil {
			length = *d.Length
		}

		cs := &protocol.ContentStream{ID: ids[i], Type: d.Type, Length: length}
		a, _ := m.streams.GetOrCreateAssembler(ids[i])
		if a == nil {
			// Already closed or cancelled; reads fail straight away.
			cs.Body = cancelledStream()
		} else {
			a.describe(d.Type, length)
			cs.Body = a.Stream()
		}
		streams = append(streams, cs)
	}
	return streams, nil
}

// Reset drops every partially assembled envelope.
func (m *AssemblerManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.active)
}

// Len returns the number of envelopes still being assembled.
func (m *AssemblerManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func cancelledStream() *PayloadStream {
	s := newPayloadStream(nil)
	s.fail(protocol.ErrStreamCancelled)
	return s
}
