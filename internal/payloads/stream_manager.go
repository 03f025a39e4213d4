package payloads

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bamsammich/botstream/internal/metrics"
	"github.com/bamsammich/botstream/internal/protocol"
)

// closedStreamHistory bounds how many closed stream IDs are remembered so
// that late chunks for them can be dropped.
const closedStreamHistory = 4096

// ContentStreamAssembler accumulates the chunks of one content stream.
type ContentStreamAssembler struct {
	stream        *PayloadStream
	ContentType   string
	ContentLength int64
	ID            uuid.UUID
	mu            sync.Mutex
	end           bool
}

// Stream returns the reader for the assembled bytes.
func (a *ContentStreamAssembler) Stream() *PayloadStream {
	return a.stream
}

// End reports whether the final chunk has been received.
func (a *ContentStreamAssembler) End() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.end
}

func (a *ContentStreamAssembler) onReceive(h protocol.Header, chunk []byte) {
	a.mu.Lock()
	if a.end {
		a.mu.Unlock()
		return
	}
	if h.End {
		a.end = true
	}
	a.mu.Unlock()

	if len(chunk) > 0 {
		a.stream.write(chunk)
	}
	if h.End {
		a.stream.finish()
	}
}

// complete reports whether the stream was fully received. A stream without a
// declared length is complete only once End has been seen.
func (a *ContentStreamAssembler) complete() bool {
	a.mu.Lock()
	end, length := a.end, a.ContentLength
	a.mu.Unlock()

	if !end {
		return false
	}
	return length < 0 || a.stream.Received() >= length
}

func (a *ContentStreamAssembler) describe(contentType string, length int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ContentType = contentType
	a.ContentLength = length
}

// CancelStreamFunc is called when a stream is closed locally before it was
// fully received.
type CancelStreamFunc func(a *ContentStreamAssembler)

// StreamManager tracks the content streams being assembled on one connection.
type StreamManager struct {
	onCancel  CancelStreamFunc
	active    map[uuid.UUID]*ContentStreamAssembler
	closed    map[uuid.UUID]struct{}
	closedLog []uuid.UUID
	mu        sync.Mutex
}

// NewStreamManager creates a stream manager. onCancel may be nil.
func NewStreamManager(onCancel CancelStreamFunc) *StreamManager {
	return &StreamManager{
		onCancel: onCancel,
		active:   make(map[uuid.UUID]*ContentStreamAssembler),
		closed:   make(map[uuid.UUID]struct{}),
	}
}

// GetOrCreateAssembler returns the assembler registered for id, creating it
// if needed. created reports whether this call registered it. Returns nil
// for IDs that have already been closed.
func (m *StreamManager) GetOrCreateAssembler(id uuid.UUID) (a *ContentStreamAssembler, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.active[id]; ok {
		return a, false
	}
	if _, ok := m.closed[id]; ok {
		return nil, false
	}

	a = &ContentStreamAssembler{
		ID:            id,
		ContentLength: protocol.UnknownLength,
	}
	a.stream = newPayloadStream(func() { m.CloseStream(id) })
	m.active[id] = a
	metrics.StreamOpened()
	return a, true
}

// Assembler returns the active assembler for id, if any.
func (m *StreamManager) Assembler(id uuid.UUID) (*ContentStreamAssembler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[id]
	return a, ok
}

// OnReceive appends a chunk to the stream named by h.ID. Chunks for closed
// streams are dropped.
func (m *StreamManager) OnReceive(h protocol.Header, chunk []byte) {
	a, _ := m.GetOrCreateAssembler(h.ID)
	if a == nil {
		slog.Debug("dropping chunk for closed stream", "id", h.ID, "length", len(chunk))
		return
	}
	a.onReceive(h, chunk)
}

// CloseStream removes the stream from the active set. If it was not fully
// received it is failed with ErrStreamCancelled and the cancel callback runs.
func (m *StreamManager) CloseStream(id uuid.UUID) {
	a := m.remove(id)
	if a == nil {
		return
	}
	if a.complete() {
		return
	}

	a.stream.fail(protocol.ErrStreamCancelled)
	if m.onCancel != nil {
		m.onCancel(a)
	}
}

// CancelStream handles a peer's CancelStream: the stream is removed and its
// buffer released without notifying the peer back.
func (m *StreamManager) CancelStream(id uuid.UUID) {
	if a := m.remove(id); a != nil {
		a.stream.fail(protocol.ErrStreamCancelled)
	}
}

// CancelAll fails and removes every active stream.
func (m *StreamManager) CancelAll(err error) {
	m.mu.Lock()
	streams := make([]*ContentStreamAssembler, 0, len(m.active))
	for id, a := range m.active {
		streams = append(streams, a)
		delete(m.active, id)
		m.tombstone(id)
	}
	m.mu.Unlock()

	for _, a := range streams {
		metrics.StreamClosed()
		a.stream.fail(err)
	}
}

// Len returns the number of active streams.
func (m *StreamManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *StreamManager) remove(id uuid.UUID) *ContentStreamAssembler {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[id]
	if !ok {
		return nil
	}
	delete(m.active, id)
	m.tombstone(id)
	metrics.StreamClosed()
	return a
}

// tombstone records id as closed, evicting the oldest entry once the history
// is full. Caller holds m.mu.
func (m *StreamManager) tombstone(id uuid.UUID) {
	if _, ok := m.closed[id]; ok {
		return
	}
	if len(m.closedLog) >= closedStreamHistory {
		delete(m.closed, m.closedLog[0])
		m.closedLog = m.closedLog[1:]
	}
	m.closed[id] = struct{}{}
	m.closedLog = append(m.closedLog, id)
}
