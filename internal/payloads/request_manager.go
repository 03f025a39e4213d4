package payloads

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/bamsammich/botstream/internal/metrics"
	"github.com/bamsammich/botstream/internal/protocol"
)

type responseResult struct {
	resp *protocol.ReceiveResponse
	err  error
}

// RequestManager correlates outgoing requests with the responses that
// arrive for them. Each registration owns a one-slot channel that stays in
// the table until its waiter returns, so a response that arrives before
// GetResponse is called is kept.
type RequestManager struct {
	err     error
	pending map[uuid.UUID]chan responseResult
	mu      sync.Mutex
}

// NewRequestManager creates an empty request manager.
func NewRequestManager() *RequestManager {
	return &RequestManager{
		pending: make(map[uuid.UUID]chan responseResult),
	}
}

// Register reserves a response slot for id. Returns false if id is already
// registered or the manager is closed.
func (m *RequestManager) Register(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false
	}
	if _, ok := m.pending[id]; ok {
		return false
	}
	m.add(id)
	return true
}

// SignalResponse delivers resp to the caller waiting on id. Returns false if
// nobody is waiting or a result was already delivered; the caller then owns
// resp.
func (m *RequestManager) SignalResponse(id uuid.UUID, resp *protocol.ReceiveResponse) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.pending[id]
	if !ok {
		return false
	}
	return deliver(ch, responseResult{resp: resp})
}

// GetResponse blocks until the response for id arrives, ctx is done, or the
// manager fails. id is registered if Register was not called first. The
// registration is always released on return.
func (m *RequestManager) GetResponse(ctx context.Context, id uuid.UUID) (*protocol.ReceiveResponse, error) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if !ok {
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return nil, err
		}
		ch = m.add(id)
	}
	m.mu.Unlock()

	select {
	case res := <-ch:
		m.release(id, ch)
		return res.resp, res.err
	case <-ctx.Done():
		m.release(id, ch)
		// A response may have raced the cancellation; release its streams.
		closeResponse(drain(ch))
		return nil, ctx.Err()
	}
}

// Cancel drops the registration for id without waiting.
func (m *RequestManager) Cancel(id uuid.UUID) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if ok {
		m.remove(id)
	}
	m.mu.Unlock()

	if ok {
		closeResponse(drain(ch))
	}
}

// FailAll completes every pending request with err, replacing any response
// that was delivered but not yet collected. New requests may still be
// registered afterwards.
func (m *RequestManager) FailAll(err error) {
	var replaced []*protocol.ReceiveResponse
	m.mu.Lock()
	for _, ch := range m.pending {
		if !deliver(ch, responseResult{err: err}) {
			replaced = append(replaced, drain(ch))
			deliver(ch, responseResult{err: err})
		}
	}
	m.mu.Unlock()

	for _, resp := range replaced {
		closeResponse(resp)
	}
}

// Close fails every pending request with err and rejects future ones.
func (m *RequestManager) Close(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
	m.FailAll(err)
}

// Len returns the number of registered requests.
func (m *RequestManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// add registers id. Caller holds m.mu.
func (m *RequestManager) add(id uuid.UUID) chan responseResult {
	ch := make(chan responseResult, 1)
	m.pending[id] = ch
	metrics.PendingRequests.Inc()
	return ch
}

// remove unregisters id. Caller holds m.mu.
func (m *RequestManager) remove(id uuid.UUID) {
	delete(m.pending, id)
	metrics.PendingRequests.Dec()
}

// release removes id only if it still maps to ch.
func (m *RequestManager) release(id uuid.UUID, ch chan responseResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.pending[id]; ok && cur == ch {
		m.remove(id)
	}
}

func deliver(ch chan responseResult, res responseResult) bool {
	select {
	case ch <- res:
		return true
	default:
		return false
	}
}

// drain takes an uncollected result out of ch, returning its response if any.
func drain(ch chan responseResult) *protocol.ReceiveResponse {
	select {
	case res := <-ch:
		return res.resp
	default:
		return nil
	}
}

func closeResponse(resp *protocol.ReceiveResponse) {
	if resp != nil {
		resp.Close()
	}
}
