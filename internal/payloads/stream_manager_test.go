package payloads_test

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/botstream/internal/payloads"
	"github.com/bamsammich/botstream/internal/protocol"
)

func TestStreamManagerConcurrentCreate(t *testing.T) {
	t.Parallel()

	m := payloads.NewStreamManager(nil)
	id := uuid.New()

	const n = 64
	var created atomic.Int32
	results := make([]*payloads.ContentStreamAssembler, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			a, c := m.GetOrCreateAssembler(id)
			if c {
				created.Add(1)
			}
			results[i] = a
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, a := range results {
		assert.Same(t, results[0], a)
	}
	assert.Equal(t, 1, m.Len())
}

func TestStreamManagerDropsChunksForClosedStream(t *testing.T) {
	t.Parallel()

	m := payloads.NewStreamManager(nil)
	id := uuid.New()
	m.OnReceive(streamFrame(id, true), []byte("complete"))
	m.CloseStream(id)
	require.Equal(t, 0, m.Len())

	m.OnReceive(streamFrame(id, false), []byte("late"))
	assert.Equal(t, 0, m.Len())

	a, created := m.GetOrCreateAssembler(id)
	assert.Nil(t, a)
	assert.False(t, created)
}

func TestStreamManagerCancelFiresOnce(t *testing.T) {
	t.Parallel()

	var cancelled []uuid.UUID
	var mu sync.Mutex
	m := payloads.NewStreamManager(func(a *payloads.ContentStreamAssembler) {
		mu.Lock()
		defer mu.Unlock()
		cancelled = append(cancelled, a.ID)
	})

	id := uuid.New()
	m.OnReceive(streamFrame(id, false), []byte("partial"))
	a, ok := m.Assembler(id)
	require.True(t, ok)

	require.NoError(t, a.Stream().Close())
	require.NoError(t, a.Stream().Close())
	m.CloseStream(id)

	mu.Lock()
	assert.Equal(t, []uuid.UUID{id}, cancelled)
	mu.Unlock()

	_, err := a.Stream().Read(make([]byte, 4))
	assert.ErrorIs(t, err, protocol.ErrStreamCancelled)
}

func TestStreamManagerCompleteness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		length     int64
		chunks     []string
		end        bool
		wantCancel bool
	}{
		{name: "unknown length with end", length: protocol.UnknownLength, chunks: []string{"ab"}, end: true},
		{name: "unknown length without end", length: protocol.UnknownLength, chunks: []string{"ab"}, wantCancel: true},
		{name: "known length reached", length: 4, chunks: []string{"ab", "cd"}, end: true},
		{name: "end before known length", length: 10, chunks: []string{"ab"}, end: true, wantCancel: true},
		{name: "nothing received", length: 3, wantCancel: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cancels atomic.Int32
			m := payloads.NewStreamManager(func(*payloads.ContentStreamAssembler) { cancels.Add(1) })

			id := uuid.New()
			a, _ := m.GetOrCreateAssembler(id)
			// Lengths are normally bound from the envelope by the assembler manager.
			a.ContentLength = tt.length
			for i, c := range tt.chunks {
				m.OnReceive(streamFrame(id, tt.end && i == len(tt.chunks)-1), []byte(c))
			}

			m.CloseStream(id)
			assert.Equal(t, tt.wantCancel, cancels.Load() == 1)
		})
	}
}

func TestStreamManagerPeerCancelDoesNotNotify(t *testing.T) {
	t.Parallel()

	var cancels atomic.Int32
	m := payloads.NewStreamManager(func(*payloads.ContentStreamAssembler) { cancels.Add(1) })
	id := uuid.New()
	m.OnReceive(streamFrame(id, false), []byte("partial"))
	a, _ := m.Assembler(id)

	m.CancelStream(id)
	assert.Zero(t, cancels.Load())
	assert.Equal(t, 0, m.Len())

	_, err := a.Stream().Read(make([]byte, 4))
	assert.ErrorIs(t, err, protocol.ErrStreamCancelled)
}

func TestStreamManagerCancelAll(t *testing.T) {
	t.Parallel()

	m := payloads.NewStreamManager(nil)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		m.OnReceive(streamFrame(id, false), []byte("x"))
	}
	streams := make([]io.Reader, 0, len(ids))
	for _, id := range ids {
		a, ok := m.Assembler(id)
		require.True(t, ok)
		streams = append(streams, a.Stream())
	}

	failure := errors.New("gone")
	m.CancelAll(failure)
	assert.Equal(t, 0, m.Len())
	for _, s := range streams {
		_, err := s.Read(make([]byte, 1))
		assert.ErrorIs(t, err, failure)
	}

	m.OnReceive(streamFrame(ids[0], true), []byte("late"))
	assert.Equal(t, 0, m.Len())
}
