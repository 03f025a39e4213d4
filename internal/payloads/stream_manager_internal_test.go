package payloads

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClosedStreamHistoryIsBounded(t *testing.T) {
	t.Parallel()

	m := NewStreamManager(nil)
	first := uuid.New()
	m.GetOrCreateAssembler(first)
	m.CloseStream(first)

	for range closedStreamHistory {
		id := uuid.New()
		m.GetOrCreateAssembler(id)
		m.CloseStream(id)
	}

	assert.Len(t, m.closed, closedStreamHistory)
	assert.Len(t, m.closedLog, closedStreamHistory)

	a, created := m.GetOrCreateAssembler(first)
	assert.NotNil(t, a, "oldest tombstone should have been evicted")
	assert.True(t, created)
}
