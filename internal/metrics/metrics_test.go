package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCounters(t *testing.T) {
	sentBefore := testutil.ToFloat64(framesSent.WithLabelValues("stream"))
	bytesBefore := testutil.ToFloat64(bytesSent)

	FrameSent("stream", 4096)
	FrameSent("stream", 10)

	assert.InDelta(t, sentBefore+2, testutil.ToFloat64(framesSent.WithLabelValues("stream")), 0)
	assert.InDelta(t, bytesBefore+4106, testutil.ToFloat64(bytesSent), 0)
}

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(connections.WithLabelValues("pipe"))

	ConnectionOpened("pipe")
	assert.InDelta(t, before+1, testutil.ToFloat64(connections.WithLabelValues("pipe")), 0)
	ConnectionClosed("pipe")
	assert.InDelta(t, before, testutil.ToFloat64(connections.WithLabelValues("pipe")), 0)
}

func TestRecordOutgoing(t *testing.T) {
	before := testutil.ToFloat64(requests.WithLabelValues("outgoing", "timeout"))
	RecordOutgoing("timeout", 30*time.Second)
	assert.InDelta(t, before+1, testutil.ToFloat64(requests.WithLabelValues("outgoing", "timeout")), 0)
}

func TestHandlerExposesCollectors(t *testing.T) {
	Register()
	Register() // second call must not panic on duplicate registration

	StreamOpened()
	defer StreamClosed()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "botstream_streams_active")
	assert.Contains(t, string(body), "botstream_requests_pending")
}
