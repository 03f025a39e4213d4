package protocol_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/botstream/internal/protocol"
)

type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

func TestJSONContent(t *testing.T) {
	t.Parallel()

	c, err := protocol.JSONContent(map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, protocol.ContentTypeJSON, c.Type)

	body, err := io.ReadAll(c.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(body))
	assert.Equal(t, int64(len(body)), c.Length)
}

func TestReceiveRequestBody(t *testing.T) {
	t.Parallel()

	first := &trackedBody{Reader: strings.NewReader(`{"text":"hi"}`)}
	second := &trackedBody{Reader: strings.NewReader("attachment")}
	req := &protocol.ReceiveRequest{Streams: []*protocol.ContentStream{{Body: first}, {Body: second}}}

	var v struct {
		Text string `json:"text"`
	}
	require.NoError(t, req.ReadBodyJSON(&v))
	assert.Equal(t, "hi", v.Text)
	assert.True(t, first.closed)
	assert.False(t, second.closed)

	req.Close()
	assert.True(t, second.closed)
}

func TestReceiveResponseWithoutStreams(t *testing.T) {
	t.Parallel()

	resp := &protocol.ReceiveResponse{StatusCode: 200}
	body, err := resp.ReadBody()
	require.NoError(t, err)
	assert.Nil(t, body)

	var v map[string]any
	assert.ErrorIs(t, resp.ReadBodyJSON(&v), io.ErrUnexpectedEOF)
}

func TestReadBodyJSONDrainsStream(t *testing.T) {
	t.Parallel()

	src := strings.NewReader("{\"text\":\"hi\"}\n\n")
	body := &trackedBody{Reader: src}
	resp := &protocol.ReceiveResponse{Streams: []*protocol.ContentStream{{Body: body}}}

	var v struct {
		Text string `json:"text"`
	}
	require.NoError(t, resp.ReadBodyJSON(&v))
	assert.Equal(t, "hi", v.Text)
	assert.Zero(t, src.Len(), "stream read to the end before Close")
	assert.True(t, body.closed)
}

func TestReadBodyJSONEmptyStream(t *testing.T) {
	t.Parallel()

	body := &trackedBody{Reader: strings.NewReader("")}
	resp := &protocol.ReceiveResponse{Streams: []*protocol.ContentStream{{Body: body}}}

	var v map[string]any
	assert.Error(t, resp.ReadBodyJSON(&v))
	assert.True(t, body.closed)
}
