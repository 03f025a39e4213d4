package protocol_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/botstream/internal/protocol"
)

const exampleID = "8d0a4c36-5b7e-4f2a-9c11-0e5d7b3a9f21"

func TestAppendHeaderWireForm(t *testing.T) {
	t.Parallel()

	h := protocol.Header{
		Type:          protocol.TypeRequest,
		PayloadLength: 42,
		ID:            uuid.MustParse(exampleID),
		End:           true,
	}
	b, err := protocol.AppendHeader(nil, h)
	require.NoError(t, err)
	assert.Equal(t, "A.000042."+exampleID+".1\n", string(b))
	assert.Len(t, b, protocol.HeaderSize)
}

func TestParseHeaderExample(t *testing.T) {
	t.Parallel()

	h, err := protocol.ParseHeader([]byte("S.004096." + exampleID + ".0\n"))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeStream, h.Type)
	assert.Equal(t, 4096, h.PayloadLength)
	assert.Equal(t, uuid.MustParse(exampleID), h.ID)
	assert.False(t, h.End)
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	types := []protocol.PayloadType{
		protocol.TypeRequest, protocol.TypeResponse, protocol.TypeStream,
		protocol.TypeCancelAll, protocol.TypeCancelStream,
	}
	for _, typ := range types {
		for _, length := range []int{protocol.MinLength, 1, protocol.MaxPayloadLength, protocol.MaxLength} {
			for _, end := range []bool{false, true} {
				want := protocol.Header{Type: typ, PayloadLength: length, ID: uuid.New(), End: end}
				b, err := protocol.AppendHeader(nil, want)
				require.NoError(t, err)
				got, err := protocol.ParseHeader(b)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		}
	}
}

func TestAppendHeaderLengthOutOfRange(t *testing.T) {
	t.Parallel()

	for _, length := range []int{-1, protocol.MaxLength + 1} {
		_, err := protocol.AppendHeader(nil, protocol.Header{Type: protocol.TypeStream, PayloadLength: length})
		assert.ErrorIs(t, err, protocol.ErrFraming, "length %d", length)
	}
}

func TestParseHeaderFramingErrors(t *testing.T) {
	t.Parallel()

	valid := "A.000042." + exampleID + ".1\n"
	tests := []struct {
		name   string
		header string
	}{
		{name: "short", header: valid[:47]},
		{name: "long", header: valid + "x"},
		{name: "type delimiter", header: "A-" + valid[2:]},
		{name: "length delimiter", header: valid[:8] + "-" + valid[9:]},
		{name: "id delimiter", header: valid[:45] + "-" + valid[46:]},
		{name: "terminator", header: valid[:47] + "\r"},
		{name: "non-digit length", header: "A.00004x." + exampleID + ".1\n"},
		{name: "signed length", header: "A.-00042." + exampleID + ".1\n"},
		{name: "bad id", header: "A.000042.zzzzzzzz-5b7e-4f2a-9c11-0e5d7b3a9f21.1\n"},
		{name: "bad end flag", header: "A.000042." + exampleID + ".2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := protocol.ParseHeader([]byte(tt.header))
			assert.ErrorIs(t, err, protocol.ErrFraming)
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	id := uuid.New()
	require.NoError(t, protocol.WriteFrame(&buf, protocol.Header{Type: protocol.TypeStream, ID: id}, []byte("hello")))
	require.NoError(t, protocol.WriteFrame(&buf, protocol.Header{Type: protocol.TypeStream, ID: id, End: true}, nil))
	assert.Equal(t, 2*protocol.HeaderSize+5, buf.Len())

	h, body, err := protocol.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, 5, h.PayloadLength)
	assert.Equal(t, "hello", string(body))
	assert.False(t, h.End)

	h, body, err = protocol.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, h.PayloadLength)
	assert.Empty(t, body)
	assert.True(t, h.End)

	_, _, err = protocol.ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncatedBody(t *testing.T) {
	t.Parallel()

	b, err := protocol.AppendHeader(nil, protocol.Header{Type: protocol.TypeRequest, PayloadLength: 10, ID: uuid.New()})
	require.NoError(t, err)
	b = append(b, "short"...)

	_, _, err = protocol.ReadFrame(bytes.NewReader(b))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestPayloadTypeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "request", protocol.TypeRequest.String())
	assert.Equal(t, "cancel_stream", protocol.TypeCancelStream.String())
	assert.Contains(t, protocol.PayloadType('Q').String(), "unknown")
}
