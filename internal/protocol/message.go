package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/bamsammich/botstream/internal/jsoncodec"
)

// UnknownLength marks a content stream whose size was not declared.
const UnknownLength int64 = -1

// ContentTypeJSON is the content type used for activity bodies.
const ContentTypeJSON = "application/json; charset=utf-8"

// Content is an outgoing content stream attached to a Request or Response.
type Content struct {
	Body   io.Reader
	Type   string
	Length int64
	ID     uuid.UUID
}

// NewContent wraps body as a content stream with a fresh ID. Pass
// UnknownLength when the size is not known in advance.
func NewContent(contentType string, body io.Reader, length int64) *Content {
	return &Content{
		ID:     uuid.New(),
		Type:   contentType,
		Body:   body,
		Length: length,
	}
}

// BytesContent returns a content stream over b.
func BytesContent(contentType string, b []byte) *Content {
	return NewContent(contentType, bytes.NewReader(b), int64(len(b)))
}

// JSONContent marshals v and returns it as a JSON content stream.
func JSONContent(v any) (*Content, error) {
	b, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return BytesContent(ContentTypeJSON, b), nil
}

// Description returns the envelope entry announcing c.
func (c *Content) Description() StreamDescription {
	d := StreamDescription{ID: c.ID.String(), Type: c.Type}
	if c.Length >= 0 {
		length := c.Length
		d.Length = &length
	}
	return d
}

func describe(streams []*Content) []StreamDescription {
	if len(streams) == 0 {
		return nil
	}
	out := make([]StreamDescription, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.Description())
	}
	return out
}

// Request is an outgoing request.
type Request struct {
	Verb    string
	Path    string
	Streams []*Content
}

// NewRequest builds a request with optional attached streams.
func NewRequest(verb, path string, streams ...*Content) *Request {
	return &Request{Verb: verb, Path: path, Streams: streams}
}

// AddStream attaches another content stream.
func (r *Request) AddStream(c *Content) {
	r.Streams = append(r.Streams, c)
}

// Payload returns the envelope sent ahead of the request's streams.
func (r *Request) Payload() RequestPayload {
	return RequestPayload{Verb: r.Verb, Path: r.Path, Streams: describe(r.Streams)}
}

// Response is an outgoing response.
type Response struct {
	Streams    []*Content
	StatusCode int
}

// NewResponse builds a response with optional attached streams.
func NewResponse(status int, streams ...*Content) *Response {
	return &Response{StatusCode: status, Streams: streams}
}

// AddStream attaches another content stream.
func (r *Response) AddStream(c *Content) {
	r.Streams = append(r.Streams, c)
}

// Payload returns the envelope sent ahead of the response's streams.
func (r *Response) Payload() ResponsePayload {
	return ResponsePayload{StatusCode: r.StatusCode, Streams: describe(r.Streams)}
}

// ContentStream is an incoming content stream. Body blocks until bytes arrive
// and returns io.EOF once the sender's final chunk has been read. Closing Body
// before the stream is complete cancels it.
type ContentStream struct {
	Body   io.ReadCloser
	Type   string
	Length int64
	ID     uuid.UUID
}

// ReceiveRequest is a request assembled from the wire.
type ReceiveRequest struct {
	Verb    string
	Path    string
	Streams []*ContentStream
}

// ReadBody reads the first stream to completion and closes it. Returns nil
// when the request has no streams.
func (r *ReceiveRequest) ReadBody() ([]byte, error) {
	return readFirst(r.Streams)
}

// ReadBodyJSON decodes the first stream as JSON into v.
func (r *ReceiveRequest) ReadBodyJSON(v any) error {
	return decodeFirst(r.Streams, v)
}

// Close releases every stream, cancelling those not fully received.
func (r *ReceiveRequest) Close() {
	closeAll(r.Streams)
}

// ReceiveResponse is a response assembled from the wire.
type ReceiveResponse struct {
	Streams    []*ContentStream
	StatusCode int
}

// ReadBody reads the first stream to completion and closes it. Returns nil
// when the response has no streams.
func (r *ReceiveResponse) ReadBody() ([]byte, error) {
	return readFirst(r.Streams)
}

// ReadBodyJSON decodes the first stream as JSON into v.
func (r *ReceiveResponse) ReadBodyJSON(v any) error {
	return decodeFirst(r.Streams, v)
}

// Close releases every stream, cancelling those not fully received.
func (r *ReceiveResponse) Close() {
	closeAll(r.Streams)
}

func readFirst(streams []*ContentStream) ([]byte, error) {
	if len(streams) == 0 {
		return nil, nil
	}
	s := streams[0]
	defer s.Body.Close()

	b, err := io.ReadAll(s.Body)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", s.ID, err)
	}
	return b, nil
}

func decodeFirst(streams []*ContentStream, v any) error {
	if len(streams) == 0 {
		return fmt.Errorf("decode body: %w", io.ErrUnexpectedEOF)
	}
	s := streams[0]
	defer s.Body.Close()

	if err := jsoncodec.Decode(s.Body, v); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("decode stream %s: %w", s.ID, err)
	}
	// Read to the end so Close does not cancel a stream that was fully sent.
	if _, err := io.Copy(io.Discard, s.Body); err != nil {
		return fmt.Errorf("read stream %s: %w", s.ID, err)
	}
	return nil
}

func closeAll(streams []*ContentStream) {
	for _, s := range streams {
		s.Body.Close()
	}
}
