package protocol

import (
	"bytes"
	"fmt"

	"github.com/bamsammich/botstream/internal/jsoncodec"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StreamDescription declares one content stream attached to a request or response.
type StreamDescription struct {
	Length *int64 `json:"length,omitempty"`
	ID     string `json:"id"`
	Type   string `json:"type,omitempty"`
}

// RequestPayload is the JSON envelope carried by Request frames.
type RequestPayload struct {
	Verb    string              `json:"verb"`
	Path    string              `json:"path"`
	Streams []StreamDescription `json:"streams,omitempty"`
}

// ResponsePayload is the JSON envelope carried by Response frames.
type ResponsePayload struct {
	Streams    []StreamDescription `json:"streams,omitempty"`
	StatusCode int                 `json:"statusCode"`
}

// DecodeEnvelope unmarshals a request or response envelope, skipping a
// leading UTF-8 byte order mark if the peer wrote one.
func DecodeEnvelope(data []byte, v any) error {
	data = bytes.TrimPrefix(data, utf8BOM)
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return nil
}

// EncodeEnvelope marshals a request or response envelope.
func EncodeEnvelope(v any) ([]byte, error) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
