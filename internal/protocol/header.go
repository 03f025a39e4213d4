package protocol

import (
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
)

// PayloadType identifies what a frame's body carries.
type PayloadType byte

// Payload types as they appear in the first byte of a header.
const (
	TypeRequest      PayloadType = 'A'
	TypeResponse     PayloadType = 'B'
	TypeStream       PayloadType = 'S'
	TypeCancelAll    PayloadType = 'X'
	TypeCancelStream PayloadType = 'C'
)

func (t PayloadType) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeStream:
		return "stream"
	case TypeCancelAll:
		return "cancel_all"
	case TypeCancelStream:
		return "cancel_stream"
	default:
		return fmt.Sprintf("unknown(%q)", byte(t))
	}
}

const (
	// HeaderSize is the fixed size of every frame header in bytes.
	HeaderSize = 48

	// MaxPayloadLength is the largest body the sender puts in a single frame.
	// Larger envelopes and streams are split into multiple frames.
	MaxPayloadLength = 4096

	// MinLength and MaxLength bound the length field of a header.
	MinLength = 0
	MaxLength = 999999
)

// Header field layout: T.LLLLLL.XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX.E\n
const (
	typeOffset       = 0
	typeDelimOffset  = 1
	lengthOffset     = 2
	lengthSize       = 6
	lengthDelimOff   = 8
	idOffset         = 9
	idSize           = 36
	idDelimOffset    = 45
	endOffset        = 46
	terminatorOffset = 47

	delimiter  = '.'
	terminator = '\n'
)

// Header prefaces every chunk on the wire.
type Header struct {
	ID            uuid.UUID
	PayloadLength int
	Type          PayloadType
	End           bool
}

// AppendHeader appends the 48-byte wire form of h to dst.
func AppendHeader(dst []byte, h Header) ([]byte, error) {
	if h.PayloadLength < MinLength || h.PayloadLength > MaxLength {
		return dst, fmt.Errorf("%w: length %d out of range [%d, %d]",
			ErrFraming, h.PayloadLength, MinLength, MaxLength)
	}

	var buf [HeaderSize]byte
	buf[typeOffset] = byte(h.Type)
	buf[typeDelimOffset] = delimiter

	length := strconv.Itoa(h.PayloadLength)
	for i := range lengthSize - len(length) {
		buf[lengthOffset+i] = '0'
	}
	copy(buf[lengthOffset+lengthSize-len(length):], length)
	buf[lengthDelimOff] = delimiter

	copy(buf[idOffset:idOffset+idSize], h.ID.String())
	buf[idDelimOffset] = delimiter

	if h.End {
		buf[endOffset] = '1'
	} else {
		buf[endOffset] = '0'
	}
	buf[terminatorOffset] = terminator

	return append(dst, buf[:]...), nil
}

// ParseHeader decodes a 48-byte header. Every malformed field is reported as
// ErrFraming since a corrupted header cannot be resynchronized.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", ErrFraming, len(b), HeaderSize)
	}

	if b[typeDelimOffset] != delimiter || b[lengthDelimOff] != delimiter ||
		b[idDelimOffset] != delimiter {
		return Header{}, fmt.Errorf("%w: missing delimiter", ErrFraming)
	}
	if b[terminatorOffset] != terminator {
		return Header{}, fmt.Errorf("%w: missing terminator", ErrFraming)
	}

	length := 0
	for _, c := range b[lengthOffset : lengthOffset+lengthSize] {
		if c < '0' || c > '9' {
			return Header{}, fmt.Errorf("%w: invalid length %q",
				ErrFraming, b[lengthOffset:lengthOffset+lengthSize])
		}
		length = length*10 + int(c-'0')
	}
	if length < MinLength || length > MaxLength {
		return Header{}, fmt.Errorf("%w: length %d out of range", ErrFraming, length)
	}

	id, err := uuid.ParseBytes(b[idOffset : idOffset+idSize])
	if err != nil {
		return Header{}, fmt.Errorf("%w: invalid id: %w", ErrFraming, err)
	}

	var end bool
	switch b[endOffset] {
	case '0':
	case '1':
		end = true
	default:
		return Header{}, fmt.Errorf("%w: invalid end flag %q", ErrFraming, b[endOffset])
	}

	return Header{
		Type:          PayloadType(b[typeOffset]),
		PayloadLength: length,
		ID:            id,
		End:           end,
	}, nil
}

// ReadHeader reads and decodes one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return ParseHeader(buf[:])
}

// WriteFrame writes a header followed by its body in a single Write call.
// h.PayloadLength is set from len(body).
func WriteFrame(w io.Writer, h Header, body []byte) error {
	h.PayloadLength = len(body)
	buf := make([]byte, 0, HeaderSize+len(body))
	buf, err := AppendHeader(buf, h)
	if err != nil {
		return err
	}
	buf = append(buf, body...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one header and its body from r.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}

	var body []byte
	if h.PayloadLength > 0 {
		body = make([]byte, h.PayloadLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return Header{}, nil, fmt.Errorf("read frame body: %w", err)
		}
	}
	return h, body, nil
}
