// Package frame implements the binary wire format shared by the client and
// the notebook server: a tagged record carrying a request, a response, an
// error, or a server-pushed event.
//
// The encoder and decoder know nothing about actions, topics, or retries —
// that belongs to the transport. They only guarantee that encode(decode(b))
// reproduces b for every Frame the encoder accepts.
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Kind tags which of the four frame shapes a Frame carries.
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindError
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is the decoded form of one wire message. Not every field is
// populated for every Kind — see the per-kind constructors below.
type Frame struct {
	Kind Kind

	// Request fields.
	Action        string
	ResponseEvent string
	ErrorEvent    string

	// Event / response / error fields.
	Event string
	As    string

	Data any
}

const magic = 0x6e62 // "nb"

// NewRequest builds a request Frame for action, expecting the response and
// error on the given topics.
func NewRequest(action, responseEvent, errorEvent string, data any) Frame {
	return Frame{
		Kind:          KindRequest,
		Action:        action,
		ResponseEvent: responseEvent,
		ErrorEvent:    errorEvent,
		Data:          data,
	}
}

// NewEvent builds a server-push Frame, optionally aliased.
func NewEvent(event, as string, data any) Frame {
	return Frame{Kind: KindEvent, Event: event, As: as, Data: data}
}

// Encode serializes f to its binary wire form.
//
// Layout: 2-byte magic, 1-byte kind, then for each of the five string fields
// (Action, ResponseEvent, ErrorEvent, Event, As, in that order, empty ones
// included) a 2-byte big-endian length prefix followed by the UTF-8 bytes,
// then a 4-byte big-endian length prefix followed by the JSON-encoded data
// payload (or the 4 zero bytes followed by nothing, for a nil payload).
func Encode(f Frame) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, uint16(magic)); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(byte(f.Kind)); err != nil {
		return nil, err
	}

	strs := []string{f.Action, f.ResponseEvent, f.ErrorEvent, f.Event, f.As}
	for _, s := range strs {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}

	payload, err := encodePayload(f.Data)
	if err != nil {
		return nil, fmt.Errorf("frame: encode payload: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(payload))); err != nil {
		return nil, err
	}
	buf.Write(payload)

	return buf.Bytes(), nil
}

// Decode parses b into a Frame. It rejects anything that isn't a
// binary-framed message produced by Encode — in particular bare text/JSON,
// per spec.md §9's binary-only default.
func Decode(b []byte) (Frame, error) {
	r := bytes.NewReader(b)

	var gotMagic uint16
	if err := binary.Read(r, binary.BigEndian, &gotMagic); err != nil {
		return Frame{}, fmt.Errorf("frame: %w: %v", ErrNotBinary, err)
	}
	if gotMagic != magic {
		return Frame{}, ErrNotBinary
	}

	kindByte, err := r.ReadByte()
	if err != nil {
		return Frame{}, fmt.Errorf("frame: truncated kind: %w", err)
	}
	f := Frame{Kind: Kind(kindByte)}

	strs := make([]string, 5)
	for i := range strs {
		s, err := readString(r)
		if err != nil {
			return Frame{}, fmt.Errorf("frame: truncated string field %d: %w", i, err)
		}
		strs[i] = s
	}
	f.Action, f.ResponseEvent, f.ErrorEvent, f.Event, f.As = strs[0], strs[1], strs[2], strs[3], strs[4]

	var payloadLen uint32
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return Frame{}, fmt.Errorf("frame: truncated payload length: %w", err)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := r.Read(payload); err != nil {
			return Frame{}, fmt.Errorf("frame: truncated payload: %w", err)
		}
	}

	data, err := decodePayload(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("frame: decode payload: %w", err)
	}
	f.Data = data

	return f, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

func encodePayload(data any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

func decodePayload(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
