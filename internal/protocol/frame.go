package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/codefionn/tcpchat/internal/apierr"
	"github.com/codefionn/tcpchat/internal/consts"
)

// Frame is one command on the wire.
//
// Stream encoding: uint32 big-endian body length, then the body.
// Body encoding: uint16 big-endian command id, then the JSON payload.
type Frame struct {
	Command uint16
	Payload []byte
}

// NewFrame marshals v as the payload of command.
func NewFrame(command uint16, v any) (Frame, error) {
	if v == nil {
		v = Empty{}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal command %d: %w", command, err)
	}
	return Frame{Command: command, Payload: payload}, nil
}

// MustFrame is NewFrame for payload types that always marshal.
func MustFrame(command uint16, v any) Frame {
	f, err := NewFrame(command, v)
	if err != nil {
		panic(err)
	}
	return f
}

// Body returns the frame body without the length prefix. WebSocket binary
// messages carry exactly this.
func (f Frame) Body() []byte {
	body := make([]byte, consts.CommandIDSize+len(f.Payload))
	binary.BigEndian.PutUint16(body, f.Command)
	copy(body[consts.CommandIDSize:], f.Payload)
	return body
}

// ParseBody decodes a frame body.
func ParseBody(body []byte, maxSize int) (Frame, error) {
	if len(body) < consts.CommandIDSize {
		return Frame{}, apierr.Protocol("frame body of %d bytes is too short", len(body))
	}
	if maxSize > 0 && len(body) > maxSize {
		return Frame{}, apierr.Protocol("frame body of %d bytes exceeds %d", len(body), maxSize)
	}
	return Frame{
		Command: binary.BigEndian.Uint16(body),
		Payload: body[consts.CommandIDSize:],
	}, nil
}

// WriteFrame writes f with its length prefix in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	body := f.Body()
	buf := make([]byte, consts.FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[consts.FrameHeaderSize:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. A clean close before the header yields io.EOF.
// Oversized or undersized bodies are ProtocolErrors; the stream cannot be
// resynchronized after one.
func ReadFrame(r io.Reader, maxSize int) (Frame, error) {
	var header [consts.FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n < consts.CommandIDSize {
		return Frame{}, apierr.Protocol("frame body of %d bytes is too short", n)
	}
	if maxSize > 0 && n > uint32(maxSize) {
		return Frame{}, apierr.Protocol("frame body of %d bytes exceeds %d", n, maxSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return ParseBody(body, maxSize)
}

// Decode unmarshals a payload into T and runs its Validate method when it has
// one. Malformed JSON is reported as a ValidationError.
func Decode[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, apierr.Wrap(apierr.KindValidation, "malformed payload", err)
	}
	if val, ok := any(v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, err
		}
	}
	return v, nil
}
