package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	kerr "ksession/internal/errors"
)

// Payload is what a kernel-protocol socket carries: JSON text for
// messages without buffers, the binary layout otherwise.
type Payload struct {
	Data   []byte
	Binary bool
}

// Text builds a text payload.
func Text(s string) Payload { return Payload{Data: []byte(s)} }

// Serialize converts msg to its wire shape.  Messages without buffers
// become JSON text; messages with buffers use the binary layout:
//
//	uint32 nbufs | nbufs × uint32 offset | JSON | buffer 1 | … | buffer n
//
// where nbufs counts the JSON body plus every buffer and all integers
// are big-endian.
func Serialize(msg *Message) (Payload, error) {
	if err := msg.Validate(); err != nil {
		return Payload{}, &kerr.WireError{Op: "serialize", Err: err}
	}
	if len(msg.Buffers) == 0 {
		data, err := json.Marshal(msg)
		if err != nil {
			return Payload{}, &kerr.WireError{Op: "serialize", Err: err}
		}
		return Payload{Data: data}, nil
	}
	data, err := SerializeBinary(msg)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Data: data, Binary: true}, nil
}

// SerializeBinary always uses the binary layout, even with no buffers.
func SerializeBinary(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, &kerr.WireError{Op: "serialize", Err: err}
	}

	parts := make([][]byte, 0, len(msg.Buffers)+1)
	parts = append(parts, body)
	parts = append(parts, msg.Buffers...)

	nbufs := len(parts)
	offset := 4 * (nbufs + 1)
	size := offset
	for _, p := range parts {
		size += len(p)
	}

	out := make([]byte, size)
	binary.BigEndian.PutUint32(out[0:], uint32(nbufs))
	for i, p := range parts {
		binary.BigEndian.PutUint32(out[4*(i+1):], uint32(offset))
		copy(out[offset:], p)
		offset += len(p)
	}
	return out, nil
}

// Deserialize is the inverse of Serialize.
func Deserialize(p Payload) (*Message, error) {
	if p.Binary {
		return DeserializeBinary(p.Data)
	}
	var msg Message
	if err := json.Unmarshal(p.Data, &msg); err != nil {
		return nil, &kerr.WireError{Op: "deserialize", Err: err}
	}
	if err := msg.Validate(); err != nil {
		return nil, &kerr.WireError{Op: "deserialize", Err: err}
	}
	return &msg, nil
}

// DeserializeBinary decodes the binary layout.
func DeserializeBinary(data []byte) (*Message, error) {
	fail := func(format string, args ...any) (*Message, error) {
		return nil, &kerr.WireError{Op: "deserialize", Err: fmt.Errorf(format, args...)}
	}
	if len(data) < 4 {
		return fail("binary payload too short (%d bytes)", len(data))
	}
	nbufs := int(binary.BigEndian.Uint32(data))
	if nbufs < 1 || 4*(nbufs+1) > len(data) {
		return fail("invalid buffer count %d", nbufs)
	}

	offsets := make([]int, nbufs+1)
	for i := 0; i < nbufs; i++ {
		offsets[i] = int(binary.BigEndian.Uint32(data[4*(i+1):]))
	}
	offsets[nbufs] = len(data)
	for i := 0; i < nbufs; i++ {
		if offsets[i] < 4*(nbufs+1) || offsets[i] > offsets[i+1] {
			return fail("buffer %d has invalid offset %d", i, offsets[i])
		}
	}

	var msg Message
	if err := json.Unmarshal(data[offsets[0]:offsets[1]], &msg); err != nil {
		return nil, &kerr.WireError{Op: "deserialize", Err: err}
	}
	if err := msg.Validate(); err != nil {
		return nil, &kerr.WireError{Op: "deserialize", Err: err}
	}
	if nbufs > 1 {
		msg.Buffers = make([][]byte, 0, nbufs-1)
		for i := 1; i < nbufs; i++ {
			msg.Buffers = append(msg.Buffers, append([]byte(nil), data[offsets[i]:offsets[i+1]]...))
		}
	}
	return &msg, nil
}
