package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Encode converts a message to its wire representation. The length field is
// always recomputed from the body, so m.Length is ignored.
func Encode(m Message) []byte {
	return NewPacketBuilder(len(m.Body)).
		WriteInt32(int32(HeaderSize + len(m.Body))).
		WriteInt32(m.ID).
		WriteInt32(int32(m.Type)).
		WriteBody(m.Body).
		Build()
}

// Decode parses one packet. The buffer may be longer than the packet; bytes
// past the declared body are ignored, and so is the terminator.
func Decode(b []byte) (Message, error) {
	if len(b) < bodyOffset {
		return Message{}, decodeErr(0, ErrShortHeader)
	}

	length := int32(binary.LittleEndian.Uint32(b[0:4]))
	id := int32(binary.LittleEndian.Uint32(b[4:8]))
	typ := PacketType(binary.LittleEndian.Uint32(b[8:12]))

	bodyLen := int64(length) - HeaderSize
	if bodyLen < 0 {
		return Message{}, decodeErr(length, ErrNegativeLength)
	}
	if int64(len(b)) < bodyOffset+bodyLen {
		return Message{}, decodeErr(length, ErrTruncated)
	}

	var body string
	if bodyLen > 0 {
		raw := b[bodyOffset : bodyOffset+bodyLen]
		if !utf8.Valid(raw) {
			return Message{}, decodeErr(length, ErrInvalidUTF8)
		}
		body = string(raw)
	}

	return Message{
		Length: length,
		ID:     id,
		Type:   typ,
		Body:   body,
	}, nil
}

// ReadMessage reads exactly one packet from r and returns its raw bytes,
// length prefix included. Packets whose declared length is below the header
// size or whose total size exceeds MaxPacketSize are rejected before the
// body is read.
func ReadMessage(r io.Reader) ([]byte, error) {
	var prefix [LengthFieldSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("failed to read packet length: %w", err)
	}

	length := int32(binary.LittleEndian.Uint32(prefix[:]))
	if length < HeaderSize {
		return nil, decodeErr(length, ErrNegativeLength)
	}
	if int64(length)+LengthFieldSize > MaxPacketSize {
		return nil, decodeErr(length, ErrPacketTooLarge)
	}

	data := make([]byte, LengthFieldSize+int(length))
	copy(data, prefix[:])
	if _, err := io.ReadFull(r, data[LengthFieldSize:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, decodeErr(length, ErrTruncated)
		}
		return nil, fmt.Errorf("failed to read packet payload (%d bytes): %w", length, err)
	}

	return data, nil
}

// WriteMessage encodes m and writes the whole packet to w.
func WriteMessage(w io.Writer, m Message) error {
	data := Encode(m)
	n, err := w.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("failed to write packet: %w", io.ErrShortWrite)
	}
	return nil
}
