package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder assembles the little-endian byte layout of a packet.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a builder with room for a body of n bytes.
func NewPacketBuilder(n int) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.Grow(LengthFieldSize + HeaderSize + n)
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	b.buf.Write(tmp[:])
	return b
}

// WriteBody writes the body bytes followed by the two-byte null terminator.
func (b *PacketBuilder) WriteBody(body string) *PacketBuilder {
	b.buf.WriteString(body)
	b.buf.WriteByte(0)
	b.buf.WriteByte(0)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}
