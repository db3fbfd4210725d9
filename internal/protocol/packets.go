// Package protocol implements the binary packet codec for the remote console
// (RCON) protocol. Every packet is little-endian with a 4-byte length prefix
// that counts the bytes following it:
//
//	[length:4][id:4][type:4][body:N][0x00 0x00]
package protocol

import "fmt"

// PacketType identifies the kind of a packet.
type PacketType int32

const (
	TypeResponse PacketType = 0 // SERVERDATA_RESPONSE_VALUE
	TypeCommand  PacketType = 2 // SERVERDATA_EXECCOMMAND
	TypeAuth     PacketType = 3 // SERVERDATA_AUTH

	// TypeAuthResponse shares its value with TypeCommand; servers use it
	// for the reply to an Auth packet.
	TypeAuthResponse PacketType = 2
)

func (t PacketType) String() string {
	switch t {
	case TypeResponse:
		return "response"
	case TypeCommand:
		return "command"
	case TypeAuth:
		return "auth"
	default:
		return fmt.Sprintf("type(%d)", int32(t))
	}
}

const (
	// LengthFieldSize is the size of the length prefix, which is not
	// counted by the length itself.
	LengthFieldSize = 4

	// HeaderSize is the part of the declared length that is not body:
	// id (4) + type (4) + terminator (2).
	HeaderSize = 10

	// MaxPayloadSize is the largest body a single packet may carry.
	MaxPayloadSize = 4096

	// MaxPacketSize is the largest packet accepted on receive, length
	// prefix included.
	MaxPacketSize = MaxPayloadSize + HeaderSize + LengthFieldSize

	// bodyOffset is where the body starts on the wire.
	bodyOffset = 12
)

// Message is one framed protocol unit. It is used in both directions.
type Message struct {
	// Length is the value of the length prefix: 10 + len(Body).
	Length int32
	// ID is assigned by the client and echoed back in the response.
	ID   int32
	Type PacketType
	Body string
}

// NewMessage builds a Message with its Length computed from the body.
func NewMessage(id int32, typ PacketType, body string) Message {
	return Message{
		Length: int32(HeaderSize + len(body)),
		ID:     id,
		Type:   typ,
		Body:   body,
	}
}

// WireSize returns the number of bytes the message occupies when encoded.
func (m Message) WireSize() int {
	return LengthFieldSize + HeaderSize + len(m.Body)
}

func (m Message) String() string {
	return fmt.Sprintf("Message{id=%d type=%s len=%d body=%q}", m.ID, m.Type, m.Length, m.Body)
}
