package serial

import (
	"errors"
	"fmt"
)

// Packet preambles on the adapter serial link.
const (
	PreambleSOF uint8 = 0x01
	PreambleACK uint8 = 0x06
	PreambleNAK uint8 = 0x15
	PreambleCAN uint8 = 0x18
)

const (
	PacketTypeRequest  uint8 = 0x00
	PacketTypeResponse uint8 = 0x01
)

// Adapter message types used by this transport.
const (
	MessageSerialAPIGetInitData      uint8 = 0x02
	MessageApplicationCommandHandler uint8 = 0x04
	MessageZWSendData                uint8 = 0x13
	MessageZWApplicationUpdate       uint8 = 0x49
	MessageZWRequestNodeInfo         uint8 = 0x60
)

var ErrBodyTooLong = errors.New("packet body too long")

// MaximumBodyLength leaves room for the length, type and checksum bytes
// inside the single length byte.
const MaximumBodyLength = 0xff - 3

// Packet is one frame on the serial link. ACK, NAK and CAN packets carry
// only their preamble; SOF packets carry a type, message and body behind
// a length and checksum.
type Packet struct {
	Preamble    uint8
	PacketType  uint8
	MessageType uint8
	Body        []byte
}

// Checksum covers the length, type, message and body bytes, seeded with
// 0xff; the preamble is excluded.
func (p *Packet) checksum() uint8 {
	sum := uint8(0xff)
	sum ^= p.length()
	sum ^= p.PacketType
	sum ^= p.MessageType

	for _, b := range p.Body {
		sum ^= b
	}

	return sum
}

func (p *Packet) length() uint8 {
	return uint8(3 + len(p.Body))
}

// Marshal serializes the packet for the serial link.
func (p *Packet) Marshal() ([]byte, error) {
	switch p.Preamble {
	case PreambleACK, PreambleNAK, PreambleCAN:
		return []byte{p.Preamble}, nil
	}

	if len(p.Body) > MaximumBodyLength {
		return nil, ErrBodyTooLong
	}

	out := make([]byte, 0, 5+len(p.Body))
	out = append(out, p.Preamble, p.length(), p.PacketType, p.MessageType)
	out = append(out, p.Body...)
	out = append(out, p.checksum())

	return out, nil
}

type parseState int

const (
	parseStatePreamble parseState = iota
	parseStateLength
	parseStatePacketType
	parseStateMessageType
	parseStateBody
	parseStateChecksum
)

// Parser is a byte at a time packet decoder. A parse error resets it to
// hunt for the next preamble, so a corrupt frame costs at most itself.
type Parser struct {
	state  parseState
	length uint8
	packet *Packet
}

// Parse consumes one byte; the return is non nil when it completes a
// packet.
func (p *Parser) Parse(b uint8) (*Packet, error) {
	switch p.state {
	case parseStatePreamble:
		switch b {
		case PreambleACK, PreambleNAK, PreambleCAN:
			return &Packet{Preamble: b}, nil
		case PreambleSOF:
			p.packet = &Packet{Preamble: b}
			p.state = parseStateLength
		default:
			return p.reset(fmt.Errorf("bad preamble: 0x%02x", b))
		}

	case parseStateLength:
		if b < 3 {
			return p.reset(fmt.Errorf("bad length: %d", b))
		}
		p.length = b
		p.state = parseStatePacketType

	case parseStatePacketType:
		if b != PacketTypeRequest && b != PacketTypeResponse {
			return p.reset(fmt.Errorf("bad packet type: 0x%02x", b))
		}
		p.packet.PacketType = b
		p.state = parseStateMessageType

	case parseStateMessageType:
		p.packet.MessageType = b

		if p.length == 3 {
			p.state = parseStateChecksum
		} else {
			p.state = parseStateBody
		}

	case parseStateBody:
		p.packet.Body = append(p.packet.Body, b)

		if len(p.packet.Body) == int(p.length)-3 {
			p.state = parseStateChecksum
		}

	case parseStateChecksum:
		packet := p.packet
		p.state = parseStatePreamble
		p.packet = nil

		if packet.checksum() != b {
			return nil, fmt.Errorf("bad checksum: got 0x%02x, want 0x%02x", b, packet.checksum())
		}

		return packet, nil
	}

	return nil, nil
}

func (p *Parser) reset(err error) (*Packet, error) {
	p.state = parseStatePreamble
	p.packet = nil
	return nil, err
}
