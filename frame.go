package socketflow

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// Framing errors. Errors from the read side terminate the message sequence;
// errors from the write side are returned to the sending caller.
var (
	ErrUnsupportedExtensions  = errors.New("socketflow: frame has RSV bits set but no extension was negotiated")
	ErrInvalidOpcode          = errors.New("socketflow: invalid opcode")
	ErrControlFragmented      = errors.New("socketflow: fragmented control frame")
	ErrControlTooLarge        = errors.New("socketflow: control frame payload exceeds 125 bytes")
	ErrUnexpectedContinuation = errors.New("socketflow: continuation frame without preceding data frame")
	ErrUnexpectedFrame        = errors.New("socketflow: data frame received before previous message was complete")
	ErrUnmaskedFrame          = errors.New("socketflow: received unmasked frame from client")
	ErrMaskedFrame            = errors.New("socketflow: received masked frame from server")
	ErrMessageTooLarge        = errors.New("socketflow: message exceeds size limit")
	ErrInvalidUTF8            = errors.New("socketflow: invalid UTF-8 in text message")
)

const (
	opContinuation = 0x0

	maxControlPayload = 125

	// 2 byte fixed header, 8 byte extended length, 4 byte mask key.
	maxFrameHeaderSize = 14

	defaultMaxMessageSize = 32 << 20
)

// Codec assembles complete messages from a buffered transport half and
// encodes messages to the wire. A Codec is owned by a single connection:
// ReadMessage calls are made only from the connection's read task and
// WriteMessage calls are serialized by the connection, so implementations
// may keep unsynchronized state between calls.
type Codec interface {
	// ReadMessage blocks until a complete message is available. Control
	// messages are returned as soon as their frame arrives, even between
	// the fragments of a data message.
	ReadMessage(br *bufio.Reader) (Message, error)

	// WriteMessage encodes msg as a single unfragmented frame.
	WriteMessage(w io.Writer, msg Message) error
}

// frameCodec is the RFC 6455 implementation of Codec. The side determines
// the masking direction: clients mask outgoing frames and require unmasked
// incoming frames, servers the reverse. Fragmentation state carries over
// between ReadMessage calls so control frames can surface mid-message.
type frameCodec struct {
	server         bool
	maxMessageSize int64

	assembling bool
	fragType   MessageType
	fragData   []byte
}

func newFrameCodec(server bool, maxMessageSize int64) *frameCodec {
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageSize
	}
	return &frameCodec{server: server, maxMessageSize: maxMessageSize}
}

func isControl(opcode byte) bool { return opcode&0x8 != 0 }

func (c *frameCodec) ReadMessage(br *bufio.Reader) (Message, error) {
	for {
		fin, opcode, payload, err := c.readFrame(br)
		if err != nil {
			return Message{}, err
		}

		switch {
		case isControl(opcode):
			return Message{Type: MessageType(opcode), Data: payload}, nil

		case opcode == opContinuation:
			if !c.assembling {
				return Message{}, ErrUnexpectedContinuation
			}
			if int64(len(c.fragData))+int64(len(payload)) > c.maxMessageSize {
				c.reset()
				return Message{}, ErrMessageTooLarge
			}
			c.fragData = append(c.fragData, payload...)
			if !fin {
				continue
			}
			msg := Message{Type: c.fragType, Data: c.fragData}
			c.reset()
			if msg.Type == TextMessage && !utf8.Valid(msg.Data) {
				return Message{}, ErrInvalidUTF8
			}
			return msg, nil

		default:
			if c.assembling {
				return Message{}, ErrUnexpectedFrame
			}
			if fin {
				if opcode == byte(TextMessage) && !utf8.Valid(payload) {
					return Message{}, ErrInvalidUTF8
				}
				return Message{Type: MessageType(opcode), Data: payload}, nil
			}
			c.assembling = true
			c.fragType = MessageType(opcode)
			c.fragData = append([]byte(nil), payload...)
		}
	}
}

func (c *frameCodec) reset() {
	c.assembling = false
	c.fragData = nil
}

// readFrame reads one frame and unmasks its payload. The returned payload
// is a fresh slice owned by the caller.
func (c *frameCodec) readFrame(br *bufio.Reader) (fin bool, opcode byte, payload []byte, err error) {
	var header [2]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return false, 0, nil, err
	}

	fin = header[0]&0x80 != 0
	opcode = header[0] & 0x0f
	masked := header[1]&0x80 != 0

	if header[0]&0x70 != 0 {
		return false, 0, nil, ErrUnsupportedExtensions
	}
	switch opcode {
	case opContinuation, byte(TextMessage), byte(BinaryMessage),
		byte(CloseMessage), byte(PingMessage), byte(PongMessage):
	default:
		return false, 0, nil, fmt.Errorf("%w: %x", ErrInvalidOpcode, opcode)
	}
	if c.server && !masked {
		return false, 0, nil, ErrUnmaskedFrame
	}
	if !c.server && masked {
		return false, 0, nil, ErrMaskedFrame
	}

	length := int64(header[1] & 0x7f)
	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(br, ext[:]); err != nil {
			return false, 0, nil, err
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(br, ext[:]); err != nil {
			return false, 0, nil, err
		}
		v := binary.BigEndian.Uint64(ext[:])
		if v > math.MaxInt64 {
			return false, 0, nil, ErrMessageTooLarge
		}
		length = int64(v)
	}

	if isControl(opcode) {
		if !fin {
			return false, 0, nil, ErrControlFragmented
		}
		if length > maxControlPayload {
			return false, 0, nil, ErrControlTooLarge
		}
	} else if length > c.maxMessageSize {
		return false, 0, nil, ErrMessageTooLarge
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(br, maskKey[:]); err != nil {
			return false, 0, nil, err
		}
	}

	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return false, 0, nil, err
		}
		if masked {
			maskBytes(maskKey, 0, payload)
		}
	}
	return fin, opcode, payload, nil
}

func (c *frameCodec) WriteMessage(w io.Writer, msg Message) error {
	switch msg.Type {
	case TextMessage, BinaryMessage, CloseMessage, PingMessage, PongMessage:
	default:
		return fmt.Errorf("%w: %x", ErrInvalidOpcode, byte(msg.Type))
	}
	if isControl(byte(msg.Type)) && len(msg.Data) > maxControlPayload {
		return ErrControlTooLarge
	}

	// The frame is assembled in one buffer and sent with one Write so a
	// transport error cannot leave a partial header on the wire between
	// calls.
	p := make([]byte, 0, maxFrameHeaderSize+len(msg.Data))
	p = append(p, 0x80|byte(msg.Type))

	masked := !c.server
	var maskBit byte
	if masked {
		maskBit = 0x80
	}
	switch n := len(msg.Data); {
	case n < 126:
		p = append(p, maskBit|byte(n))
	case n <= math.MaxUint16:
		p = append(p, maskBit|126, byte(n>>8), byte(n))
	default:
		p = append(p, maskBit|127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		p = append(p, ext[:]...)
	}

	if masked {
		var key [4]byte
		if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
			return err
		}
		p = append(p, key[:]...)
		start := len(p)
		p = append(p, msg.Data...)
		maskBytes(key, 0, p[start:])
	} else {
		p = append(p, msg.Data...)
	}

	_, err := w.Write(p)
	return err
}
