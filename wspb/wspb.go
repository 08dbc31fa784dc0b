// Package wspb provides helpers for reading and writing protobuf messages
// over a socketflow connection. Protobuf messages are exchanged as binary
// WebSocket messages.
package wspb

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	socketflow "github.com/ssghost/socket-flow"
)

// Send marshals m and writes it as a binary message.
func Send(c *socketflow.Conn, m proto.Message) error {
	data, err := proto.Marshal(m)
	if err != nil {
		return fmt.Errorf("wspb: marshal: %w", err)
	}
	return c.SendBinary(data)
}

// Next reads the next data message from c and unmarshals it into m. A text
// message in the sequence is an error; control messages such as pongs are
// skipped.
func Next(c *socketflow.Conn, m proto.Message) error {
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return err
		}
		switch msg.Type {
		case socketflow.BinaryMessage:
			if err := proto.Unmarshal(msg.Data, m); err != nil {
				return fmt.Errorf("wspb: unmarshal: %w", err)
			}
			return nil
		case socketflow.TextMessage:
			return fmt.Errorf("wspb: expected binary message, got %v", msg.Type)
		}
	}
}
