// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"encoding/json"
)

// WriteJSON writes the JSON encoding of v as a text message.
//
// Deprecated: Use c.SendJSON instead.
func WriteJSON(c *Conn, v interface{}) error {
	return c.SendJSON(v)
}

// SendJSON writes the JSON encoding of v as a text message.
func (c *Conn) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(Message{Type: TextMessage, Data: data})
}

// ReadJSON reads the next data message from c and stores the decoded
// result in v.
//
// Deprecated: Use c.ReadJSON instead.
func ReadJSON(c *Conn, v interface{}) error {
	return c.ReadJSON(v)
}

// ReadJSON reads the next data message from the connection and stores the
// decoded result in the value pointed to by v. Control messages in the
// sequence, pongs in particular, are skipped.
func (c *Conn) ReadJSON(v interface{}) error {
	for {
		msg, err := c.ReadMessage()
		if err != nil {
			return err
		}
		if msg.Type == TextMessage || msg.Type == BinaryMessage {
			return json.Unmarshal(msg.Data, v)
		}
	}
}
