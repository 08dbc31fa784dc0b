// Copyright 2019 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"bytes"
	"io"
	"strings"
)

// JoinMessages concatenates received data messages to create a single
// io.Reader. The string term is appended to each message. The reader ends
// with io.EOF when the peer closes the connection normally. The returned
// reader does not support concurrent calls to the Read method.
func JoinMessages(c *Conn, term string) io.Reader {
	return &joinReader{c: c, term: term}
}

type joinReader struct {
	c    *Conn
	term string
	r    io.Reader
}

func (r *joinReader) Read(p []byte) (int, error) {
	for r.r == nil {
		msg, err := r.c.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msg.Type != TextMessage && msg.Type != BinaryMessage {
			continue
		}
		if r.term == "" {
			r.r = bytes.NewReader(msg.Data)
		} else {
			r.r = io.MultiReader(bytes.NewReader(msg.Data), strings.NewReader(r.term))
		}
	}
	n, err := r.r.Read(p)
	if err == io.EOF {
		err = nil
		r.r = nil
	}
	return n, err
}
