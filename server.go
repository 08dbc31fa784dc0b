// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"strings"
	"time"
)

var (
	// ErrNoSecWebsocketKey is returned by Accept when no challenge key
	// could be extracted from the handshake request. Timeouts, peer
	// disconnects and oversized header blocks during the scan collapse
	// into this error: in every case no usable key arrived.
	ErrNoSecWebsocketKey = errors.New("socketflow: no Sec-WebSocket-Key in handshake request")

	// ErrInvalidHandshakeRequest is returned by Accept when the request
	// line is not a GET using HTTP/1.1.
	ErrInvalidHandshakeRequest = errors.New("socketflow: invalid handshake request")
)

const (
	defaultScanTimeout    = 10 * time.Second
	defaultMaxHeaderBytes = 16 << 10

	scanChunkSize = 512
)

var headerTerminator = []byte("\r\n\r\n")

// Acceptor performs the server side of the opening handshake on raw
// network connections, without an HTTP server in front. The zero value is
// a valid Acceptor using the defaults.
//
// The request is not parsed as HTTP. The scan accumulates raw chunks until
// the header terminator arrives and then pulls the challenge key out by
// its literal "Sec-WebSocket-Key:" label, so a client spelling the header
// in unusual case is rejected along with clients that send no key at all.
// Use HTTPUpgrader behind an HTTP server for full header handling.
type Acceptor struct {
	// ReadTimeout is the deadline applied to each read during the header
	// scan. A peer must keep bytes flowing; a stream that trickles a byte
	// within every window can stretch the scan until the size ceiling ends
	// it. Defaults to 10 seconds.
	ReadTimeout time.Duration

	// MaxHeaderBytes caps the bytes buffered while scanning for the header
	// terminator. Defaults to 16 KiB.
	MaxHeaderBytes int

	// MessageBuffer is the capacity of the accepted connection's message
	// channel. Defaults to 20.
	MessageBuffer int

	// MaxMessageSize is the largest assembled message accepted from the
	// peer. Defaults to 32 MiB.
	MaxMessageSize int64

	// Codec overrides the RFC 6455 base framing, for connections that
	// negotiated an extension out of band. The Codec must mask in the
	// server direction. If nil, the base framing is used.
	Codec Codec
}

// Accept performs the server handshake on conn using default options.
func Accept(conn net.Conn) (*Conn, error) {
	var a Acceptor
	return a.Accept(conn)
}

// Accept reads the opening handshake request from conn, answers it, and
// returns the established connection. On error the network connection is
// closed before returning.
//
// Bytes following the request in the scan buffer, frames from a client
// that did not wait for the response, stay at the front of the stream.
func (a *Acceptor) Accept(conn net.Conn) (*Conn, error) {
	timeout := a.ReadTimeout
	if timeout <= 0 {
		timeout = defaultScanTimeout
	}
	maxBytes := a.MaxHeaderBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxHeaderBytes
	}

	head, leftover, err := readHandshakeHead(conn, timeout, maxBytes)
	if err != nil {
		conn.Close()
		return nil, err
	}

	line := head
	if i := strings.Index(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	if !strings.HasPrefix(line, "GET ") || !strings.Contains(line, " HTTP/1.1") {
		conn.Close()
		return nil, ErrInvalidHandshakeRequest
	}

	key, ok := extractChallengeKey(head)
	if !ok {
		conn.Close()
		return nil, ErrNoSecWebsocketKey
	}

	p := make([]byte, 0, 160)
	p = append(p, "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: websocket\r\nSec-WebSocket-Accept: "...)
	p = append(p, computeAcceptKey(key)...)
	p = append(p, "\r\n\r\n"...)
	if _, err := conn.Write(p); err != nil {
		conn.Close()
		return nil, err
	}

	netConn := conn
	if len(leftover) > 0 {
		netConn = newMergedNetConnReader(conn, leftover)
	}
	return newConn(netConn, bufio.NewReader(netConn), true, connConfig{
		messageBuffer:  a.MessageBuffer,
		maxMessageSize: a.MaxMessageSize,
		codec:          a.Codec,
	}), nil
}

// readHandshakeHead accumulates raw chunks from conn until the header
// terminator arrives. It returns the header block including the terminator
// plus any bytes read past it. Each read gets its own deadline; the
// deadline is cleared before returning.
func readHandshakeHead(conn net.Conn, timeout time.Duration, maxBytes int) (string, []byte, error) {
	var buf []byte
	chunk := make([]byte, scanChunkSize)
	for {
		if i := bytes.Index(buf, headerTerminator); i >= 0 {
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				return "", nil, err
			}
			end := i + len(headerTerminator)
			return string(buf[:end]), buf[end:], nil
		}
		if len(buf) >= maxBytes {
			return "", nil, ErrNoSecWebsocketKey
		}
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", nil, err
		}
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil && !bytes.Contains(buf, headerTerminator) {
			// Timeout or disconnect before the header completed.
			return "", nil, ErrNoSecWebsocketKey
		}
	}
}

// extractChallengeKey finds the literal "Sec-WebSocket-Key:" label in the
// header block and returns the first whitespace-delimited token after it.
func extractChallengeKey(head string) (string, bool) {
	const label = "Sec-WebSocket-Key:"
	i := strings.Index(head, label)
	if i < 0 {
		return "", false
	}
	rest := head[i+len(label):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		rest = rest[:j]
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
