// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"bufio"
	"errors"
	"net/http"
	"time"
)

// HandshakeError describes an error with the handshake from the peer.
type HandshakeError struct {
	message string
}

func (e HandshakeError) Error() string { return e.message }

// HTTPUpgrader upgrades an HTTP server connection to the WebSocket
// protocol. Unlike Acceptor it works behind net/http, with the request
// already parsed, and so can check the upgrade headers properly and
// negotiate a subprotocol. The zero value is a valid HTTPUpgrader.
type HTTPUpgrader struct {
	// HandshakeTimeout specifies the duration for writing the handshake
	// response.
	HandshakeTimeout time.Duration

	// Subprotocols specifies the server's supported protocols in order of
	// preference. If Subprotocols is nil, then Upgrade does not negotiate
	// a subprotocol.
	Subprotocols []string

	// Error specifies the function for generating HTTP error responses. If
	// Error is nil, then http.Error is used to generate the HTTP response.
	Error func(w http.ResponseWriter, r *http.Request, status int, reason error)

	// CheckOrigin returns true if the request Origin header is acceptable.
	// If CheckOrigin is nil, then a safe default is used: requests are
	// rejected when the Origin host is present and not equal to the
	// request Host.
	CheckOrigin func(r *http.Request) bool

	// MessageBuffer is the capacity of the upgraded connection's message
	// channel. Defaults to 20.
	MessageBuffer int

	// MaxMessageSize is the largest assembled message accepted from the
	// peer. Defaults to 32 MiB.
	MaxMessageSize int64

	// Codec overrides the RFC 6455 base framing, for connections that
	// negotiated an extension out of band. If nil, the base framing is
	// used.
	Codec Codec
}

func (u *HTTPUpgrader) returnError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	if u.Error != nil {
		u.Error(w, r, status, reason)
	} else {
		http.Error(w, reason.Error(), status)
	}
}

// selectSubprotocol picks the first of the server's protocols requested by
// the client, or the value from responseHeader when the application
// negotiates on its own.
func (u *HTTPUpgrader) selectSubprotocol(r *http.Request, responseHeader http.Header) string {
	if u.Subprotocols != nil {
		clientProtocols := Subprotocols(r)
		for _, server := range u.Subprotocols {
			for _, client := range clientProtocols {
				if client == server {
					return client
				}
			}
		}
	} else if responseHeader != nil {
		return responseHeader.Get("Sec-Websocket-Protocol")
	}
	return ""
}

// Upgrade upgrades the HTTP server connection to the WebSocket protocol.
//
// The responseHeader is included in the response to the client's upgrade
// request. Use the responseHeader to specify cookies (Set-Cookie). To
// specify a subprotocol selected by the application, set Subprotocols on
// the upgrader or a Sec-Websocket-Protocol value in responseHeader.
//
// If the request is not a valid WebSocket handshake, then Upgrade returns
// an error of type HandshakeError and replies to the client with an HTTP
// error response.
//
// Request bytes the HTTP server buffered beyond the header block, frames
// from a client that did not wait for the response, are carried over to
// the upgraded connection.
func (u *HTTPUpgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*Conn, error) {
	if r.Method != http.MethodGet {
		err := HandshakeError{"socketflow: request method is not GET"}
		u.returnError(w, r, http.StatusMethodNotAllowed, err)
		return nil, err
	}

	if values := r.Header["Sec-Websocket-Version"]; len(values) == 0 || values[0] != "13" {
		err := HandshakeError{"socketflow: version != 13"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	if !tokenListContainsValue(r.Header, "Connection", "upgrade") {
		err := HandshakeError{"socketflow: connection header != upgrade"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	if !tokenListContainsValue(r.Header, "Upgrade", "websocket") {
		err := HandshakeError{"socketflow: upgrade != websocket"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	}

	checkOrigin := u.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool {
			return checkSameOrigin(r.Header.Get("Origin"), r.Host)
		}
	}
	if !checkOrigin(r) {
		err := HandshakeError{"socketflow: origin not allowed"}
		u.returnError(w, r, http.StatusForbidden, err)
		return nil, err
	}

	var challengeKey string
	if values := r.Header["Sec-Websocket-Key"]; len(values) == 0 || values[0] == "" {
		err := HandshakeError{"socketflow: key missing or blank"}
		u.returnError(w, r, http.StatusBadRequest, err)
		return nil, err
	} else {
		challengeKey = values[0]
	}

	subprotocol := u.selectSubprotocol(r, responseHeader)

	h, ok := w.(http.Hijacker)
	if !ok {
		err := errors.New("socketflow: response does not implement http.Hijacker")
		u.returnError(w, r, http.StatusInternalServerError, err)
		return nil, err
	}
	netConn, rw, err := h.Hijack()
	if err != nil {
		u.returnError(w, r, http.StatusInternalServerError, err)
		return nil, err
	}

	// The HTTP server may have read past the request headers into its
	// buffer. Those bytes belong to the frame stream.
	var leftover []byte
	if n := rw.Reader.Buffered(); n > 0 {
		peeked, _ := rw.Reader.Peek(n)
		leftover = append([]byte(nil), peeked...)
	}

	p := make([]byte, 0, 256)
	p = append(p, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: "...)
	p = append(p, computeAcceptKey(challengeKey)...)
	p = append(p, "\r\n"...)
	if subprotocol != "" {
		p = append(p, "Sec-Websocket-Protocol: "...)
		p = append(p, subprotocol...)
		p = append(p, "\r\n"...)
	}
	for k, vs := range responseHeader {
		if k == "Sec-Websocket-Protocol" {
			continue
		}
		for _, v := range vs {
			p = append(p, k...)
			p = append(p, ": "...)
			for i := 0; i < len(v); i++ {
				b := v[i]
				if b <= 31 {
					// prevent response splitting.
					b = ' '
				}
				p = append(p, b)
			}
			p = append(p, "\r\n"...)
		}
	}
	p = append(p, "\r\n"...)

	if u.HandshakeTimeout > 0 {
		netConn.SetWriteDeadline(time.Now().Add(u.HandshakeTimeout))
	}
	if _, err = netConn.Write(p); err != nil {
		netConn.Close()
		return nil, err
	}
	if u.HandshakeTimeout > 0 {
		netConn.SetWriteDeadline(time.Time{})
	}

	tconn := netConn
	if len(leftover) > 0 {
		tconn = newMergedNetConnReader(netConn, leftover)
	}
	return newConn(tconn, bufio.NewReader(tconn), true, connConfig{
		messageBuffer:  u.MessageBuffer,
		maxMessageSize: u.MaxMessageSize,
		codec:          u.Codec,
		subprotocol:    subprotocol,
	}), nil
}

// IsWebSocketUpgrade returns true if the client requested upgrade to the
// WebSocket protocol.
func IsWebSocketUpgrade(r *http.Request) bool {
	return tokenListContainsValue(r.Header, "Connection", "upgrade") &&
		tokenListContainsValue(r.Header, "Upgrade", "websocket")
}

// Subprotocols returns the subprotocols requested by the client in the
// Sec-Websocket-Protocol header.
func Subprotocols(r *http.Request) []string {
	return splitProtocols(r.Header.Get("Sec-Websocket-Protocol"))
}
