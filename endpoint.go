// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrInvalidScheme is returned when a dial URL does not use the ws or
	// wss scheme.
	ErrInvalidScheme = errors.New("socketflow: URL scheme must be ws or wss")

	// ErrMissingHost is returned when a dial URL has no host component.
	ErrMissingHost = errors.New("socketflow: URL host is missing")

	errMalformedURL = errors.New("socketflow: malformed ws or wss URL")
)

// endpoint is a parsed ws or wss URL reduced to the parts the handshake
// needs: where to dial, what to put in the Host header and the TLS server
// name, and the request-target.
type endpoint struct {
	secure   bool
	host     string // host without port
	hostPort string // host with explicit port, for dialing
	path     string // request-target: path plus optional query
}

// parseEndpoint parses a URL of the form accepted by Dial.
//
// The url.Parse function is not used here because url.Parse mangles the
// path and does not default the port by scheme.
func parseEndpoint(s string) (endpoint, error) {
	// From the RFC:
	//
	// ws-URI = "ws:" "//" host [ ":" port ] path [ "?" query ]
	// wss-URI = "wss:" "//" host [ ":" port ] path [ "?" query ]
	var ep endpoint
	switch {
	case strings.HasPrefix(s, "ws://"):
		s = s[len("ws://"):]
	case strings.HasPrefix(s, "wss://"):
		ep.secure = true
		s = s[len("wss://"):]
	default:
		return ep, ErrInvalidScheme
	}

	ep.path = "/"
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		ep.path = s[i:]
		if s[i] == '?' {
			ep.path = "/" + ep.path
		}
		s = s[:i]
	}

	if s == "" {
		return ep, ErrMissingHost
	}
	if strings.Contains(s, "@") {
		// Don't bother parsing user information because user information is
		// not allowed in websocket URIs.
		return ep, errMalformedURL
	}

	ep.hostPort = s
	ep.host = s
	if i := strings.LastIndex(s, ":"); i > strings.LastIndex(s, "]") {
		ep.host = s[:i]
	} else if ep.secure {
		ep.hostPort += ":443"
	} else {
		ep.hostPort += ":80"
	}
	return ep, nil
}

// request builds the opening handshake request. The challenge key is
// written as given; extra headers, if any, follow the fixed ones.
func (ep endpoint) request(challengeKey string, extra http.Header) []byte {
	p := make([]byte, 0, 512)
	p = append(p, "GET "...)
	p = append(p, ep.path...)
	p = append(p, " HTTP/1.1\r\nHost: "...)
	p = append(p, ep.host...)
	p = append(p, "\r\nConnection: Upgrade\r\nUpgrade: websocket\r\nSec-WebSocket-Key: "...)
	p = append(p, challengeKey...)
	p = append(p, "\r\nSec-WebSocket-Version: 13\r\n"...)
	for k, vs := range extra {
		for _, v := range vs {
			p = append(p, k...)
			p = append(p, ": "...)
			p = append(p, v...)
			p = append(p, "\r\n"...)
		}
	}
	p = append(p, "\r\n"...)
	return p
}
