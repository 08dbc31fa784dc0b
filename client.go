// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/proxy"
)

var (
	// ErrNoUpgrade is returned when the handshake response is readable but
	// is not a 101 Switching Protocols response.
	ErrNoUpgrade = errors.New("socketflow: server did not switch protocols")

	// ErrInvalidAcceptKey is returned when the 101 response does not carry
	// the accept value derived from the challenge key.
	ErrInvalidAcceptKey = errors.New("socketflow: invalid Sec-WebSocket-Accept value")

	// ErrMalformedResponse is returned when the handshake response is not
	// valid UTF-8 and cannot be inspected as text.
	ErrMalformedResponse = errors.New("socketflow: malformed handshake response")
)

// maxHandshakeResponse bounds the single read used to verify the server's
// handshake response. The fixed 101 response is 129 bytes; the margin
// leaves room for servers that add a few short headers. A response longer
// than this is verified on its first bytes only, and header bytes beyond
// the read are later rejected by the frame codec.
const maxHandshakeResponse = 206

// A Dialer contains options for connecting to a WebSocket server. The zero
// value is a valid Dialer using the defaults.
type Dialer struct {
	// NetDial specifies the dial function for creating TCP connections. If
	// NetDial is nil, net.Dial is used.
	NetDial func(network, addr string) (net.Conn, error)

	// NetDialContext specifies the dial function for creating TCP
	// connections. If NetDialContext is nil, NetDial is used.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Proxy specifies a function to return a proxy for a given request, as
	// in http.Transport. If Proxy is nil or returns a nil *URL, no proxy
	// is used.
	Proxy func(*http.Request) (*url.URL, error)

	// TLSClientConfig specifies the TLS configuration to use with tls.Client.
	// If nil, the default configuration is used.
	TLSClientConfig *tls.Config

	// HandshakeTimeout specifies the duration for the handshake to complete.
	HandshakeTimeout time.Duration

	// Header specifies extra headers, such as Origin or Cookie, to send
	// with the handshake request.
	Header http.Header

	// MessageBuffer is the capacity of the connection's message channel.
	// Defaults to 20.
	MessageBuffer int

	// MaxMessageSize is the largest assembled message accepted from the
	// peer. Defaults to 32 MiB.
	MaxMessageSize int64

	// Codec overrides the RFC 6455 base framing, for connections that
	// negotiated an extension out of band. The Codec must mask in the
	// client direction. If nil, the base framing is used.
	Codec Codec
}

// DefaultDialer is a dialer with all fields set to the default values.
var DefaultDialer = &Dialer{}

// Dial opens a connection to the WebSocket server at urlStr using the
// default dialer.
func Dial(urlStr string) (*Conn, error) {
	return DefaultDialer.Dial(urlStr)
}

// Dial opens a connection to the WebSocket server at urlStr: it dials the
// host, performs the opening handshake, and returns the established
// connection.
func (d *Dialer) Dial(urlStr string) (*Conn, error) {
	return d.DialContext(context.Background(), urlStr)
}

// DialContext is like Dial, but the dial and any TLS handshake honor ctx.
// Once the handshake has completed, cancelling ctx does not affect the
// connection.
//
// The handshake response is verified from a single bounded read: the raw
// bytes must be UTF-8, must contain "101 Switching Protocols", and must
// contain the expected accept value. Response headers beyond that are not
// interpreted.
func (d *Dialer) DialContext(ctx context.Context, urlStr string) (*Conn, error) {
	if d == nil {
		d = DefaultDialer
	}

	ep, err := parseEndpoint(urlStr)
	if err != nil {
		return nil, err
	}

	challengeKey, err := generateChallengeKey()
	if err != nil {
		return nil, err
	}

	var deadline time.Time
	if d.HandshakeTimeout != 0 {
		deadline = time.Now().Add(d.HandshakeTimeout)
	}

	netDial := d.NetDialContext
	if netDial == nil && d.NetDial != nil {
		netDial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return d.NetDial(network, addr)
		}
	}
	if netDial == nil {
		netDialer := &net.Dialer{Deadline: deadline}
		netDial = netDialer.DialContext
	}

	if d.Proxy != nil {
		scheme := "http"
		if ep.secure {
			scheme = "https"
		}
		proxyURL, err := d.Proxy(&http.Request{
			Method: http.MethodGet,
			URL:    &url.URL{Scheme: scheme, Host: ep.hostPort},
			Host:   ep.hostPort,
			Header: make(http.Header),
		})
		if err != nil {
			return nil, err
		}
		if proxyURL != nil {
			forward := &netDialerFunc{fn: func(network, addr string) (net.Conn, error) {
				return netDial(ctx, network, addr)
			}}
			proxyDialer, err := proxy.FromURL(proxyURL, forward)
			if err != nil {
				return nil, err
			}
			netDial = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return proxyDialer.Dial(network, addr)
			}
		}
	}

	netConn, err := netDial(ctx, "tcp", ep.hostPort)
	if err != nil {
		return nil, err
	}

	defer func() {
		if netConn != nil {
			netConn.Close()
		}
	}()

	if err := netConn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if ep.secure {
		cfg := d.TLSClientConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: ep.host}
		} else if cfg.ServerName == "" {
			shallowCopy := *cfg
			cfg = &shallowCopy
			cfg.ServerName = ep.host
		}
		tlsConn := tls.Client(netConn, cfg)
		netConn = tlsConn
		if trace := httptrace.ContextClientTrace(ctx); trace != nil {
			err = doHandshakeWithTrace(ctx, trace, tlsConn, cfg)
		} else {
			err = doHandshake(ctx, tlsConn, cfg)
		}
		if err != nil {
			return nil, err
		}
	}

	leftover, err := clientHandshake(netConn, ep, challengeKey, d.Header)
	if err != nil {
		return nil, err
	}

	if err := netConn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}

	tconn := netConn
	if len(leftover) > 0 {
		tconn = newMergedNetConnReader(netConn, leftover)
	}
	c := newConn(tconn, bufio.NewReader(tconn), false, connConfig{
		messageBuffer:  d.MessageBuffer,
		maxMessageSize: d.MaxMessageSize,
		codec:          d.Codec,
	})
	netConn = nil // to avoid close in defer.
	return c, nil
}

// NewClient performs the client side of the opening handshake on an
// existing network connection using default options. The URL supplies the
// Host header and request-target; its host part is not dialed. On
// handshake failure the caller retains ownership of netConn.
func NewClient(netConn net.Conn, urlStr string) (*Conn, error) {
	ep, err := parseEndpoint(urlStr)
	if err != nil {
		return nil, err
	}
	challengeKey, err := generateChallengeKey()
	if err != nil {
		return nil, err
	}
	leftover, err := clientHandshake(netConn, ep, challengeKey, nil)
	if err != nil {
		return nil, err
	}
	tconn := netConn
	if len(leftover) > 0 {
		tconn = newMergedNetConnReader(netConn, leftover)
	}
	return newConn(tconn, bufio.NewReader(tconn), false, connConfig{}), nil
}

// clientHandshake writes the handshake request and verifies the response
// with one bounded read. It returns the bytes that followed the header
// terminator in that read, the first frame bytes from a server that sent
// them immediately.
func clientHandshake(conn net.Conn, ep endpoint, challengeKey string, extra http.Header) ([]byte, error) {
	if _, err := conn.Write(ep.request(challengeKey, extra)); err != nil {
		return nil, err
	}

	buf := make([]byte, maxHandshakeResponse)
	n, err := conn.Read(buf)
	if n == 0 && err != nil {
		return nil, err
	}
	raw := buf[:n]

	head := raw
	var leftover []byte
	if i := bytes.Index(raw, headerTerminator); i >= 0 {
		head = raw[:i+len(headerTerminator)]
		leftover = raw[i+len(headerTerminator):]
	}

	if !utf8.Valid(head) {
		return nil, ErrMalformedResponse
	}
	text := string(head)
	if !strings.Contains(text, "101 Switching Protocols") {
		return nil, ErrNoUpgrade
	}
	if !strings.Contains(text, computeAcceptKey(challengeKey)) {
		return nil, ErrInvalidAcceptKey
	}
	return leftover, nil
}
