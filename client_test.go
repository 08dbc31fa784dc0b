// Copyright 2014 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

// newLocalServer starts a listener that hands each accepted connection to
// handler on its own goroutine. It returns the listener's address.
func newLocalServer(t *testing.T, handler func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(conn)
		}
	}()
	return ln.Addr().String()
}

// answerHandshake reads a handshake request from conn and answers it with a
// 101 response carrying the matching accept key. It returns the raw request
// head.
func answerHandshake(conn net.Conn) (string, bool) {
	head, _, err := readHandshakeHead(conn, 5*time.Second, defaultMaxHeaderBytes)
	if err != nil {
		return "", false
	}
	key, ok := extractChallengeKey(head)
	if !ok {
		return "", false
	}
	response := "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: websocket\r\nSec-WebSocket-Accept: " +
		computeAcceptKey(key) + "\r\n\r\n"
	if _, err := conn.Write([]byte(response)); err != nil {
		return "", false
	}
	return head, true
}

// echoFrames answers pings and echoes data messages until the peer goes
// away.
func echoFrames(conn net.Conn) {
	codec := newFrameCodec(true, 0)
	br := bufio.NewReader(conn)
	for {
		msg, err := codec.ReadMessage(br)
		if err != nil {
			return
		}
		switch msg.Type {
		case CloseMessage:
			return
		case PingMessage:
			msg.Type = PongMessage
		}
		if err := codec.WriteMessage(conn, msg); err != nil {
			return
		}
	}
}

func TestDial(t *testing.T) {
	addr := newLocalServer(t, func(conn net.Conn) {
		defer conn.Close()
		if _, ok := answerHandshake(conn); !ok {
			return
		}
		echoFrames(conn)
	})

	conn, err := Dial("ws://" + addr + "/echo")
	if err != nil {
		t.Fatalf("Dial returned %v", err)
	}
	defer conn.Close()

	if err := conn.SendText("hello"); err != nil {
		t.Fatalf("SendText returned %v", err)
	}
	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage returned %v", err)
	}
	if msg.Type != TextMessage || string(msg.Data) != "hello" {
		t.Errorf("message = %v %q, want %v %q", msg.Type, msg.Data, TextMessage, "hello")
	}
}

func TestDialPipelinedResponse(t *testing.T) {
	// The server sends its first message in the same write as the handshake
	// response. The client must not lose the frame bytes captured by its
	// response read.
	addr := newLocalServer(t, func(conn net.Conn) {
		defer conn.Close()
		head, _, err := readHandshakeHead(conn, 5*time.Second, defaultMaxHeaderBytes)
		if err != nil {
			return
		}
		key, ok := extractChallengeKey(head)
		if !ok {
			return
		}
		var buf bytes.Buffer
		buf.WriteString("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: websocket\r\nSec-WebSocket-Accept: " +
			computeAcceptKey(key) + "\r\n\r\n")
		if err := newFrameCodec(true, 0).WriteMessage(&buf, Message{Type: TextMessage, Data: []byte("early")}); err != nil {
			return
		}
		if _, err := conn.Write(buf.Bytes()); err != nil {
			return
		}
		io.Copy(io.Discard, conn)
	})

	conn, err := Dial("ws://" + addr)
	if err != nil {
		t.Fatalf("Dial returned %v", err)
	}
	defer conn.Close()

	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage returned %v", err)
	}
	if msg.Type != TextMessage || string(msg.Data) != "early" {
		t.Errorf("message = %v %q, want %v %q", msg.Type, msg.Data, TextMessage, "early")
	}
}

var dialErrorTests = []struct {
	name     string
	response string
	err      error
}{
	{"no upgrade", "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", ErrNoUpgrade},
	{"wrong accept", "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: websocket\r\nSec-WebSocket-Accept: AAAAAAAAAAAAAAAAAAAAAAAAAAA=\r\n\r\n", ErrInvalidAcceptKey},
	{"malformed", "HTTP/1.1 101\xff\xfe Switching Protocols\r\n\r\n", ErrMalformedResponse},
}

func TestDialErrors(t *testing.T) {
	for _, tt := range dialErrorTests {
		t.Run(tt.name, func(t *testing.T) {
			addr := newLocalServer(t, func(conn net.Conn) {
				defer conn.Close()
				if _, _, err := readHandshakeHead(conn, 5*time.Second, defaultMaxHeaderBytes); err != nil {
					return
				}
				conn.Write([]byte(tt.response))
			})
			if _, err := Dial("ws://" + addr); err != tt.err {
				t.Fatalf("Dial returned %v, want %v", err, tt.err)
			}
		})
	}
}

var dialBadURLTests = []struct {
	url string
	err error
}{
	{"http://example.com/", ErrInvalidScheme},
	{"ws://", ErrMissingHost},
}

func TestDialBadURL(t *testing.T) {
	for _, tt := range dialBadURLTests {
		if _, err := Dial(tt.url); err != tt.err {
			t.Errorf("Dial(%q) returned %v, want %v", tt.url, err, tt.err)
		}
	}
}

func TestDialHandshakeTimeout(t *testing.T) {
	addr := newLocalServer(t, func(conn net.Conn) {
		defer conn.Close()
		// Swallow the request and never answer.
		io.Copy(io.Discard, conn)
	})

	d := &Dialer{HandshakeTimeout: 100 * time.Millisecond}
	_, err := d.Dial("ws://" + addr)
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Dial returned %v, want a timeout error", err)
	}
}

func TestDialContextCancel(t *testing.T) {
	addr := newLocalServer(t, func(conn net.Conn) { conn.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := DefaultDialer.DialContext(ctx, "ws://"+addr); !errors.Is(err, context.Canceled) {
		t.Fatalf("DialContext returned %v, want %v", err, context.Canceled)
	}
}

func TestDialRequestFormat(t *testing.T) {
	headCh := make(chan string, 1)
	addr := newLocalServer(t, func(conn net.Conn) {
		defer conn.Close()
		head, ok := answerHandshake(conn)
		if !ok {
			return
		}
		headCh <- head
		io.Copy(io.Discard, conn)
	})

	var dialedAddr string
	d := &Dialer{
		NetDial: func(network, a string) (net.Conn, error) {
			dialedAddr = a
			return net.Dial(network, addr)
		},
		Header: http.Header{
			"Origin": []string{"http://example.com"},
			"Cookie": []string{"session=1234"},
		},
	}
	conn, err := d.Dial("ws://example.com/chat?room=7")
	if err != nil {
		t.Fatalf("Dial returned %v", err)
	}
	defer conn.Close()

	if dialedAddr != "example.com:80" {
		t.Errorf("dialed %q, want %q", dialedAddr, "example.com:80")
	}

	head := <-headCh
	if !strings.HasPrefix(head, "GET /chat?room=7 HTTP/1.1\r\n") {
		t.Errorf("request line of %q, want GET /chat?room=7 HTTP/1.1", head)
	}
	for _, want := range []string{
		"Host: example.com\r\n",
		"Connection: Upgrade\r\n",
		"Upgrade: websocket\r\n",
		"Sec-WebSocket-Version: 13\r\n",
		"Origin: http://example.com\r\n",
		"Cookie: session=1234\r\n",
	} {
		if !strings.Contains(head, want) {
			t.Errorf("request %q missing %q", head, want)
		}
	}
	if _, ok := extractChallengeKey(head); !ok {
		t.Errorf("request %q carries no challenge key", head)
	}
}

func TestNewClient(t *testing.T) {
	client, server := tcpPair(t)

	go func() {
		if _, ok := answerHandshake(server); !ok {
			return
		}
		echoFrames(server)
	}()

	conn, err := NewClient(client, "ws://example.com/live")
	if err != nil {
		t.Fatalf("NewClient returned %v", err)
	}
	defer conn.Close()

	if err := conn.SendText("ping"); err != nil {
		t.Fatalf("SendText returned %v", err)
	}
	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage returned %v", err)
	}
	if string(msg.Data) != "ping" {
		t.Errorf("message = %q, want %q", msg.Data, "ping")
	}
}

func TestNewClientBadResponse(t *testing.T) {
	client, server := tcpPair(t)

	go func() {
		if _, _, err := readHandshakeHead(server, 5*time.Second, defaultMaxHeaderBytes); err != nil {
			return
		}
		server.Write([]byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"))
	}()

	if _, err := NewClient(client, "ws://example.com/"); err != ErrNoUpgrade {
		t.Fatalf("NewClient returned %v, want %v", err, ErrNoUpgrade)
	}
	// The network connection stays with the caller on handshake failure.
	if err := client.Close(); err != nil {
		t.Errorf("Close returned %v, want nil", err)
	}
}
