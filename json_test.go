// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"io"
	"reflect"
	"testing"
)

func TestJSON(t *testing.T) {
	client, server := newConnPair(t, connConfig{})

	var actual, expect struct {
		A int
		B string
	}
	expect.A = 1
	expect.B = "hello"

	if err := client.SendJSON(&expect); err != nil {
		t.Fatal("write", err)
	}
	if err := server.ReadJSON(&actual); err != nil {
		t.Fatal("read", err)
	}
	if !reflect.DeepEqual(&actual, &expect) {
		t.Fatal("equal", actual, expect)
	}
}

func TestDeprecatedJSON(t *testing.T) {
	client, server := newConnPair(t, connConfig{})

	var actual, expect struct {
		A int
		B string
	}
	expect.A = 1
	expect.B = "hello"

	if err := WriteJSON(client, &expect); err != nil {
		t.Fatal("write", err)
	}
	if err := ReadJSON(server, &actual); err != nil {
		t.Fatal("read", err)
	}
	if !reflect.DeepEqual(&actual, &expect) {
		t.Fatal("equal", actual, expect)
	}
}

func TestReadJSONSkipsPongs(t *testing.T) {
	client, server := newConnPair(t, connConfig{})

	// An unsolicited pong lands ahead of the next data message in the
	// sequence. ReadJSON must skip past it.
	if err := client.Send(Message{Type: PongMessage, Data: []byte("keepalive")}); err != nil {
		t.Fatalf("Send returned %v", err)
	}
	if err := client.SendJSON(42); err != nil {
		t.Fatalf("SendJSON returned %v", err)
	}

	var v int
	if err := server.ReadJSON(&v); err != nil {
		t.Fatalf("ReadJSON returned %v", err)
	}
	if v != 42 {
		t.Errorf("ReadJSON read %d, want 42", v)
	}
}

func TestJSONMarshalError(t *testing.T) {
	client, _ := newConnPair(t, connConfig{})

	// Channels have no JSON encoding.
	if err := client.SendJSON(make(chan int)); err == nil {
		t.Fatal("SendJSON returned nil error for a channel")
	}
}

func TestReadJSONTerminalError(t *testing.T) {
	client, server := newConnPair(t, connConfig{})

	if err := client.Close(); err != nil {
		t.Fatalf("Close returned %v", err)
	}
	var v int
	if err := server.ReadJSON(&v); err != io.EOF {
		t.Errorf("ReadJSON returned %v, want io.EOF", err)
	}
}
