// Copyright 2013 Gary Burd. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package socketflow implements the opening handshake of the WebSocket
// protocol defined in RFC 6455 and a message-channel connection model on
// top of it.
//
// Overview
//
// The Conn type represents an established WebSocket connection.
//
// A client application calls Dial to connect to a server:
//
//  conn, err := socketflow.Dial("ws://example.com/feed")
//  if err != nil {
//      log.Fatal(err)
//  }
//
// A server application owning raw network connections calls Accept on each
// accepted connection:
//
//  conn, err := socketflow.Accept(netConn)
//  if err != nil {
//      log.Println(err)
//      return
//  }
//
// A server application behind net/http uses an HTTPUpgrader instead:
//
//  var upgrader = socketflow.HTTPUpgrader{}
//
//  func handler(w http.ResponseWriter, r *http.Request) {
//      conn, err := upgrader.Upgrade(w, r, nil)
//      if err != nil {
//          log.Println(err)
//          return
//      }
//      ... Use conn to send and receive messages.
//  }
//
// Messages
//
// Received messages form a sequence consumed from the channel returned by
// the Messages method, or one at a time with ReadMessage. The sequence
// ends without an error item when the peer closes the connection normally;
// any other ending delivers one terminal error item. After the terminal
// item the channel is closed and ReadMessage returns io.EOF forever. The
// following example shows how to echo messages:
//
//  for in := range conn.Messages() {
//      if in.Err != nil {
//          log.Println(in.Err)
//          break
//      }
//      if err := conn.Send(in.Msg); err != nil {
//          break
//      }
//  }
//
// Received pings are answered with pongs on the connection's read task and
// are not part of the sequence. Pongs from the peer are delivered in the
// sequence.
//
// The WebSocket protocol distinguishes between text and binary data
// messages. Text messages are interpreted as UTF-8 encoded text and are
// validated on receipt. It is the application's responsibility to send
// valid UTF-8 in text messages.
//
// Concurrency
//
// One background task per connection owns the read half of the transport.
// The send methods may be called from any number of goroutines; each call
// writes one whole frame under the connection's write lock. Close may be
// called concurrently with everything else and closes the transport
// exactly once.
//
// Handshake limitations
//
// The client verifies the handshake response from a single bounded read of
// 206 bytes without parsing it as HTTP: the response must contain the
// status line substring and the expected accept value. A server that pads
// the response beyond the read is verified on the first bytes only, and
// any remaining header bytes are rejected by the frame codec. The raw
// Accept path extracts the challenge key by its literal header label and
// so rejects clients that spell the header in unusual case; HTTPUpgrader
// and FastHTTPUpgrader do full header handling. Extension negotiation is
// not supported: frames with RSV bits set end the sequence with an error.
// A custom Codec can be supplied where an extension must be spoken.
package socketflow
