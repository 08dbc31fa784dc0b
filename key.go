// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"io"
)

// keyGUID is the fixed GUID appended to the challenge key before hashing,
// from RFC 6455, section 1.3.
var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// computeAcceptKey returns the Sec-WebSocket-Accept value for a challenge
// key: the base64 encoding of the SHA-1 of the key concatenated with the
// protocol GUID.
func computeAcceptKey(challengeKey string) string {
	h := sha1.New()
	h.Write([]byte(challengeKey))
	h.Write(keyGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// generateChallengeKey returns a Sec-WebSocket-Key value: 16 random bytes,
// base64 encoded.
func generateChallengeKey() (string, error) {
	p := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, p); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(p), nil
}
