package socketflow

import (
	"net"
)

// mergedConnReader replays bytes that were read past the end of the
// handshake before handing reads off to the underlying connection. The
// handshake readers work on raw chunks, so frame bytes arriving in the
// same segment as the final header bytes land in their buffers; wrapping
// the connection keeps those bytes at the front of the stream.
type mergedConnReader struct {
	net.Conn
	unread []byte
}

func newMergedNetConnReader(conn net.Conn, unread []byte) net.Conn {
	return &mergedConnReader{
		Conn:   conn,
		unread: unread,
	}
}

func (m *mergedConnReader) Read(b []byte) (n int, err error) {
	if len(m.unread) > 0 {
		n = copy(b, m.unread)
		m.unread = m.unread[n:]
		return n, nil
	}
	return m.Conn.Read(b)
}
