package socketflow

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ErrConnectionClosed is returned by send methods after the connection has
// been closed, locally or by the peer.
var ErrConnectionClosed = errors.New("socketflow: connection closed")

const (
	// defaultMessageBuffer is the capacity of the incoming message channel.
	// The read task stalls when the application falls this far behind.
	defaultMessageBuffer = 20

	// closeWriteWait bounds the close frame write in Close so a stalled
	// peer cannot block shutdown.
	closeWriteWait = 5 * time.Second
)

// Incoming is one item of the received message sequence: a message, or the
// terminal error that ended the sequence. At most one of the fields is set.
type Incoming struct {
	Msg Message
	Err error
}

// Conn is a WebSocket connection after a completed opening handshake.
//
// A background task owns the read side: it assembles messages, answers
// pings, and delivers everything else to the channel returned by Messages.
// The sequence ends without an error item when the peer closes normally and
// with a terminal error item otherwise; after either, the channel is closed.
//
// Send methods may be called concurrently with each other and with reads.
// Conn methods must not be called on a nil Conn.
type Conn struct {
	conn        net.Conn
	br          *bufio.Reader
	server      bool
	codec       Codec
	subprotocol string

	// wmu serializes frame writes from application sends, pong replies and
	// close frames.
	wmu sync.Mutex

	incoming chan Incoming

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// connConfig carries per-connection options from the handshake entry
// points. Zero values select the package defaults.
type connConfig struct {
	messageBuffer  int
	maxMessageSize int64
	codec          Codec
	subprotocol    string
}

// newConn wraps a connection whose opening handshake has completed and
// starts the read task. br must be positioned at the first frame byte.
func newConn(netConn net.Conn, br *bufio.Reader, server bool, cfg connConfig) *Conn {
	if cfg.messageBuffer <= 0 {
		cfg.messageBuffer = defaultMessageBuffer
	}
	codec := cfg.codec
	if codec == nil {
		codec = newFrameCodec(server, cfg.maxMessageSize)
	}
	c := &Conn{
		conn:        netConn,
		br:          br,
		server:      server,
		codec:       codec,
		subprotocol: cfg.subprotocol,
		incoming:    make(chan Incoming, cfg.messageBuffer),
		closed:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Subprotocol returns the negotiated protocol for the connection.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// NetConn returns the underlying connection that is wrapped by c. Writing
// to or reading from this connection corrupts the WebSocket stream.
func (c *Conn) NetConn() net.Conn { return c.conn }

// Messages returns the received message sequence. The channel is closed
// after the terminal item; see Conn for the close conventions. All frame
// reading happens on the connection's read task, so the channel must be
// drained for the connection to make progress once the buffer fills.
func (c *Conn) Messages() <-chan Incoming { return c.incoming }

// ReadMessage returns the next message from the sequence. It returns
// io.EOF after the sequence ended with a normal close, and the terminal
// error otherwise.
func (c *Conn) ReadMessage() (Message, error) {
	in, ok := <-c.incoming
	if !ok {
		return Message{}, io.EOF
	}
	if in.Err != nil {
		return Message{}, in.Err
	}
	return in.Msg, nil
}

// Send writes msg to the peer. Send may be called concurrently; each call
// writes one whole frame. A failed Send reports the error to its caller
// only and does not tear down the connection.
func (c *Conn) Send(msg Message) error { return c.writeMessage(msg) }

// SendText sends s as a text message.
func (c *Conn) SendText(s string) error {
	return c.writeMessage(Message{Type: TextMessage, Data: []byte(s)})
}

// SendBinary sends p as a binary message.
func (c *Conn) SendBinary(p []byte) error {
	return c.writeMessage(Message{Type: BinaryMessage, Data: p})
}

// Ping sends a ping frame. The peer's pong arrives in the message
// sequence.
func (c *Conn) Ping(data []byte) error {
	return c.writeMessage(Message{Type: PingMessage, Data: data})
}

func (c *Conn) writeMessage(msg Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return c.codec.WriteMessage(c.conn, msg)
}

// Close sends a close frame with code CloseNormalClosure and closes the
// underlying connection. Closing an already closed connection is a no-op
// returning nil.
func (c *Conn) Close() error {
	if c.isClosed() {
		return nil
	}
	// Best effort. The peer may be gone, and a writer stalled on a full
	// send buffer is released by the deadline.
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteWait))
	c.wmu.Lock()
	_ = c.codec.WriteMessage(c.conn, Message{Type: CloseMessage, Data: FormatCloseMessage(CloseNormalClosure, "")})
	c.wmu.Unlock()
	return c.closeTransport()
}

// closeTransport closes the underlying connection exactly once. Both the
// read task and Close converge here.
func (c *Conn) closeTransport() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// deliver queues an item for the application. It returns false when the
// connection was closed before the item could be handed off; the item is
// dropped in that case.
func (c *Conn) deliver(in Incoming) bool {
	select {
	case c.incoming <- in:
		return true
	case <-c.closed:
		return false
	}
}

// readLoop is the connection's read task. It exits on the peer's close
// frame, on a terminal error, or when the connection is closed locally,
// and then closes the transport and the message channel.
func (c *Conn) readLoop() {
	defer func() {
		c.closeTransport()
		close(c.incoming)
	}()

	for {
		msg, err := c.codec.ReadMessage(c.br)
		if err != nil {
			// A read error after a local close is the close tearing down
			// the transport, not a peer failure.
			if c.isClosed() {
				return
			}
			c.deliver(Incoming{Err: err})
			return
		}

		switch msg.Type {
		case PingMessage:
			if err := c.writeMessage(Message{Type: PongMessage, Data: msg.Data}); err != nil {
				if !c.isClosed() {
					c.deliver(Incoming{Err: err})
				}
				return
			}

		case CloseMessage:
			ce := parseClosePayload(msg.Data)
			_ = c.writeMessage(Message{Type: CloseMessage, Data: FormatCloseMessage(ce.Code, "")})
			if ce.Code != CloseNormalClosure && ce.Code != CloseNoStatusReceived {
				c.deliver(Incoming{Err: ce})
			}
			return

		default:
			if !c.deliver(Incoming{Msg: msg}) {
				return
			}
		}
	}
}
