package socketflow

import (
	"bufio"
	"bytes"
	"net"

	"github.com/valyala/fasthttp"
)

func checkSameOriginFastHTTP(ctx *fasthttp.RequestCtx) bool {
	return checkSameOrigin(string(ctx.Request.Header.Peek("Origin")), string(ctx.Host()))
}

// FastHTTPUpgrader is used to upgrade a fasthttp request into a websocket
// connection. A Handler function must be provided to receive that connection.
type FastHTTPUpgrader struct {
	// Handler receives a websocket connection after the handshake has been
	// completed. This must be provided.
	Handler func(*Conn)

	// Subprotocols specifies the server's supported protocols in order of
	// preference. If this field is set, then the upgrade negotiates a
	// subprotocol by selecting the first match in this list with a protocol
	// requested by the client.
	Subprotocols []string

	// CheckOrigin returns true if the request Origin header is acceptable. If
	// CheckOrigin is nil, the host in the Origin header must not be set or
	// must match the host of the request.
	CheckOrigin func(ctx *fasthttp.RequestCtx) bool

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

var websocketVersionBytes = []byte("13")

// UpgradeHandler handles a request for a websocket connection and does all the
// checks necessary to ensure the request is valid. If a CheckOrigin function
// was provided, it will be called, otherwise the Origin will be checked against
// the request host value. If a subprotocol has not already been set in the
// response, the best choice will be made from the values provided to the
// upgrader and from the client.
//
// Once the request has been verified and the response sent, the connection is
// hijacked and the provided Handler is called.
func (f *FastHTTPUpgrader) UpgradeHandler(ctx *fasthttp.RequestCtx) {
	if f.Handler == nil {
		panic("FastHTTPUpgrader does not have a Handler set")
	}

	if !ctx.IsGet() {
		ctx.Error("socketflow: method not GET", fasthttp.StatusMethodNotAllowed)
		return
	}

	if !bytes.Equal(ctx.Request.Header.Peek("Sec-Websocket-Version"), websocketVersionBytes) {
		ctx.Error("socketflow: version != 13", fasthttp.StatusBadRequest)
		return
	}

	if !ctx.Request.Header.ConnectionUpgrade() {
		ctx.Error("socketflow: could not find connection header with token 'upgrade'", fasthttp.StatusBadRequest)
		return
	}

	if !tokenListContains(string(ctx.Request.Header.Peek("Upgrade")), "websocket") {
		ctx.Error("socketflow: could not find upgrade header with token 'websocket'", fasthttp.StatusBadRequest)
		return
	}

	checkOrigin := f.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = checkSameOriginFastHTTP
	}
	if !checkOrigin(ctx) {
		ctx.Error("socketflow: origin not allowed", fasthttp.StatusForbidden)
		return
	}

	challengeKey := ctx.Request.Header.Peek("Sec-Websocket-Key")
	if len(challengeKey) == 0 {
		ctx.Error("socketflow: key missing or blank", fasthttp.StatusBadRequest)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusSwitchingProtocols)
	ctx.Response.Header.Set("Upgrade", "websocket")
	ctx.Response.Header.Set("Connection", "Upgrade")
	ctx.Response.Header.Set("Sec-WebSocket-Accept", computeAcceptKey(string(challengeKey)))

	// The subprotocol may have already been set in the response.
	subprotocol := string(ctx.Response.Header.Peek("Sec-Websocket-Protocol"))
	if subprotocol == "" {
		clientProtocols := splitProtocols(string(ctx.Request.Header.Peek("Sec-Websocket-Protocol")))
		for _, server := range f.Subprotocols {
			for _, client := range clientProtocols {
				if client == server {
					subprotocol = client
					break
				}
			}
			if subprotocol != "" {
				break
			}
		}
		if subprotocol != "" {
			ctx.Response.Header.Set("Sec-Websocket-Protocol", subprotocol)
		}
	}

	ctx.Hijack(func(conn net.Conn) {
		c := newConn(conn, bufio.NewReader(conn), true, connConfig{
			messageBuffer:  f.MessageBuffer,
			maxMessageSize: f.MaxMessageSize,
			codec:          f.Codec,
			subprotocol:    subprotocol,
		})
		f.Handler(c)
	})
}
