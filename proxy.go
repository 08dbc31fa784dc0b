// Copyright 2017 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package socketflow

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

// proxyDialerEx extends proxy.Dialer for dialers that know whether the hop
// to the proxy itself is TLS.
type proxyDialerEx interface {
	proxy.Dialer
	// UsesTLS indicates whether we expect to dial to a TLS proxy.
	UsesTLS() bool
}

type netDialerFunc struct {
	fn      func(network, addr string) (net.Conn, error)
	usesTLS bool
}

func (ndf *netDialerFunc) Dial(network, addr string) (net.Conn, error) {
	return ndf.fn(network, addr)
}

func (ndf *netDialerFunc) UsesTLS() bool {
	return ndf.usesTLS
}

func init() {
	proxy.RegisterDialerType("http", func(proxyURL *url.URL, forwardDialer proxy.Dialer) (proxy.Dialer, error) {
		return &httpProxyDialer{proxyURL: proxyURL, forwardDial: forwardDialer.Dial, usesTLS: false}, nil
	})
	proxy.RegisterDialerType("https", func(proxyURL *url.URL, forwardDialer proxy.Dialer) (proxy.Dialer, error) {
		fwd := forwardDialer.Dial
		if dialerEx, ok := forwardDialer.(proxyDialerEx); !ok || !dialerEx.UsesTLS() {
			tlsDialer := &tls.Dialer{
				Config:    &tls.Config{},
				NetDialer: &net.Dialer{},
			}
			fwd = tlsDialer.Dial
		}
		return &httpProxyDialer{proxyURL: proxyURL, forwardDial: fwd, usesTLS: true}, nil
	})
}

// httpProxyDialer reaches the destination through an HTTP CONNECT tunnel.
type httpProxyDialer struct {
	proxyURL    *url.URL
	forwardDial func(network, addr string) (net.Conn, error)
	usesTLS     bool
}

func (hpd *httpProxyDialer) Dial(network string, addr string) (net.Conn, error) {
	hostPort, _ := hostPortNoPort(hpd.proxyURL)
	conn, err := hpd.forwardDial(network, hostPort)
	if err != nil {
		return nil, err
	}

	connectHeader := make(http.Header)
	if user := hpd.proxyURL.User; user != nil {
		proxyUser := user.Username()
		if proxyPassword, passwordSet := user.Password(); passwordSet {
			credential := base64.StdEncoding.EncodeToString([]byte(proxyUser + ":" + proxyPassword))
			connectHeader.Set("Proxy-Authorization", "Basic "+credential)
		}
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: connectHeader,
	}

	if err := connectReq.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Read response. It's OK to use and discard buffered reader here becaue
	// the remote server does not speak until spoken to.
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if resp.StatusCode != 200 {
		conn.Close()
		f := strings.SplitN(resp.Status, " ", 2)
		return nil, errors.New(f[1])
	}
	return conn, nil
}

func (hpd *httpProxyDialer) UsesTLS() bool {
	return hpd.usesTLS
}

// hostPortNoPort returns the host with an explicit port and the bare host
// for u, defaulting the port by scheme.
func hostPortNoPort(u *url.URL) (hostPort, hostNoPort string) {
	hostPort = u.Host
	hostNoPort = u.Host
	if i := strings.LastIndex(u.Host, ":"); i > strings.LastIndex(u.Host, "]") {
		hostNoPort = hostNoPort[:i]
	} else {
		switch u.Scheme {
		case "wss", "https":
			hostPort += ":443"
		default:
			hostPort += ":80"
		}
	}
	return hostPort, hostNoPort
}
