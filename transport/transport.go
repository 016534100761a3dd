/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package transport owns the server connection. It frames the inbound byte
// stream into newline-delimited messages and surfaces them, together with
// connection lifecycle changes, as a stream of events delivered to a single
// Handler. Lines are delivered synchronously from one reader context, so the
// handler may upgrade the connection (STARTTLS) between two lines without
// racing the reader.
package transport

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/xivocommunity/cti-go-sdk/ctisdk"
)

// EventKind discriminates transport events.
type EventKind string

const (
	// EventConnected fires once the socket is established.
	EventConnected EventKind = "connected"
	// EventDisconnected fires when the connection drops; ErrorID carries
	// the classified socket error id.
	EventDisconnected EventKind = "disconnected"
	// EventLine carries one framed JSON line, newline stripped.
	EventLine EventKind = "line"
	// EventSheet carries a legacy UI-markup line, forwarded verbatim
	// instead of being parsed as JSON.
	EventSheet EventKind = "sheet"
	// EventTLSNegotiated fires after a successful STARTTLS upgrade.
	EventTLSNegotiated EventKind = "tls-negotiated"
	// EventSSLWarning reports a certificate validation problem that was
	// tolerated. Self-managed certificates are the norm on CTI
	// deployments, so these never fail the connection.
	EventSSLWarning EventKind = "ssl-warning"
)

// Event is one transport notification.
type Event struct {
	Kind    EventKind
	Line    []byte
	ErrorID string
	Err     error
}

// Handler receives transport events. Events are delivered from at most one
// goroutine at a time.
type Handler interface {
	OnTransportEvent(ev Event)
}

// Transport is the connection contract shared by the TCP socket and the
// websocket gateway variant.
type Transport interface {
	// SetHandler installs the event sink. Must be called before Connect.
	SetHandler(h Handler)
	// Connect establishes the connection. For the TCP transport useTLS
	// requests the in-band STARTTLS upgrade once the server offers it;
	// for the websocket transport it selects wss.
	Connect(host string, port int, useTLS bool) error
	// StartTLS upgrades an established plaintext connection. Only legal
	// between two framed lines, i.e. from the handler.
	StartTLS() error
	// Send writes one outbound message; framing is appended as needed.
	Send(payload []byte) error
	// Disconnect closes the connection without emitting EventDisconnected.
	Disconnect() error
	// Encrypted reports whether the current connection is encrypted.
	Encrypted() bool
}

// ClassifyError maps a socket error to the error id namespace shared with
// the server-sent error catalog.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ctisdk.ErrIDHostNotFound
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ctisdk.ErrIDTimeout
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ctisdk.ErrIDConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return ctisdk.ErrIDNetwork
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ctisdk.ErrIDRemoteClosed
	}
	return ctisdk.ErrIDUnknownSocket
}
