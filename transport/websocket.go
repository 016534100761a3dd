/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xivocommunity/cti-go-sdk/ctisdk"
	"github.com/xivocommunity/cti-go-sdk/wire"
)

// DefaultWSPath is the endpoint path of CTI websocket gateways.
const DefaultWSPath = "/cti"

const wsHandshakeTimeout = 10 * time.Second

// WS carries the same newline-delimited protocol over a websocket gateway.
// Each text frame holds one or more protocol lines. There is no in-band
// STARTTLS here: encryption is selected up front with the wss scheme.
type WS struct {
	mu      sync.Mutex
	handler Handler
	log     zerolog.Logger

	conn      *websocket.Conn
	encrypted bool
	closing   bool
	gen       int

	// Path is the gateway endpoint path, DefaultWSPath when empty.
	Path string
}

// NewWS creates a websocket transport.
func NewWS(log zerolog.Logger) *WS {
	return &WS{
		log: log.With().Str("component", "transport-ws").Logger(),
	}
}

// SetHandler implements Transport.
func (t *WS) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Connect dials the gateway; useTLS selects wss. Certificate validation
// problems are tolerated, like on the plain socket.
func (t *WS) Connect(host string, port int, useTLS bool) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return errors.New("transport: already connected")
	}
	path := t.Path
	if path == "" {
		path = DefaultWSPath
	}
	t.mu.Unlock()

	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: path}
	tracking := uuid.NewString()
	t.log.Debug().Str("tracking", tracking).Str("url", u.String()).Msg("dialing CTI gateway")

	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
	}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", u.String(), err)
	}

	t.mu.Lock()
	t.conn = conn
	t.encrypted = useTLS
	t.closing = false
	t.gen++
	gen := t.gen
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler.OnTransportEvent(Event{Kind: EventConnected})
	}
	go t.readLoop(conn, gen, tracking)
	return nil
}

// StartTLS is a no-op: a gateway connection is either wss from the start
// or deliberately plaintext.
func (t *WS) StartTLS() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	return nil
}

// Send writes one message as a single text frame.
func (t *WS) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Disconnect closes the gateway connection deliberately.
func (t *WS) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.encrypted = false
	t.closing = true
	t.mu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected by client"))
		return conn.Close()
	}
	return nil
}

// Encrypted implements Transport.
func (t *WS) Encrypted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encrypted
}

func (t *WS) emit(gen int, ev Event) {
	t.mu.Lock()
	handler := t.handler
	stale := gen != t.gen
	t.mu.Unlock()
	if handler != nil && !stale {
		handler.OnTransportEvent(ev)
	}
}

func (t *WS) readLoop(conn *websocket.Conn, gen int, tracking string) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			deliberate := t.closing || gen != t.gen
			if !deliberate {
				t.conn = nil
				t.encrypted = false
			}
			t.mu.Unlock()
			if deliberate {
				return
			}
			errid := ClassifyError(err)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				errid = ctisdk.ErrIDRemoteClosed
			}
			t.log.Debug().Str("tracking", tracking).Str("errorid", errid).Err(err).
				Msg("gateway connection lost")
			t.emit(gen, Event{Kind: EventDisconnected, ErrorID: errid, Err: err})
			return
		}
		// a frame may batch several protocol lines
		for _, raw := range bytes.Split(message, []byte("\n")) {
			raw = bytes.TrimRight(raw, "\r")
			if len(raw) == 0 {
				continue
			}
			if wire.IsSheet(raw) {
				t.emit(gen, Event{Kind: EventSheet, Line: raw})
			} else {
				t.emit(gen, Event{Kind: EventLine, Line: raw})
			}
		}
	}
}
