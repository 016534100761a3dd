/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package transport

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xivocommunity/cti-go-sdk/wire"
)

const defaultDialTimeout = 60 * time.Second

const tlsHandshakeTimeout = 10 * time.Second

// ErrNotConnected is returned when sending or upgrading without an
// established connection.
var ErrNotConnected = errors.New("transport: not connected")

// TCP is the plain socket transport speaking newline-delimited messages,
// optionally upgraded to TLS in-band via StartTLS.
type TCP struct {
	mu      sync.Mutex
	handler Handler
	log     zerolog.Logger

	conn      net.Conn
	upgraded  net.Conn // set by StartTLS, picked up by the read loop
	encrypted bool
	closing   bool
	gen       int // connection generation, fences stale reader events

	host string
	port int

	// DialTimeout bounds a single connection attempt. Zero means the
	// 60 second default.
	DialTimeout time.Duration
}

// NewTCP creates a TCP transport.
func NewTCP(log zerolog.Logger) *TCP {
	return &TCP{
		log:         log.With().Str("component", "transport").Logger(),
		DialTimeout: defaultDialTimeout,
	}
}

// SetHandler implements Transport.
func (t *TCP) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Connect dials the server. useTLS only records that this session expects
// a STARTTLS upgrade; the socket always starts in plaintext because the
// upgrade is negotiated in-band after the server's starttls offer.
func (t *TCP) Connect(host string, port int, useTLS bool) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return errors.New("transport: already connected")
	}
	timeout := t.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	t.host, t.port = host, port
	t.mu.Unlock()

	tracking := uuid.NewString()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	t.log.Debug().Str("tracking", tracking).Str("addr", addr).
		Bool("starttls", useTLS).Msg("dialing CTI server")

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.encrypted = false
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

// StartTLS upgrades the established plaintext connection. Certificate
// validation problems are reported as EventSSLWarning and then ignored:
// the target deployments run self-managed certificates, so a failed chain
// must not fail the session.
func (t *TCP) StartTLS() error {
	t.mu.Lock()
	conn := t.conn
	host := t.host
	handler := t.handler
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	tlsConn := tls.Client(conn, &tls.Config{
		InsecureSkipVerify: true,
		VerifyConnection: func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return nil
			}
			opts := x509.VerifyOptions{DNSName: host, Intermediates: x509.NewCertPool()}
			for _, c := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(c)
			}
			if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
				t.log.Warn().Err(err).Msg("certificate validation problem, continuing")
				if handler != nil {
					handler.OnTransportEvent(Event{Kind: EventSSLWarning, Err: err})
				}
			}
			return nil
		},
	})

	_ = tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("transport: tls handshake: %w", err)
	}
	_ = tlsConn.SetDeadline(time.Time{})

	t.mu.Lock()
	t.conn = tlsConn
	t.upgraded = tlsConn
	t.encrypted = true
	t.mu.Unlock()

	if handler != nil {
		handler.OnTransportEvent(Event{Kind: EventTLSNegotiated})
	}
	return nil
}

// Send writes one message followed by the line delimiter.
func (t *TCP) Send(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Disconnect closes the connection deliberately: the read loop exits
// without emitting EventDisconnected.
func (t *TCP) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.upgraded = nil
	t.encrypted = false
	t.closing = true
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Encrypted implements Transport.
func (t *TCP) Encrypted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encrypted
}

// takeUpgraded returns the post-STARTTLS connection once, so the read loop
// can swap its reader before issuing the next read.
func (t *TCP) takeUpgraded() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.upgraded
	t.upgraded = nil
	return c
}

func (t *TCP) emit(gen int, ev Event) {
	t.mu.Lock()
	handler := t.handler
	stale := gen != t.gen
	t.mu.Unlock()
	if handler != nil && !stale {
		handler.OnTransportEvent(ev)
	}
}

func (t *TCP) readLoop(conn net.Conn, gen int, tracking string) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// a partially received line is discarded
			t.handleReadError(gen, tracking, err)
			return
		}
		raw := []byte(strings.TrimRight(line, "\r\n"))
		if wire.IsSheet(raw) {
			t.log.Debug().Str("tracking", tracking).Int("size", len(raw)).
				Msg("incoming markup sheet")
			t.emit(gen, Event{Kind: EventSheet, Line: raw})
		} else {
			t.emit(gen, Event{Kind: EventLine, Line: raw})
		}
		// the handler may have upgraded the connection while processing
		// the last line; swap before the next read
		if c := t.takeUpgraded(); c != nil {
			conn = c
			reader = bufio.NewReader(conn)
		}
	}
}

func (t *TCP) handleReadError(gen int, tracking string, err error) {
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
	t.log.Debug().Str("tracking", tracking).Str("errorid", errid).Err(err).
		Msg("connection lost")
	t.emit(gen, Event{Kind: EventDisconnected, ErrorID: errid, Err: err})
}
