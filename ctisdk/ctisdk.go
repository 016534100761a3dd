/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package ctisdk holds the shared configuration and error taxonomy for the
// CTI client SDK. The session engine, transports and the probe binary all
// consume the Config defined here; persistence of the user profile lives in
// Settings.
package ctisdk

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProtocolVersion is the CTI protocol version announced in login_id.
const ProtocolVersion = "2.2"

// Company is the vendor identifier announced in login_id.
const Company = "xivo"

// Target is one server connection triple. Encrypt selects the in-band
// STARTTLS upgrade before login.
type Target struct {
	Address string
	Port    int
	Encrypt bool
}

// IsZero reports whether the target is unset.
func (t Target) IsZero() bool {
	return t.Address == ""
}

// Config holds the configuration for a CTI session.
type Config struct {
	// Main server connection triple.
	Address string
	Port    int
	Encrypt bool

	// Optional backup server, tried on alternate connection attempts.
	BackupAddress string
	BackupPort    int
	BackupEncrypt bool

	// Login is the raw user login. A "%profile" suffix selects the
	// preferred capability profile for multi-capability accounts.
	Login    string
	Password string

	// Ident describes the client host (OS info) in login_id.
	Ident string

	// KeepaliveInterval is the liveness window: one keepalive is sent per
	// interval, and a full interval of silence tears the session down.
	KeepaliveInterval time.Duration

	// TryToReconnect arms an automatic reconnect timer after a connection
	// drop. ReconnectInterval is the delay between attempts.
	TryToReconnect    bool
	ReconnectInterval time.Duration

	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration

	// PresenceEnabled gates the presence feature. When disabled the
	// canonical "off" presence is announced at login.
	PresenceEnabled bool

	// Availstate is the initial presence to restore, usually carried over
	// from the persisted settings profile.
	Availstate string

	// Logger for SDK operations. Defaults to a no-op logger so the SDK is
	// silent unless the embedder injects one.
	Logger zerolog.Logger
}

// DefaultConfig returns a configuration with the stock server defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           "demo.xivo.io",
		Port:              5003,
		Encrypt:           true,
		BackupPort:        5003,
		BackupEncrypt:     true,
		KeepaliveInterval: 120 * time.Second,
		ReconnectInterval: 20 * time.Second,
		ConnectTimeout:    60 * time.Second,
		PresenceEnabled:   true,
		Availstate:        "available",
		Logger:            zerolog.Nop(),
	}
}

// Primary returns the main server target.
func (c *Config) Primary() Target {
	return Target{Address: c.Address, Port: c.Port, Encrypt: c.Encrypt}
}

// Backup returns the backup server target, which may be zero.
func (c *Config) Backup() Target {
	return Target{Address: c.BackupAddress, Port: c.BackupPort, Encrypt: c.BackupEncrypt}
}

// LoginSimple returns the login with any "%profile" suffix stripped.
func (c *Config) LoginSimple() string {
	simple, _, _ := strings.Cut(c.Login, "%")
	return strings.TrimSpace(simple)
}

// LoginOpt returns the "%profile" suffix of the login, or "".
func (c *Config) LoginOpt() string {
	_, opt, _ := strings.Cut(c.Login, "%")
	return strings.TrimSpace(opt)
}
