/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package session implements the CTI session engine: the login handshake
// with optional STARTTLS upgrade, server-pushed list maintenance, keepalive
// liveness and automatic reconnection. A Session sits between a transport
// and the embedding application, which observes it through notifications and
// the entity store and drives it through command methods.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xivocommunity/cti-go-sdk/ctisdk"
	"github.com/xivocommunity/cti-go-sdk/router"
	"github.com/xivocommunity/cti-go-sdk/storage"
	"github.com/xivocommunity/cti-go-sdk/transport"
	"github.com/xivocommunity/cti-go-sdk/wire"
)

// State is the session engine's connection state.
type State string

const (
	StateDisconnected         State = "disconnected"
	StateConnecting           State = "connecting"
	StateTLSHandshake         State = "tls-handshake"
	StateAwaitingLoginID      State = "awaiting-login_id"
	StateAwaitingLoginPass    State = "awaiting-login_pass"
	StateAwaitingCapabilities State = "awaiting-capabilities"
	StateLogged               State = "logged"
)

// PresenceAvailable and PresenceDisconnected are the canonical "on" and
// "off" presence sentinels.
const (
	PresenceAvailable    = "available"
	PresenceDisconnected = "disconnected"
)

// Session is one CTI login session. Transport events, timer fires and
// application commands may arrive from different goroutines; the session
// serializes its own state behind a mutex, while the entity store carries
// its own synchronization for concurrent reads.
type Session struct {
	cfg      *ctisdk.Config
	settings *ctisdk.Settings
	log      zerolog.Logger

	tr       transport.Transport
	store    *storage.Store
	watcher  *initWatcher
	router   *router.Router
	notifier *notifier

	mu    sync.Mutex
	state State

	sessionID string
	ipbxID    string
	userID    string
	xuserID   string
	appliname string
	capaxlets []string
	ipbxList  []string

	optionsUserStatus  wire.Message
	optionsPhoneStatus wire.Message
	preferences        wire.Message

	availstate        string
	restorePresence   bool
	pendingKeepalive  int
	authenticatedOnce bool
	forcedDisconnect  bool
	usingBackup       bool

	// clock skew sampled from timenow fields, last-write-wins
	timeSrv float64
	timeClt time.Time

	keepaliveTimer *time.Timer
	reconnectTimer *time.Timer
}

// New creates a session over the given transport. settings may be nil when
// the embedder does not persist a profile.
func New(cfg *ctisdk.Config, tr transport.Transport, settings *ctisdk.Settings) *Session {
	if cfg == nil {
		cfg = ctisdk.DefaultConfig()
	}
	log := cfg.Logger.With().Str("component", "session").Logger()
	s := &Session{
		cfg:        cfg,
		settings:   settings,
		log:        log,
		tr:         tr,
		store:      storage.NewStore(),
		router:     router.New(cfg.Logger),
		notifier:   newNotifier(),
		state:      StateDisconnected,
		availstate: cfg.Availstate,
	}
	if s.availstate == "" {
		s.availstate = PresenceAvailable
	}
	s.watcher = newInitWatcher(
		func() { s.emit(&Notification{EventType: EventInitializing}) },
		func() { s.emit(&Notification{EventType: EventInitialized}) },
	)
	tr.SetHandler(s)
	return s
}

// Store exposes the entity store for reads by the embedding application.
func (s *Session) Store() *storage.Store { return s.store }

// Router exposes the command router for feature-module registration.
func (s *Session) Router() *router.Router { return s.router }

// On registers a notification handler and returns the function that
// unregisters it.
func (s *Session) On(eventType string, handler NotificationHandler) func() {
	return s.notifier.On(eventType, handler)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the server-assigned session id, "" before login.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// XUserID returns the logged-in user's composite id, "" before login.
func (s *Session) XUserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xuserID
}

// Appliname returns the application name announced by the server at login.
func (s *Session) Appliname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appliname
}

// Capaxlets returns the xlet capability list granted at login.
func (s *Session) Capaxlets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.capaxlets...)
}

// OptionsUserStatus returns the per-capability user-status option map
// granted at login.
func (s *Session) OptionsUserStatus() wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optionsUserStatus
}

// OptionsPhoneStatus returns the per-capability phone-status option map
// granted at login.
func (s *Session) OptionsPhoneStatus() wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optionsPhoneStatus
}

// Preferences returns the server-side preferences merged in at login.
func (s *Session) Preferences() wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferences
}

// Availstate returns the currently held presence value.
func (s *Session) Availstate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availstate
}

// Start connects to the configured server and begins the login sequence.
// Connection failures are surfaced as notifications, not returned, so the
// reconnect path and the manual path share one code path.
func (s *Session) Start() {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		s.log.Warn().Str("state", string(s.state)).Msg("start ignored, session already active")
		return
	}
	s.state = StateConnecting
	s.forcedDisconnect = false
	target := s.currentTarget()
	s.mu.Unlock()

	s.log.Info().Str("server", target.Address).Int("port", target.Port).
		Bool("encrypt", target.Encrypt).Msg("connecting")

	if err := s.tr.Connect(target.Address, target.Port, target.Encrypt); err != nil {
		errid := transport.ClassifyError(err)
		s.log.Error().Err(err).Str("errorid", errid).Msg("connection failed")
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.popupError(errid)
		s.mu.Lock()
		s.usingBackup = !s.usingBackup && !s.cfg.Backup().IsZero()
		s.mu.Unlock()
		s.armReconnect()
	}
}

// Stop closes the session deliberately. When a login has succeeded at least
// once it announces the logout to the server and persists the stopper reason
// for the next login's diagnostics.
func (s *Session) Stop() {
	s.stop("disconnect")
}

func (s *Session) stop(stopper string) {
	s.mu.Lock()
	wasAuthenticated := s.authenticatedOnce
	s.authenticatedOnce = false
	availstate := s.availstate
	s.stopKeepaliveLocked()
	s.mu.Unlock()

	if wasAuthenticated {
		s.SendCommand(wire.Message{"class": "logout", "stopper": stopper})
		if s.settings != nil {
			s.settings.SaveLogoutData(stopper, availstate, time.Now())
			if err := s.settings.Save(); err != nil {
				s.log.Warn().Err(err).Msg("could not persist logout data")
			}
		}
	}

	s.tr.Disconnect()
	s.clearSession()
}

// clearSession resets all per-login state and emits delogged when the
// session was not already down.
func (s *Session) clearSession() {
	s.mu.Lock()
	wasUp := s.state != StateDisconnected
	s.state = StateDisconnected
	s.sessionID = ""
	s.ipbxID = ""
	s.userID = ""
	s.xuserID = ""
	s.appliname = ""
	s.capaxlets = nil
	s.ipbxList = nil
	s.optionsUserStatus = nil
	s.optionsPhoneStatus = nil
	s.preferences = nil
	s.pendingKeepalive = 0
	s.mu.Unlock()

	s.store.Clear()
	s.watcher.Reset()

	if wasUp {
		s.emit(&Notification{EventType: EventDelogged})
	}
}

// currentTarget alternates between the main and backup servers. Caller holds
// s.mu.
func (s *Session) currentTarget() ctisdk.Target {
	if s.usingBackup {
		if backup := s.cfg.Backup(); !backup.IsZero() {
			return backup
		}
	}
	return s.cfg.Primary()
}

// OnTransportEvent implements transport.Handler. Lines are delivered from a
// single reader context, so message processing is naturally sequential.
func (s *Session) OnTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		s.onConnected()
	case transport.EventDisconnected:
		s.onConnectionLost(ev.ErrorID)
	case transport.EventLine:
		msg, err := wire.Decode(ev.Line)
		if err != nil {
			s.log.Warn().Err(err).Bytes("line", ev.Line).Msg("dropping malformed line")
			return
		}
		s.parseCommand(msg)
	case transport.EventSheet:
		// legacy UI-markup sheet, forwarded verbatim
		s.touch()
		s.emit(&Notification{EventType: EventSheet, Text: string(ev.Line)})
	case transport.EventTLSNegotiated:
		s.log.Info().Msg("connection upgraded to TLS")
	case transport.EventSSLWarning:
		s.log.Warn().Err(ev.Err).Msg("certificate validation problem, tolerated")
	}
}

func (s *Session) onConnected() {
	s.stopReconnect()
	s.mu.Lock()
	target := s.currentTarget()
	s.mu.Unlock()

	if target.Encrypt {
		// wait for the server's starttls offer before authenticating
		s.mu.Lock()
		s.state = StateTLSHandshake
		s.mu.Unlock()
		return
	}
	s.authenticate()
}

func (s *Session) onConnectionLost(errid string) {
	s.mu.Lock()
	state := s.state
	s.stopKeepaliveLocked()
	s.mu.Unlock()

	if state == StateDisconnected {
		return
	}
	s.log.Warn().Str("errorid", errid).Str("state", string(state)).Msg("connection lost")
	s.clearSession()
	if errid == "" {
		errid = ctisdk.ErrIDRemoteClosed
	}
	s.popupError(errid)
	s.mu.Lock()
	s.usingBackup = !s.usingBackup && !s.cfg.Backup().IsZero()
	s.mu.Unlock()
	s.armReconnect()
}

// authenticate sends login_id and replays the previous logout's stopper and
// timestamp for server-side diagnostics.
func (s *Session) authenticate() {
	s.stopReconnect()
	s.mu.Lock()
	s.state = StateAwaitingLoginID
	s.mu.Unlock()

	cmd := wire.Message{
		"class":       "login_id",
		"userlogin":   s.cfg.LoginSimple(),
		"company":     ctisdk.Company,
		"ident":       s.cfg.Ident,
		"xivoversion": ctisdk.ProtocolVersion,
	}
	var stopper, datetime string
	if s.settings != nil {
		stopper, datetime = s.settings.TakeLogoutData()
	}
	cmd["lastlogout-stopper"] = stopper
	cmd["lastlogout-datetime"] = datetime
	s.SendCommand(cmd)
}

// touch resets the keepalive silence counter. Any inbound message counts as
// proof of life, not just keepalive acknowledgements.
func (s *Session) touch() {
	s.mu.Lock()
	s.pendingKeepalive = 0
	s.mu.Unlock()
}

// startKeepalive arms the periodic liveness check. Caller must not hold s.mu.
func (s *Session) startKeepalive() {
	interval := s.cfg.KeepaliveInterval
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopKeepaliveLocked()
	s.pendingKeepalive = 0
	s.keepaliveTimer = time.AfterFunc(interval, s.keepaliveTick)
}

func (s *Session) stopKeepaliveLocked() {
	if s.keepaliveTimer != nil {
		s.keepaliveTimer.Stop()
		s.keepaliveTimer = nil
	}
}

// keepaliveTick runs once per keepalive interval. A still-pending keepalive
// means a full interval passed without any inbound message: the server is
// considered gone.
func (s *Session) keepaliveTick() {
	s.mu.Lock()
	if s.state != StateLogged {
		s.mu.Unlock()
		return
	}
	silent := s.pendingKeepalive > 0
	if !silent {
		s.pendingKeepalive++
		if s.keepaliveTimer != nil {
			s.keepaliveTimer.Reset(s.cfg.KeepaliveInterval)
		}
	} else {
		s.pendingKeepalive = 0
		s.stopKeepaliveLocked()
	}
	s.mu.Unlock()

	if silent {
		s.log.Warn().Msg("no message from server within keepalive window")
		s.stop("no_keepalive")
		s.popupError(ctisdk.ErrIDNoKeepalive)
		s.armReconnect()
		return
	}
	s.SendCommand(wire.Message{"class": "keepalive"})
}

// armReconnect schedules a single reconnection attempt unless reconnection
// is disabled or the server forced us out.
func (s *Session) armReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.TryToReconnect || s.forcedDisconnect || s.reconnectTimer != nil {
		return
	}
	s.restorePresence = true
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectInterval, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.mu.Unlock()
		s.emit(&Notification{EventType: EventTextMessage, Text: "Attempting to reconnect to server"})
		s.Start()
	})
}

func (s *Session) stopReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// TimeDelta returns the last sampled clock skew, local minus server time.
func (s *Session) TimeDelta() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeClt.IsZero() {
		return 0
	}
	return time.Duration(float64(s.timeClt.Unix())-s.timeSrv) * time.Second
}

// TimeElapsed formats the time elapsed since a server-side timestamp,
// corrected for clock skew, as "mm:ss" or "hh:mm:ss".
func (s *Session) TimeElapsed(serverTimestamp float64) string {
	now := time.Now().Add(-s.TimeDelta())
	elapsed := now.Sub(time.Unix(int64(serverTimestamp), 0))
	if elapsed < 0 {
		elapsed = 0
	}
	h := int(elapsed.Hours())
	m := int(elapsed.Minutes()) % 60
	sec := int(elapsed.Seconds()) % 60
	if h == 0 {
		return fmt.Sprintf("%02d:%02d", m, sec)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

func (s *Session) emit(n *Notification) {
	s.notifier.emit(n)
}

// popupError derives a human-readable message from the error catalog and
// routes it: login-phase errors raise connection-failed, others raise a
// text message, and fatal conditions without a retry path raise a modal.
func (s *Session) popupError(errorid string) {
	s.mu.Lock()
	target := s.currentTarget()
	forced := s.forcedDisconnect
	s.mu.Unlock()

	port := fmt.Sprintf("%d", target.Port)
	text, loginPhase := ctisdk.Describe(errorid, target.Address, port)
	s.log.Error().Str("errorid", errorid).Msg(text)

	if loginPhase {
		s.emit(&Notification{EventType: EventConnectionFailed, ErrorID: errorid, Text: text})
	}
	s.emit(&Notification{EventType: EventTextMessage, Text: "ERROR: " + text, ErrorID: errorid})
	if !s.cfg.TryToReconnect || forced {
		s.emit(&Notification{EventType: EventModalError, ErrorID: errorid, Text: text})
	}
}
