/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"io"
	"time"

	"github.com/xivocommunity/cti-go-sdk/ctisdk"
	"github.com/xivocommunity/cti-go-sdk/storage"
	"github.com/xivocommunity/cti-go-sdk/wire"
)

// parseCommand processes one decoded server message. Any inbound message
// resets the keepalive silence counter before anything else, including
// messages the engine otherwise ignores.
func (s *Session) parseCommand(msg wire.Message) {
	s.touch()

	if msg.Has("timenow") {
		s.mu.Lock()
		s.timeSrv = msg.Float("timenow")
		s.timeClt = time.Now()
		s.mu.Unlock()
	}

	class := msg.Class()
	processed := true

	switch class {
	case "keepalive", "availstate":
		// acks for commands previously sent
		return
	case "starttls":
		s.handleStartTLS(msg)
		return
	case "login_id":
		s.handleLoginID(msg)
	case "login_pass":
		s.handleLoginPass(msg)
	case "login_capas":
		s.handleLoginCapas(msg)
	case "disconnect":
		s.handleDisconnect(msg)
	case "getipbxlist":
		s.mu.Lock()
		s.ipbxList = msg.StringList("ipbxlist")
		s.mu.Unlock()
		s.fetchLists()
	case "getlist":
		s.handleGetlist(msg)
	case "sheet":
		s.handleSheet(msg)
	case "queueentryupdate":
		s.emit(&Notification{EventType: EventQueueEntryUpdate, Message: msg})
	case "agentlisten":
		s.emit(&Notification{EventType: EventAgentListen, Message: msg})
	case "ipbxcommand":
		if msg.Has("error_string") {
			s.popupError(msg.String("error_string"))
		} else {
			processed = false
		}
	case "serverdown":
		s.log.Warn().Str("mode", msg.String("mode")).Msg("server going down")
	case "disconn":
		s.log.Warn().Msg("server announced disconnection")
	default:
		processed = false
	}

	forwarded := s.router.Dispatch(class, msg)
	if !processed && !forwarded {
		s.log.Warn().Str("class", class).Msg("unhandled server command")
	}
}

// handleStartTLS performs the in-band TLS upgrade when offered, then
// proceeds with authentication on both branches. When this session itself
// requires encryption, a starttls acknowledgement is echoed back.
func (s *Session) handleStartTLS(msg wire.Message) {
	if msg.Has("starttls") && msg.Bool("starttls") {
		if err := s.tr.StartTLS(); err != nil {
			s.log.Error().Err(err).Msg("TLS upgrade failed")
			s.stop("starttls_failed")
			s.popupError(ctisdk.ErrIDSSLHandshake)
			s.armReconnect()
			return
		}
	}
	s.mu.Lock()
	encrypt := s.currentTarget().Encrypt
	s.mu.Unlock()
	if encrypt {
		s.SendCommand(wire.Message{"class": "starttls", "status": true})
	}
	s.authenticate()
}

func (s *Session) handleLoginID(msg wire.Message) {
	if msg.Has("error_string") {
		s.stop("login_id_error")
		s.popupError(msg.String("error_string"))
		return
	}
	s.mu.Lock()
	s.sessionID = msg.String("sessionid")
	s.state = StateAwaitingLoginPass
	s.mu.Unlock()

	s.SendCommand(wire.Message{
		"class":    "login_pass",
		"password": s.cfg.Password,
	})
}

func (s *Session) handleLoginPass(msg wire.Message) {
	if msg.Has("error_string") {
		s.stop("login_pass_error")
		s.popupError(msg.String("error_string"))
		return
	}
	capas := msg.StringList("capalist")
	capaid := pickCapability(capas, s.cfg.LoginOpt())

	s.mu.Lock()
	s.state = StateAwaitingCapabilities
	s.mu.Unlock()

	s.SendCommand(wire.Message{
		"class":  "login_capas",
		"capaid": capaid,
		"state":  s.initialPresence(),
	})
}

// pickCapability resolves the capability profile for multi-capability
// accounts: the configured preference when the server offers it, else the
// first offered profile, else "".
func pickCapability(capas []string, preferred string) string {
	switch {
	case len(capas) == 0:
		return ""
	case len(capas) == 1:
		return capas[0]
	}
	if preferred != "" {
		for _, c := range capas {
			if c == preferred {
				return preferred
			}
		}
	}
	return capas[0]
}

// initialPresence returns the presence to announce at login. With the
// presence feature off the canonical "off" sentinel is announced; otherwise
// the held presence, promoted to "on" when unset or itself the off sentinel.
func (s *Session) initialPresence() string {
	if !s.cfg.PresenceEnabled {
		return PresenceDisconnected
	}
	s.mu.Lock()
	state := s.availstate
	s.mu.Unlock()
	if state == "" || state == PresenceDisconnected {
		state = PresenceAvailable
	}
	return state
}

func (s *Session) handleLoginCapas(msg wire.Message) {
	capas := msg.Map("capas")

	s.mu.Lock()
	s.ipbxID = msg.String("ipbxid")
	s.userID = msg.String("userid")
	s.xuserID = storage.XID(s.ipbxID, s.userID)
	s.appliname = msg.String("appliname")
	s.capaxlets = msg.StringList("capaxlets")
	s.optionsUserStatus = capas.Map("userstatus")
	s.optionsPhoneStatus = capas.Map("phonestatus")
	s.preferences = capas.Map("preferences")
	s.state = StateLogged
	s.authenticatedOnce = true
	restore := s.restorePresence
	s.restorePresence = false
	s.mu.Unlock()

	s.fetchIPBXList()
	s.emit(&Notification{EventType: EventLogged, Message: msg})
	s.startKeepalive()

	if restore {
		s.SetPresence(s.Availstate())
	}
}

func (s *Session) handleDisconnect(msg wire.Message) {
	s.log.Warn().Str("type", msg.String("type")).Msg("server-initiated disconnect")
	forced := msg.String("type") == "force"
	if forced {
		s.mu.Lock()
		s.forcedDisconnect = true
		s.mu.Unlock()
	}
	s.stop("server_disconnect")
	if forced {
		s.popupError(ctisdk.ErrIDForceDisconnected)
	} else {
		s.popupError(ctisdk.ErrIDDisconnected)
	}
}

// fetchIPBXList asks for the reachable PBX ids; the answer triggers the bulk
// list fetch.
func (s *Session) fetchIPBXList() {
	s.SendCommand(wire.Message{"class": "getipbxlist"})
}

// fetchLists seeds the entity lists after login: the local user's config
// first, then a listid request per kind per reachable PBX.
func (s *Session) fetchLists() {
	s.mu.Lock()
	ipbxID, userID := s.ipbxID, s.userID
	ipbxList := append([]string(nil), s.ipbxList...)
	s.mu.Unlock()

	s.SendCommand(wire.Message{
		"class":    "getlist",
		"function": "updateconfig",
		"listname": string(storage.KindUsers),
		"tipbxid":  ipbxID,
		"tid":      userID,
	})

	s.watcher.ExpectLists(len(ipbxList) * len(storage.Kinds))
	for _, ipbx := range ipbxList {
		for _, kind := range storage.Kinds {
			s.SendCommand(wire.Message{
				"class":    "getlist",
				"function": "listid",
				"listname": string(kind),
				"tipbxid":  ipbx,
			})
		}
	}
}

func (s *Session) handleGetlist(msg wire.Message) {
	listname := msg.String("listname")
	ipbxID := msg.String("tipbxid")
	kind := storage.Kind(listname)

	switch msg.Function() {
	case "listid":
		ids := msg.StringList("list")
		s.handleListID(kind, ipbxID, ids)
	case "delconfig":
		ids := msg.StringList("list")
		s.handleDelConfig(kind, ipbxID, ids)
	case "updateconfig":
		id := msg.String("tid")
		s.handleUpdateConfig(kind, ipbxID, id, msg.Map("config"))
	case "updatestatus":
		id := msg.String("tid")
		s.handleUpdateStatus(kind, ipbxID, id, msg.Map("status"))
	case "addconfig":
		ids := msg.StringList("list")
		s.handleAddConfig(kind, ipbxID, ids)
	default:
		s.log.Warn().Str("function", msg.Function()).Msg("unknown getlist function")
	}
}

func (s *Session) handleListID(kind storage.Kind, ipbxID string, ids []string) {
	if !storage.KnownKind(string(kind)) {
		s.log.Warn().Str("listname", string(kind)).Msg("listid for unknown list")
		return
	}
	xids := make([]string, len(ids))
	for i, id := range ids {
		xids[i] = storage.XID(ipbxID, id)
	}
	s.watcher.WatchList(kind, xids)
	for _, id := range ids {
		s.store.Upsert(kind, ipbxID, id)
	}
	s.requestListConfig(kind, ipbxID, ids)
}

// handleDelConfig removes entities in three strictly ordered phases:
// removing notifications while the entities are still readable, then the
// removals, then removed notifications.
func (s *Session) handleDelConfig(kind storage.Kind, ipbxID string, ids []string) {
	for _, id := range ids {
		xid := storage.XID(ipbxID, id)
		s.emit(&Notification{EventType: string(kind) + "." + VerbRemoving, XID: xid})
	}
	for _, id := range ids {
		xid := storage.XID(ipbxID, id)
		if storage.KnownKind(string(kind)) {
			s.store.Remove(kind, xid)
		}
		if kind == storage.KindQueueMembers {
			s.store.RemoveMember(xid)
		}
	}
	for _, id := range ids {
		xid := storage.XID(ipbxID, id)
		s.emit(&Notification{EventType: string(kind) + "." + VerbRemoved, XID: xid})
	}
}

func (s *Session) handleUpdateConfig(kind storage.Kind, ipbxID, id string, config wire.Message) {
	xid := storage.XID(ipbxID, id)
	if !storage.KnownKind(string(kind)) {
		s.log.Warn().Str("listname", string(kind)).Str("xid", xid).
			Msg("updateconfig for unknown list")
		return
	}
	s.store.UpdateConfig(kind, ipbxID, id, config)
	s.requestStatus(kind, ipbxID, id)
	s.emit(&Notification{EventType: string(kind) + "." + VerbConfigUpdated, XID: xid})

	if kind == storage.KindUsers && xid == s.XUserID() {
		s.emit(&Notification{EventType: EventLocalUserDefined, XID: xid})
	}
}

func (s *Session) handleUpdateStatus(kind storage.Kind, ipbxID, id string, status wire.Message) {
	xid := storage.XID(ipbxID, id)
	s.watcher.SawItem(kind, xid)

	if !storage.KnownKind(string(kind)) {
		s.log.Warn().Str("listname", string(kind)).Str("xid", xid).
			Msg("updatestatus for unknown list")
		return
	}
	s.store.UpdateStatus(kind, xid, status)
	if kind == storage.KindQueueMembers {
		s.store.UpsertMemberStatus(ipbxID, id, status)
	}

	if kind == storage.KindUsers && xid == s.XUserID() {
		if user, ok := s.store.User(xid); ok && user.Availstate() != "" {
			s.mu.Lock()
			s.availstate = user.Availstate()
			s.mu.Unlock()
		}
	}

	s.emit(&Notification{EventType: string(kind) + "." + VerbStatusUpdated, XID: xid})
}

func (s *Session) handleAddConfig(kind storage.Kind, ipbxID string, ids []string) {
	if !storage.KnownKind(string(kind)) {
		s.log.Warn().Str("listname", string(kind)).Msg("addconfig for unknown list")
		return
	}
	for _, id := range ids {
		s.store.Upsert(kind, ipbxID, id)
	}
	s.requestListConfig(kind, ipbxID, ids)
}

func (s *Session) requestListConfig(kind storage.Kind, ipbxID string, ids []string) {
	for _, id := range ids {
		s.SendCommand(wire.Message{
			"class":    "getlist",
			"function": "updateconfig",
			"listname": string(kind),
			"tipbxid":  ipbxID,
			"tid":      id,
		})
	}
}

func (s *Session) requestStatus(kind storage.Kind, ipbxID, id string) {
	s.SendCommand(wire.Message{
		"class":    "getlist",
		"function": "updatestatus",
		"listname": string(kind),
		"tipbxid":  ipbxID,
		"tid":      id,
	})
}

// handleSheet decodes a JSON-carried sheet payload: base64, optionally
// zlib-compressed with a 4-byte big-endian length prefix.
func (s *Session) handleSheet(msg wire.Message) {
	if !msg.Has("payload") {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.String("payload"))
	if err != nil {
		s.log.Warn().Err(err).Msg("sheet payload is not valid base64")
		return
	}
	if msg.Bool("compressed") {
		raw, err = uncompressSheet(raw)
		if err != nil {
			s.log.Warn().Err(err).Msg("could not uncompress sheet payload")
			return
		}
	}
	s.emit(&Notification{
		EventType: EventSheet,
		XID:       msg.String("channel"),
		Text:      string(raw),
		Message:   msg,
	})
}

// uncompressSheet inflates a qCompress-style blob: a 4-byte big-endian
// expected-length prefix followed by a zlib stream.
func uncompressSheet(blob []byte) ([]byte, error) {
	if len(blob) > 4 {
		blob = blob[4:]
	}
	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
