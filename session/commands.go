/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"strings"

	"github.com/xivocommunity/cti-go-sdk/wire"
)

// SendCommand encodes and sends one command map, returning the assigned
// command correlation id. Commands without a class field are rejected by
// the codec; send failures are logged, not returned, because the caller
// cannot act on them beyond what the disconnect path already does.
func (s *Session) SendCommand(cmd wire.Message) string {
	payload, commandid, err := wire.Encode(cmd)
	if err != nil {
		s.log.Warn().Err(err).Msg("refusing to send malformed command")
		return ""
	}
	if err := s.tr.Send(payload); err != nil {
		s.log.Warn().Err(err).Str("class", cmd.Class()).Msg("send failed")
		return ""
	}
	return commandid
}

// IpbxCommand wraps a command map into an ipbxcommand envelope. Maps
// without a "command" field are dropped.
func (s *Session) IpbxCommand(cmd wire.Message) {
	if !cmd.Has("command") {
		s.log.Warn().Msg("ipbxcommand without a command field")
		return
	}
	full := wire.Message{"class": "ipbxcommand"}
	for k, v := range cmd {
		full[k] = v
	}
	s.SendCommand(full)
}

// Dial originates a call to the given destination.
func (s *Session) Dial(destination string) {
	s.IpbxCommand(wire.Message{
		"command":     "dial",
		"destination": destination,
	})
}

// SetPresence announces a presence change for the logged-in user and
// records it as the held presence.
func (s *Session) SetPresence(presence string) {
	s.mu.Lock()
	s.availstate = presence
	ipbxID, userID := s.ipbxID, s.userID
	s.mu.Unlock()

	s.SendCommand(wire.Message{
		"class":      "availstate",
		"availstate": presence,
		"ipbxid":     ipbxID,
		"userid":     userID,
	})
}

// MeetmeAction sends a conference-room action; functionargs is a
// space-separated argument string.
func (s *Session) MeetmeAction(function, functionargs string) {
	s.IpbxCommand(wire.Message{
		"command":      "meetme",
		"function":     function,
		"functionargs": strings.Split(functionargs, " "),
	})
}

// AgentAction sends an agent state command (login, logout, pause...) for
// the logged-in user's agent.
func (s *Session) AgentAction(command, phonenumber string) {
	cmd := wire.Message{
		"command":  command,
		"agentids": "agent:special:me",
	}
	if phonenumber != "" {
		cmd["agentphonenumber"] = phonenumber
	}
	s.IpbxCommand(cmd)
}

// Subscribe registers interest in a server-side event stream, e.g.
// "meetme_update".
func (s *Session) Subscribe(message string) {
	s.SendCommand(wire.Message{
		"class":   "subscribe",
		"message": message,
	})
}
