/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package storage holds the live model of server-pushed telephony objects:
// users, phones, agents, queues, voicemail boxes and queue members. The
// session engine is the only writer; UI collaborators read entities through
// the Store and must not retain references across a removal or Clear.
package storage

import "fmt"

// Kind names one server-pushed list.
type Kind string

const (
	KindUsers        Kind = "users"
	KindPhones       Kind = "phones"
	KindAgents       Kind = "agents"
	KindQueues       Kind = "queues"
	KindVoiceMails   Kind = "voicemails"
	KindQueueMembers Kind = "queuemembers"
)

// Kinds lists every known list kind, in the order the login sequence
// fetches them.
var Kinds = []Kind{
	KindUsers,
	KindPhones,
	KindAgents,
	KindQueues,
	KindVoiceMails,
	KindQueueMembers,
}

// KnownKind reports whether name is one of the known list kinds. Updates
// for unknown kinds are anomalies and get dropped by the engine.
func KnownKind(name string) bool {
	for _, k := range Kinds {
		if string(k) == name {
			return true
		}
	}
	return false
}

// XID builds the composite identity "<ipbxid>/<localid>" naming an entity
// across multiple PBX backends.
func XID(ipbxID, localID string) string {
	return fmt.Sprintf("%s/%s", ipbxID, localID)
}

// Entity is one server-pushed telephony object. Identity is immutable;
// Config is replaced wholesale on each updateconfig and Status is merged
// on each updatestatus.
type Entity struct {
	ipbxID  string
	localID string
	config  map[string]interface{}
	status  map[string]interface{}
}

// NewEntity creates an entity with empty config and status.
func NewEntity(ipbxID, localID string) *Entity {
	return &Entity{
		ipbxID:  ipbxID,
		localID: localID,
		config:  make(map[string]interface{}),
		status:  make(map[string]interface{}),
	}
}

// IpbxID returns the PBX backend id.
func (e *Entity) IpbxID() string { return e.ipbxID }

// LocalID returns the id local to the PBX backend.
func (e *Entity) LocalID() string { return e.localID }

// XID returns the composite identity.
func (e *Entity) XID() string { return XID(e.ipbxID, e.localID) }

// UpdateConfig replaces the configuration wholesale.
func (e *Entity) UpdateConfig(config map[string]interface{}) {
	if config == nil {
		config = make(map[string]interface{})
	}
	e.config = config
}

// UpdateStatus merges the given keys into the status.
func (e *Entity) UpdateStatus(status map[string]interface{}) {
	for k, v := range status {
		e.status[k] = v
	}
}

// Config returns the current configuration map. The map is owned by the
// entity; callers must treat it as read-only.
func (e *Entity) Config() map[string]interface{} { return e.config }

// Status returns the current status map. The map is owned by the entity;
// callers must treat it as read-only.
func (e *Entity) Status() map[string]interface{} { return e.status }

// ConfigString returns a config value as a string, or "".
func (e *Entity) ConfigString(key string) string {
	if v, ok := e.config[key].(string); ok {
		return v
	}
	return ""
}

// StatusString returns a status value as a string, or "".
func (e *Entity) StatusString(key string) string {
	if v, ok := e.status[key].(string); ok {
		return v
	}
	return ""
}

// --- Typed views ---
//
// The wire model is loosely typed key/value data; these views name the
// fields the engine itself relies on. Feature modules are free to read the
// raw maps for everything else.

// User is a typed view over a users-list entity.
type User struct{ *Entity }

// Availstate returns the user's presence state.
func (u User) Availstate() string { return u.StatusString("availstate") }

// Fullname returns the user's display name.
func (u User) Fullname() string { return u.ConfigString("fullname") }

// PhoneList returns the xids of the user's phones.
func (u User) PhoneList() []string {
	raw, _ := u.config["linelist"].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Phone is a typed view over a phones-list entity.
type Phone struct{ *Entity }

// Number returns the phone's extension number.
func (p Phone) Number() string { return p.ConfigString("number") }

// Hintstatus returns the phone's hint status code.
func (p Phone) Hintstatus() string { return p.StatusString("hintstatus") }

// Agent is a typed view over an agents-list entity.
type Agent struct{ *Entity }

// Number returns the agent's number.
func (a Agent) Number() string { return a.ConfigString("number") }

// Queue is a typed view over a queues-list entity.
type Queue struct{ *Entity }

// Name returns the queue's name.
func (q Queue) Name() string { return q.ConfigString("name") }
