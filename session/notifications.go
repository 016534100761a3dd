/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"sync"

	"github.com/xivocommunity/cti-go-sdk/wire"
)

// Notification event types emitted by a Session. Entity events are
// "<kind>.<verb>", e.g. "users.status-updated".
const (
	EventLogged           = "logged"
	EventDelogged         = "delogged"
	EventConnectionFailed = "connection-failed"
	EventTextMessage      = "text-message"
	EventModalError       = "modal-error"
	EventLocalUserDefined = "localuser-defined"
	EventInitializing     = "initializing"
	EventInitialized      = "initialized"
	EventSheet            = "sheet"
	EventQueueEntryUpdate = "queueentryupdate"
	EventAgentListen      = "agentlisten"
)

// Entity event verbs, joined to a list kind with a dot.
const (
	VerbConfigUpdated = "config-updated"
	VerbStatusUpdated = "status-updated"
	VerbRemoving      = "removing"
	VerbRemoved       = "removed"
)

// Notification is one event delivered to registered handlers.
type Notification struct {
	// EventType is the name the handler was registered under.
	EventType string
	// XID identifies the entity for entity events.
	XID string
	// Text carries the human-readable payload of text-message and
	// modal-error events.
	Text string
	// ErrorID carries the raw error id for connection-failed events.
	ErrorID string
	// Message is the decoded server message that triggered the event,
	// when one exists.
	Message wire.Message
}

// NotificationHandler processes one notification. Handlers run inline on the
// session's event goroutine and must not block; hand off to a channel for
// long work.
type NotificationHandler func(n *Notification)

// registration pairs a handler with a unique id so removal never confuses
// two closures sharing the same code pointer.
type registration struct {
	id int
	fn NotificationHandler
}

// notifier fans notifications out to handlers registered per event type.
// "*" receives everything. Delivery is synchronous and in registration
// order, so a removal's "removing" handler always observes the entity
// before its "removed" handler runs.
type notifier struct {
	mu       sync.Mutex
	handlers map[string][]registration
	nextID   int
}

func newNotifier() *notifier {
	return &notifier{handlers: make(map[string][]registration)}
}

// On registers a handler for an event type and returns the function that
// unregisters it. Unsubscribing twice is a no-op.
func (n *notifier) On(eventType string, handler NotificationHandler) func() {
	if handler == nil {
		return func() {}
	}
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.handlers[eventType] = append(n.handlers[eventType], registration{id: id, fn: handler})
	n.mu.Unlock()
	return func() { n.off(eventType, id) }
}

func (n *notifier) off(eventType string, id int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	regs := n.handlers[eventType]
	for i, reg := range regs {
		if reg.id == id {
			n.handlers[eventType] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(n.handlers[eventType]) == 0 {
		delete(n.handlers, eventType)
	}
}

func (n *notifier) emit(note *Notification) {
	n.mu.Lock()
	regs := append([]registration(nil), n.handlers[note.EventType]...)
	wildcard := append([]registration(nil), n.handlers["*"]...)
	n.mu.Unlock()

	for _, reg := range regs {
		reg.fn(note)
	}
	for _, reg := range wildcard {
		reg.fn(note)
	}
}
