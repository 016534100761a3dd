/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package router fans decoded server messages out to external feature
// modules, keyed by the message's class. The session engine dispatches every
// inbound message here after (or instead of) its own handling; modules such
// as directory panels or queue dashboards subscribe to the classes they
// understand and receive the raw decoded payload.
package router

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/xivocommunity/cti-go-sdk/wire"
)

// Listener receives every message of a class it registered for.
type Listener interface {
	ParseCommand(msg wire.Message)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(msg wire.Message)

// ParseCommand implements Listener.
func (f ListenerFunc) ParseCommand(msg wire.Message) { f(msg) }

// Router is the listener registry. The zero value is not usable; use New.
type Router struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
	log       zerolog.Logger
}

// New creates an empty Router.
func New(log zerolog.Logger) *Router {
	return &Router{
		listeners: make(map[string][]Listener),
		log:       log.With().Str("component", "router").Logger(),
	}
}

// Register subscribes a listener to a message class. Multiple listeners may
// register for the same class; they are invoked in registration order.
func (r *Router) Register(class string, l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	r.listeners[class] = append(r.listeners[class], l)
	r.mu.Unlock()
}

// Dispatch delivers a message to every listener registered for its class
// and reports whether at least one listener claimed it. A panic in one
// listener is recovered and logged so the remaining listeners still run.
func (r *Router) Dispatch(class string, msg wire.Message) bool {
	r.mu.RLock()
	targets := r.listeners[class]
	r.mu.RUnlock()

	if len(targets) == 0 {
		return false
	}
	for _, l := range targets {
		r.deliver(class, l, msg)
	}
	return true
}

func (r *Router) deliver(class string, l Listener, msg wire.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn().Str("class", class).Interface("panic", rec).
				Msg("listener panicked, continuing fan-out")
		}
	}()
	l.ParseCommand(msg)
}
