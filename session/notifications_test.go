/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import "testing"

func TestNotifierDeliveryOrder(t *testing.T) {
	n := newNotifier()
	var order []int
	n.On("ev", func(note *Notification) { order = append(order, 1) })
	n.On("ev", func(note *Notification) { order = append(order, 2) })
	n.On("*", func(note *Notification) { order = append(order, 3) })

	n.emit(&Notification{EventType: "ev"})
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want registration order then wildcard", order)
	}
}

func TestNotifierUnsubscribeRemovesOnlyItsRegistration(t *testing.T) {
	n := newNotifier()

	// two distinct registrations created from the same function literal
	// share a code pointer; unsubscribing one must not touch the other
	var hits []string
	register := func(name string) func() {
		return n.On("ev", func(note *Notification) { hits = append(hits, name) })
	}
	offA := register("a")
	register("b")

	offA()
	n.emit(&Notification{EventType: "ev"})
	if len(hits) != 1 || hits[0] != "b" {
		t.Errorf("hits = %v, want only the surviving registration", hits)
	}

	// unsubscribing twice is a no-op
	offA()
	n.emit(&Notification{EventType: "ev"})
	if len(hits) != 2 {
		t.Errorf("hits after second emit = %v", hits)
	}
}

func TestNotifierNilHandlerIgnored(t *testing.T) {
	n := newNotifier()
	off := n.On("ev", nil)
	off()
	n.emit(&Notification{EventType: "ev"})
}
