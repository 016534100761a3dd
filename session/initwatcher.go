/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"sync"

	"github.com/xivocommunity/cti-go-sdk/storage"
)

// initWatcher tracks login-time list hydration. The login sequence announces
// how many listid answers it expects; each answer registers the item ids the
// server intends to describe, and each per-item status answer marks one item
// seen. Once every expected list has arrived and every registered item has
// been seen at least once, the watcher reports completion exactly once.
// Later registrations (post-login addconfig traffic) never un-complete it.
type initWatcher struct {
	mu            sync.Mutex
	pending       map[storage.Kind]map[string]bool
	expectedLists int
	started       bool
	complete      bool

	onStart    func()
	onComplete func()
}

func newInitWatcher(onStart, onComplete func()) *initWatcher {
	return &initWatcher{
		pending:    make(map[storage.Kind]map[string]bool),
		onStart:    onStart,
		onComplete: onComplete,
	}
}

// ExpectLists announces n upcoming listid answers. Completion is held back
// until all of them have arrived, so a server whose first lists are empty
// does not complete vacuously.
func (w *initWatcher) ExpectLists(n int) {
	w.mu.Lock()
	if !w.complete {
		w.expectedLists += n
	}
	w.mu.Unlock()
}

// WatchList registers the ids announced by one listid answer. The first
// registration fires the start callback. Empty lists register nothing, so a
// server with no entities of a kind never stalls hydration on it.
func (w *initWatcher) WatchList(kind storage.Kind, xids []string) {
	var fireStart, fireComplete bool
	w.mu.Lock()
	if w.complete {
		w.mu.Unlock()
		return
	}
	if !w.started {
		w.started = true
		fireStart = true
	}
	if w.expectedLists > 0 {
		w.expectedLists--
	}
	if len(xids) > 0 {
		set := w.pending[kind]
		if set == nil {
			set = make(map[string]bool)
			w.pending[kind] = set
		}
		for _, xid := range xids {
			set[xid] = true
		}
	}
	fireComplete = w.maybeCompleteLocked()
	w.mu.Unlock()
	if fireStart && w.onStart != nil {
		w.onStart()
	}
	if fireComplete && w.onComplete != nil {
		w.onComplete()
	}
}

// SawItem marks one item as described. Unknown items are ignored; kinds
// drained to empty are removed, and draining the last kind of the last
// expected list completes the watcher.
func (w *initWatcher) SawItem(kind storage.Kind, xid string) {
	var fireComplete bool
	w.mu.Lock()
	if w.complete || !w.started {
		w.mu.Unlock()
		return
	}
	if set, ok := w.pending[kind]; ok {
		delete(set, xid)
		if len(set) == 0 {
			delete(w.pending, kind)
		}
	}
	fireComplete = w.maybeCompleteLocked()
	w.mu.Unlock()
	if fireComplete && w.onComplete != nil {
		w.onComplete()
	}
}

// maybeCompleteLocked flips the watcher to complete when every expected list
// has registered and no item remains unseen. Caller holds w.mu.
func (w *initWatcher) maybeCompleteLocked() bool {
	if !w.started || w.complete || w.expectedLists > 0 || len(w.pending) > 0 {
		return false
	}
	w.complete = true
	return true
}

// IsComplete reports whether hydration has finished.
func (w *initWatcher) IsComplete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.complete
}

// Reset returns the watcher to its pristine state for the next login.
func (w *initWatcher) Reset() {
	w.mu.Lock()
	w.pending = make(map[storage.Kind]map[string]bool)
	w.expectedLists = 0
	w.started = false
	w.complete = false
	w.mu.Unlock()
}
