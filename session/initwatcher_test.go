/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"testing"

	"github.com/xivocommunity/cti-go-sdk/storage"
)

func TestInitWatcherCompletesWhenAllSeen(t *testing.T) {
	var started, completed int
	w := newInitWatcher(func() { started++ }, func() { completed++ })

	w.WatchList(storage.KindUsers, []string{"x/1", "x/2"})
	w.WatchList(storage.KindPhones, []string{"x/p1"})
	if started != 1 {
		t.Fatalf("start callbacks = %d, want 1", started)
	}
	if w.IsComplete() {
		t.Fatal("complete before any item seen")
	}

	w.SawItem(storage.KindUsers, "x/1")
	w.SawItem(storage.KindPhones, "x/p1")
	if w.IsComplete() {
		t.Fatal("complete with x/2 still unseen")
	}
	w.SawItem(storage.KindUsers, "x/2")
	if !w.IsComplete() {
		t.Fatal("not complete although every watched item was seen")
	}
	if completed != 1 {
		t.Errorf("complete callbacks = %d, want 1", completed)
	}
}

func TestInitWatcherUnwatchedItemIsNoOp(t *testing.T) {
	var completed int
	w := newInitWatcher(nil, func() { completed++ })

	w.WatchList(storage.KindUsers, []string{"x/1"})
	w.SawItem(storage.KindUsers, "x/999")
	w.SawItem(storage.KindQueues, "x/q1")
	if w.IsComplete() || completed != 0 {
		t.Error("unwatched items spuriously completed tracking")
	}
	w.SawItem(storage.KindUsers, "x/1")
	if !w.IsComplete() {
		t.Error("watched item did not complete tracking")
	}
}

func TestInitWatcherCompletionIsMonotonic(t *testing.T) {
	var started, completed int
	w := newInitWatcher(func() { started++ }, func() { completed++ })

	w.WatchList(storage.KindUsers, []string{"x/1"})
	w.SawItem(storage.KindUsers, "x/1")
	if !w.IsComplete() {
		t.Fatal("not complete")
	}

	// post-completion registrations and items change nothing
	w.WatchList(storage.KindPhones, []string{"x/p1"})
	w.SawItem(storage.KindUsers, "x/1")
	if !w.IsComplete() {
		t.Error("completion regressed after post-completion traffic")
	}
	if started != 1 || completed != 1 {
		t.Errorf("callbacks = %d/%d, want one of each", started, completed)
	}
}

func TestInitWatcherReset(t *testing.T) {
	var started, completed int
	w := newInitWatcher(func() { started++ }, func() { completed++ })

	w.WatchList(storage.KindUsers, []string{"x/1"})
	w.SawItem(storage.KindUsers, "x/1")
	w.Reset()

	if w.IsComplete() {
		t.Fatal("still complete after reset")
	}
	w.WatchList(storage.KindUsers, []string{"x/2"})
	w.SawItem(storage.KindUsers, "x/2")
	if !w.IsComplete() {
		t.Fatal("second login did not complete")
	}
	if started != 2 || completed != 2 {
		t.Errorf("callbacks = %d/%d, want callbacks re-armed by reset", started, completed)
	}
}

func TestInitWatcherSawItemBeforeWatchIsNoOp(t *testing.T) {
	var completed int
	w := newInitWatcher(nil, func() { completed++ })
	w.SawItem(storage.KindUsers, "x/1")
	if w.IsComplete() || completed != 0 {
		t.Error("items before the first watch completed tracking")
	}
}

func TestInitWatcherEmptyListDoesNotStall(t *testing.T) {
	w := newInitWatcher(nil, nil)
	w.ExpectLists(2)
	w.WatchList(storage.KindVoiceMails, nil)
	if w.IsComplete() {
		t.Fatal("complete before the second expected list arrived")
	}
	w.WatchList(storage.KindUsers, []string{"x/1"})
	w.SawItem(storage.KindUsers, "x/1")
	if !w.IsComplete() {
		t.Error("empty voicemail list stalled completion")
	}
}

func TestInitWatcherAllListsEmptyCompletes(t *testing.T) {
	var completed int
	w := newInitWatcher(nil, func() { completed++ })
	w.ExpectLists(len(storage.Kinds))
	for _, kind := range storage.Kinds {
		w.WatchList(kind, nil)
	}
	if !w.IsComplete() {
		t.Fatal("an empty server never reached completion")
	}
	if completed != 1 {
		t.Errorf("complete callbacks = %d, want 1", completed)
	}
}
