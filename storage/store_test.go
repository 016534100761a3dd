/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package storage

import (
	"reflect"
	"testing"
)

func TestUpsertIsIdempotent(t *testing.T) {
	s := NewStore()
	a := s.Upsert(KindUsers, "xivo", "12")
	b := s.Upsert(KindUsers, "xivo", "12")
	if a != b {
		t.Error("Upsert created a second entity for the same xid")
	}
	if a.XID() != "xivo/12" {
		t.Errorf("XID() = %q", a.XID())
	}
	if s.Len(KindUsers) != 1 {
		t.Errorf("Len = %d, want 1", s.Len(KindUsers))
	}
}

func TestConfigReplacedStatusMerged(t *testing.T) {
	s := NewStore()

	e := s.UpdateConfig(KindPhones, "xivo", "7",
		map[string]interface{}{"number": "1007", "context": "default"})
	if e == nil {
		t.Fatal("UpdateConfig did not lazy-create the entity")
	}
	s.UpdateStatus(KindPhones, "xivo/7", map[string]interface{}{"hintstatus": "0"})
	s.UpdateStatus(KindPhones, "xivo/7", map[string]interface{}{"comms": map[string]interface{}{}})

	// wholesale replacement drops keys absent from the new config
	s.UpdateConfig(KindPhones, "xivo", "7", map[string]interface{}{"number": "1008"})

	got := s.Get(KindPhones, "xivo/7")
	if got.ConfigString("context") != "" {
		t.Error("updateconfig should replace the config wholesale")
	}
	if got.ConfigString("number") != "1008" {
		t.Errorf("number = %q", got.ConfigString("number"))
	}
	if got.StatusString("hintstatus") != "0" {
		t.Error("updatestatus should merge, earlier keys must survive")
	}
	if _, ok := got.Status()["comms"]; !ok {
		t.Error("merged status key missing")
	}
}

func TestStatusUpdateDoesNotCreate(t *testing.T) {
	s := NewStore()
	if e := s.UpdateStatus(KindAgents, "xivo/9", map[string]interface{}{"availability": "logged_out"}); e != nil {
		t.Error("A bare status update must not create a list entity")
	}
	if s.Has(KindAgents, "xivo/9") {
		t.Error("Entity appeared from a status update alone")
	}
}

func TestRemove(t *testing.T) {
	s := NewStore()
	s.Upsert(KindQueues, "xivo", "3")
	if !s.Remove(KindQueues, "xivo/3") {
		t.Error("Remove reported no entity removed")
	}
	if s.Remove(KindQueues, "xivo/3") {
		t.Error("Second remove should be a no-op")
	}
	if s.Get(KindQueues, "xivo/3") != nil {
		t.Error("Get returned a removed entity")
	}
}

func TestQueueMemberSideTable(t *testing.T) {
	s := NewStore()
	s.UpsertMemberStatus("xivo", "agent-5-queue-2", map[string]interface{}{"paused": "0"})
	s.UpsertMemberStatus("xivo", "agent-5-queue-2", map[string]interface{}{"calls": float64(4)})

	m := s.Member("xivo/agent-5-queue-2")
	if m == nil {
		t.Fatal("Member not created by status upsert")
	}
	if m.StatusString("paused") != "0" {
		t.Error("Member status keys should merge")
	}

	s.RemoveMember("xivo/agent-5-queue-2")
	if s.Member("xivo/agent-5-queue-2") != nil {
		t.Error("Member survived removal")
	}
}

func TestClearDropsEverything(t *testing.T) {
	s := NewStore()
	s.Upsert(KindUsers, "xivo", "1")
	s.Upsert(KindPhones, "xivo", "2")
	s.UpsertMemberStatus("xivo", "m1", nil)

	s.Clear()

	for _, k := range Kinds {
		if s.Len(k) != 0 {
			t.Errorf("Kind %s not cleared", k)
		}
	}
	if s.Member("xivo/m1") != nil {
		t.Error("Side table not cleared")
	}
}

func TestTypedViews(t *testing.T) {
	s := NewStore()
	s.UpdateConfig(KindUsers, "xivo", "12", map[string]interface{}{
		"fullname": "James Bond",
		"linelist": []interface{}{"xivo/7", "xivo/8"},
	})
	s.UpdateStatus(KindUsers, "xivo/12", map[string]interface{}{"availstate": "available"})

	u, ok := s.User("xivo/12")
	if !ok {
		t.Fatal("User view missing")
	}
	if u.Fullname() != "James Bond" || u.Availstate() != "available" {
		t.Errorf("User view: %q %q", u.Fullname(), u.Availstate())
	}
	if got := u.PhoneList(); !reflect.DeepEqual(got, []string{"xivo/7", "xivo/8"}) {
		t.Errorf("PhoneList() = %v", got)
	}

	s.UpdateConfig(KindPhones, "xivo", "7", map[string]interface{}{"number": "1007"})
	p, _ := s.Phone("xivo/7")
	if p.Number() != "1007" {
		t.Errorf("Phone number = %q", p.Number())
	}
}

func TestKnownKind(t *testing.T) {
	for _, k := range Kinds {
		if !KnownKind(string(k)) {
			t.Errorf("Kind %s not known", k)
		}
	}
	if KnownKind("trunks") {
		t.Error("trunks should not be a known kind")
	}
}
