/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package storage

import "sync"

// Store holds one collection per list kind, keyed by xid, plus the
// queue-member side table fed by queuemembers status updates. The session
// engine is the exclusive writer; reads may come from any goroutine.
//
// Entities are owned by the store: a reference obtained through Get is
// valid only until the entity is removed or the store is cleared.
type Store struct {
	mu      sync.RWMutex
	lists   map[Kind]map[string]*Entity
	members map[string]*Entity
}

// NewStore creates an empty store with all known kinds initialized.
func NewStore() *Store {
	s := &Store{
		lists:   make(map[Kind]map[string]*Entity, len(Kinds)),
		members: make(map[string]*Entity),
	}
	for _, k := range Kinds {
		s.lists[k] = make(map[string]*Entity)
	}
	return s
}

// Upsert returns the entity for (kind, ipbxid, id), creating it if absent.
// Creation on first sight is the store's contract: config and status
// updates may arrive before the listid that normally announces an entity.
func (s *Store) Upsert(kind Kind, ipbxID, localID string) *Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[kind]
	if !ok {
		return nil
	}
	xid := XID(ipbxID, localID)
	e, ok := list[xid]
	if !ok {
		e = NewEntity(ipbxID, localID)
		list[xid] = e
	}
	return e
}

// Get returns the entity at xid for the given kind, or nil.
func (s *Store) Get(kind Kind, xid string) *Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lists[kind][xid]
}

// Has reports whether an entity exists at xid for the given kind.
func (s *Store) Has(kind Kind, xid string) bool {
	return s.Get(kind, xid) != nil
}

// Remove deletes the entity at xid. It reports whether an entity was
// actually removed.
func (s *Store) Remove(kind Kind, xid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[kind]
	if !ok {
		return false
	}
	if _, ok := list[xid]; !ok {
		return false
	}
	delete(list, xid)
	return true
}

// UpdateConfig replaces the config of the entity at (kind, ipbxid, id),
// creating the entity if needed, and returns it.
func (s *Store) UpdateConfig(kind Kind, ipbxID, localID string, config map[string]interface{}) *Entity {
	e := s.Upsert(kind, ipbxID, localID)
	if e == nil {
		return nil
	}
	s.mu.Lock()
	e.UpdateConfig(config)
	s.mu.Unlock()
	return e
}

// UpdateStatus merges status into the entity at (kind, ipbxid, id) if it
// exists, and returns it (nil when the entity is unknown). Unlike config
// updates, a status update alone does not create a list entity.
func (s *Store) UpdateStatus(kind Kind, xid string, status map[string]interface{}) *Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lists[kind][xid]
	if e != nil {
		e.UpdateStatus(status)
	}
	return e
}

// UpsertMemberStatus merges status into the queue-member side table entry
// at xid, creating it if needed.
func (s *Store) UpsertMemberStatus(ipbxID, localID string, status map[string]interface{}) *Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	xid := XID(ipbxID, localID)
	e, ok := s.members[xid]
	if !ok {
		e = NewEntity(ipbxID, localID)
		s.members[xid] = e
	}
	e.UpdateStatus(status)
	return e
}

// Member returns the queue-member side table entry at xid, or nil.
func (s *Store) Member(xid string) *Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[xid]
}

// RemoveMember deletes a queue-member side table entry.
func (s *Store) RemoveMember(xid string) {
	s.mu.Lock()
	delete(s.members, xid)
	s.mu.Unlock()
}

// XIDs returns the xids currently held for a kind, in no particular order.
func (s *Store) XIDs(kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[kind]
	out := make([]string, 0, len(list))
	for xid := range list {
		out = append(out, xid)
	}
	return out
}

// Len returns the number of entities held for a kind.
func (s *Store) Len(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lists[kind])
}

// Clear drops every entity of every kind and the queue-member side table.
// Called at logout and before a reconnect; no entity reference survives it.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range Kinds {
		s.lists[k] = make(map[string]*Entity)
	}
	s.members = make(map[string]*Entity)
}

// User returns the typed user view at xid, or a view over nil if absent.
func (s *Store) User(xid string) (User, bool) {
	e := s.Get(KindUsers, xid)
	return User{e}, e != nil
}

// Phone returns the typed phone view at xid.
func (s *Store) Phone(xid string) (Phone, bool) {
	e := s.Get(KindPhones, xid)
	return Phone{e}, e != nil
}

// Agent returns the typed agent view at xid.
func (s *Store) Agent(xid string) (Agent, bool) {
	e := s.Get(KindAgents, xid)
	return Agent{e}, e != nil
}

// Queue returns the typed queue view at xid.
func (s *Store) Queue(xid string) (Queue, bool) {
	e := s.Get(KindQueues, xid)
	return Queue{e}, e != nil
}
