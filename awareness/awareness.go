/*
Package awareness keeps ephemeral per-client presence state: cursor,
selection, user metadata. Records are last-writer-wins on a clock owned
solely by the originating client; removal is a tombstone record that
stays authoritative until a strictly greater clock arrives. Nothing here
is persisted or replicated beyond live fan-out.

A Store is serialized by its owning session; methods do not lock.
*/
package awareness

import "time"

// Record is one client's presence state. Fields holds an opaque JSON
// object; a tombstoned record has no fields.
type Record struct {
	Client    uint32
	Clock     uint32
	Fields    []byte
	Tombstone bool
}

// Update is the unit of awareness exchange: the records that changed.
type Update []Record

type entry struct {
	rec  Record
	seen time.Time
}

type Store struct {
	states map[uint32]*entry
}

func NewStore() *Store {
	return &Store{states: make(map[uint32]*entry)}
}

// SetLocal bumps the client's clock and replaces its fields, returning
// the update to fan out.
func (s *Store) SetLocal(client uint32, fields []byte, now time.Time) Update {
	var clock uint32 = 1
	if e, ok := s.states[client]; ok {
		clock = e.rec.Clock + 1
	}
	rec := Record{Client: client, Clock: clock, Fields: fields}
	s.states[client] = &entry{rec: rec, seen: now}
	return Update{rec}
}

// Apply accepts each record only if its clock is strictly greater than
// the stored one; stale records are dropped. Returns the records that
// were accepted.
func (s *Store) Apply(u Update, now time.Time) (accepted Update) {
	for _, rec := range u {
		if e, ok := s.states[rec.Client]; ok && rec.Clock <= e.rec.Clock {
			continue
		}
		s.states[rec.Client] = &entry{rec: rec, seen: now}
		accepted = append(accepted, rec)
	}
	return accepted
}

// Remove tombstones the given clients (explicit leave), returning the
// removal update to fan out. Unknown clients are skipped.
func (s *Store) Remove(clients []uint32, now time.Time) Update {
	var upd Update
	for _, client := range clients {
		e, ok := s.states[client]
		if !ok || e.rec.Tombstone {
			continue
		}
		rec := Record{Client: client, Clock: e.rec.Clock + 1, Tombstone: true}
		s.states[client] = &entry{rec: rec, seen: now}
		upd = append(upd, rec)
	}
	return upd
}

// ExpireInactive tombstones every live record not refreshed within
// timeout and returns the removal update, empty when nothing expired.
func (s *Store) ExpireInactive(now time.Time, timeout time.Duration) Update {
	var stale []uint32
	for client, e := range s.states {
		if !e.rec.Tombstone && now.Sub(e.seen) > timeout {
			stale = append(stale, client)
		}
	}
	return s.Remove(stale, now)
}

// Snapshot returns the live records, skipping tombstones and the
// excluded client (0 excludes nobody).
func (s *Store) Snapshot(exclude uint32) Update {
	var upd Update
	for client, e := range s.states {
		if e.rec.Tombstone || client == exclude {
			continue
		}
		upd = append(upd, e.rec)
	}
	return upd
}

// Len counts live (non-tombstoned) records.
func (s *Store) Len() int {
	n := 0
	for _, e := range s.states {
		if !e.rec.Tombstone {
			n++
		}
	}
	return n
}
