/*
Package crdt implements the replicated sequence underlying a collaborative
text document.

Every inserted character is an Item with a globally unique id
(client, clock). Deletion tombstones an item; the sequence never shrinks.
Concurrent inserts at one position are ordered by a deterministic
(clock, client) tie-break, so replicas that exchange the same updates
converge to the same text regardless of delivery order or duplication.

A Doc is owned by a single goroutine (or externally serialized per
document); none of its methods lock.
*/
package crdt

import "fmt"

// ID packs a client (replica) id and that client's per-item clock into
// one comparable 64-bit value: client in the high half, clock in the low.
type ID uint64

// ID0 is the zero id: the document head sentinel and the "no origin" mark.
const ID0 ID = 0

func MakeID(client, clock uint32) ID {
	return ID(uint64(client)<<32 | uint64(clock))
}

func (id ID) Client() uint32 { return uint32(id >> 32) }
func (id ID) Clock() uint32  { return uint32(id) }
func (id ID) Zero() bool     { return id == ID0 }

func (id ID) String() string {
	return fmt.Sprintf("%x-%x", id.Client(), id.Clock())
}

// ordLess is the concurrent-insert tie-break: clock first, then client,
// ascending. Ids are unique, so equality never arises between distinct
// items.
func ordLess(a, b ID) bool {
	if a.Clock() != b.Clock() {
		return a.Clock() < b.Clock()
	}
	return a.Client() < b.Client()
}
