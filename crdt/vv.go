package crdt

import "slices"

// VV is a state vector: the highest clock integrated from each known
// client. Entries never decrease.
type VV map[uint32]uint32

func (vv VV) Get(client uint32) uint32 {
	return vv[client]
}

// Put records the client-clock pair, returns whether it was unseen
// (i.e. made any difference).
func (vv VV) Put(client, clock uint32) bool {
	pre, ok := vv[client]
	if ok && pre >= clock {
		return false
	}
	vv[client] = clock
	return true
}

func (vv VV) PutID(id ID) bool {
	return vv.Put(id.Client(), id.Clock())
}

// SeenID reports whether the id falls inside the vector, i.e. an item
// with this id has already been integrated (clocks are gap-free per
// client).
func (vv VV) SeenID(id ID) bool {
	return id.Clock() <= vv[id.Client()]
}

// Covers reports whether every entry of b is inside vv.
func (vv VV) Covers(b VV) bool {
	for client, clock := range b {
		if clock > vv[client] {
			return false
		}
	}
	return true
}

func (vv VV) Clone() VV {
	ret := make(VV, len(vv))
	for client, clock := range vv {
		ret[client] = clock
	}
	return ret
}

// Clients returns the known client ids in ascending order.
func (vv VV) Clients() []uint32 {
	ret := make([]uint32, 0, len(vv))
	for client := range vv {
		ret = append(ret, client)
	}
	slices.Sort(ret)
	return ret
}
