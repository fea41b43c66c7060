package crdt

import (
	"errors"
	"math"

	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/protocol"
)

// Update payload: entry count, then per entry the item id (client, clock)
// and a kind tag. Kind 0 carries origins and content, 1 is a deletion
// marker.
// State vector payload: entry count, then (client, clock) pairs ascending
// by client. All integers are varints.

const (
	entryInsert uint64 = 0
	entryDelete uint64 = 1
)

var ErrBadUpdate = errors.New("bad update payload")
var ErrBadVector = errors.New("bad state vector payload")

func (u *Update) Encode() []byte {
	ret := protocol.AppendUint(nil, uint64(len(u.Items)+len(u.Deletes)))
	for _, it := range u.Items {
		ret = protocol.AppendUint(ret, uint64(it.ID.Client()))
		ret = protocol.AppendUint(ret, uint64(it.ID.Clock()))
		ret = protocol.AppendUint(ret, entryInsert)
		ret = appendOrigin(ret, it.Left)
		ret = appendOrigin(ret, it.Right)
		ret = protocol.AppendBytes(ret, []byte(it.Content))
	}
	for _, id := range u.Deletes {
		ret = protocol.AppendUint(ret, uint64(id.Client()))
		ret = protocol.AppendUint(ret, uint64(id.Clock()))
		ret = protocol.AppendUint(ret, entryDelete)
	}
	return ret
}

func ParseUpdate(data []byte) (*Update, error) {
	n, rest, err := protocol.TakeUint(data)
	if err != nil {
		return nil, ErrBadUpdate
	}
	upd := &Update{}
	for i := uint64(0); i < n; i++ {
		var client, clock uint32
		var kind uint64
		client, rest, err = takeU32(rest)
		if err != nil {
			return nil, ErrBadUpdate
		}
		clock, rest, err = takeU32(rest)
		if err != nil {
			return nil, ErrBadUpdate
		}
		kind, rest, err = protocol.TakeUint(rest)
		if err != nil {
			return nil, ErrBadUpdate
		}
		id := MakeID(client, clock)
		switch kind {
		case entryInsert:
			var left, right ID
			var body []byte
			left, rest, err = takeOrigin(rest)
			if err != nil {
				return nil, ErrBadUpdate
			}
			right, rest, err = takeOrigin(rest)
			if err != nil {
				return nil, ErrBadUpdate
			}
			body, rest, err = protocol.TakeBytes(rest)
			if err != nil {
				return nil, ErrBadUpdate
			}
			upd.Items = append(upd.Items, Item{ID: id, Left: left, Right: right, Content: string(body)})
		case entryDelete:
			upd.Deletes = append(upd.Deletes, id)
		default:
			return nil, ErrBadUpdate
		}
	}
	if len(rest) != 0 {
		return nil, ErrBadUpdate
	}
	return upd, nil
}

// Encode serializes the vector sorted by client id.
func (vv VV) Encode() []byte {
	ret := protocol.AppendUint(nil, uint64(len(vv)))
	for _, client := range vv.Clients() {
		ret = protocol.AppendUint(ret, uint64(client))
		ret = protocol.AppendUint(ret, uint64(vv[client]))
	}
	return ret
}

func ParseVV(data []byte) (VV, error) {
	n, rest, err := protocol.TakeUint(data)
	if err != nil {
		return nil, ErrBadVector
	}
	vv := make(VV, n)
	for i := uint64(0); i < n; i++ {
		var client, clock uint32
		client, rest, err = takeU32(rest)
		if err != nil {
			return nil, ErrBadVector
		}
		clock, rest, err = takeU32(rest)
		if err != nil {
			return nil, ErrBadVector
		}
		vv.Put(client, clock)
	}
	if len(rest) != 0 {
		return nil, ErrBadVector
	}
	return vv, nil
}

func appendOrigin(into []byte, id ID) []byte {
	if id.Zero() {
		return protocol.AppendUint(into, 0)
	}
	into = protocol.AppendUint(into, 1)
	into = protocol.AppendUint(into, uint64(id.Client()))
	return protocol.AppendUint(into, uint64(id.Clock()))
}

func takeOrigin(data []byte) (ID, []byte, error) {
	flag, rest, err := protocol.TakeUint(data)
	if err != nil {
		return ID0, nil, err
	}
	switch flag {
	case 0:
		return ID0, rest, nil
	case 1:
		var client, clock uint32
		client, rest, err = takeU32(rest)
		if err != nil {
			return ID0, nil, err
		}
		clock, rest, err = takeU32(rest)
		if err != nil {
			return ID0, nil, err
		}
		return MakeID(client, clock), rest, nil
	}
	return ID0, nil, ErrBadUpdate
}

func takeU32(data []byte) (uint32, []byte, error) {
	v, rest, err := protocol.TakeUint(data)
	if err != nil {
		return 0, nil, err
	}
	if v > math.MaxUint32 {
		return 0, nil, ErrBadUpdate
	}
	return uint32(v), rest, nil
}
