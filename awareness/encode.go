package awareness

import (
	"errors"
	"math"

	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/protocol"
)

// Payload: record count, then per record (client, clock, flag). Flag 0
// is a tombstone, flag 1 is followed by the length-prefixed JSON fields.

var ErrBadPayload = errors.New("bad awareness payload")

func (u Update) Encode() []byte {
	ret := protocol.AppendUint(nil, uint64(len(u)))
	for _, rec := range u {
		ret = protocol.AppendUint(ret, uint64(rec.Client))
		ret = protocol.AppendUint(ret, uint64(rec.Clock))
		if rec.Tombstone {
			ret = protocol.AppendUint(ret, 0)
			continue
		}
		ret = protocol.AppendUint(ret, 1)
		ret = protocol.AppendBytes(ret, rec.Fields)
	}
	return ret
}

func ParseUpdate(data []byte) (Update, error) {
	n, rest, err := protocol.TakeUint(data)
	if err != nil {
		return nil, ErrBadPayload
	}
	var upd Update
	for i := uint64(0); i < n; i++ {
		var client, clock, flag uint64
		client, rest, err = protocol.TakeUint(rest)
		if err != nil || client > math.MaxUint32 {
			return nil, ErrBadPayload
		}
		clock, rest, err = protocol.TakeUint(rest)
		if err != nil || clock > math.MaxUint32 {
			return nil, ErrBadPayload
		}
		flag, rest, err = protocol.TakeUint(rest)
		if err != nil {
			return nil, ErrBadPayload
		}
		rec := Record{Client: uint32(client), Clock: uint32(clock)}
		switch flag {
		case 0:
			rec.Tombstone = true
		case 1:
			rec.Fields, rest, err = protocol.TakeBytes(rest)
			if err != nil {
				return nil, ErrBadPayload
			}
		default:
			return nil, ErrBadPayload
		}
		upd = append(upd, rec)
	}
	if len(rest) != 0 {
		return nil, ErrBadPayload
	}
	return upd, nil
}
