/*
Package protocol implements the binary wire format of the sync protocol:
unsigned LEB128 varints, length-prefixed blobs, tagged frames and the
broker envelope.

Every value on the wire is either a varint or a varint-length-prefixed
byte string. Parsing functions come in a single flavor that returns
explicit errors; frames arrive from untrusted peers, so there is no
"trusted" fast path. A parse error means the input must be dropped
without touching any replica state.
*/
package protocol

import "errors"

var (
	ErrIncomplete = errors.New("incomplete data")
	ErrBadFrame   = errors.New("bad frame format")
	ErrOverflow   = errors.New("varint overflows 64 bits")
)

// AppendUint appends v as an unsigned LEB128 varint.
func AppendUint(into []byte, v uint64) []byte {
	for v >= 0x80 {
		into = append(into, byte(v)|0x80)
		v >>= 7
	}
	return append(into, byte(v))
}

// TakeUint consumes one varint from data.
func TakeUint(data []byte) (v uint64, rest []byte, err error) {
	var shift uint
	for i, b := range data {
		if shift == 63 && b > 1 {
			return 0, nil, ErrOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, data[i+1:], nil
		}
		shift += 7
		if shift > 63 {
			return 0, nil, ErrOverflow
		}
	}
	return 0, nil, ErrIncomplete
}

// AppendBytes appends body with a varint length prefix.
func AppendBytes(into, body []byte) []byte {
	into = AppendUint(into, uint64(len(body)))
	return append(into, body...)
}

// TakeBytes consumes one length-prefixed blob from data.
func TakeBytes(data []byte) (body, rest []byte, err error) {
	n, rest, err := TakeUint(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, ErrIncomplete
	}
	return rest[:n], rest[n:], nil
}

// AppendString appends s with a varint length prefix.
func AppendString(into []byte, s string) []byte {
	into = AppendUint(into, uint64(len(s)))
	return append(into, s...)
}

// TakeString consumes one length-prefixed string from data.
func TakeString(data []byte) (s string, rest []byte, err error) {
	body, rest, err := TakeBytes(data)
	if err != nil {
		return "", nil, err
	}
	return string(body), rest, nil
}
