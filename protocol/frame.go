package protocol

// Outer frame tags.
const (
	MsgSync      uint64 = 0
	MsgAwareness uint64 = 1
)

// Inner tags of a sync frame.
const (
	SyncStep1  uint64 = 0 // payload: sender's state vector
	SyncStep2  uint64 = 1 // payload: update diffed against a step-1 vector
	SyncUpdate uint64 = 2 // payload: incremental update
)

// Frame is one decoded protocol message. Inner is meaningful only when
// Outer == MsgSync.
type Frame struct {
	Outer   uint64
	Inner   uint64
	Payload []byte
}

// SyncFrame encodes a sync frame: [0][inner][payload].
func SyncFrame(inner uint64, payload []byte) []byte {
	ret := make([]byte, 0, len(payload)+2)
	ret = AppendUint(ret, MsgSync)
	ret = AppendUint(ret, inner)
	return append(ret, payload...)
}

// AwarenessFrame encodes an awareness frame: [1][payload].
func AwarenessFrame(payload []byte) []byte {
	ret := make([]byte, 0, len(payload)+1)
	ret = AppendUint(ret, MsgAwareness)
	return append(ret, payload...)
}

// ParseFrame validates the tags and splits off the payload. The payload
// itself is decoded by the crdt/awareness packages; a frame with an
// unknown tag is rejected here, before any state is touched.
func ParseFrame(data []byte) (f Frame, err error) {
	f.Outer, data, err = TakeUint(data)
	if err != nil {
		return Frame{}, err
	}
	switch f.Outer {
	case MsgSync:
		f.Inner, data, err = TakeUint(data)
		if err != nil {
			return Frame{}, err
		}
		if f.Inner > SyncUpdate {
			return Frame{}, ErrBadFrame
		}
	case MsgAwareness:
	default:
		return Frame{}, ErrBadFrame
	}
	f.Payload = data
	return f, nil
}

// Envelope wraps a broker payload with the publishing process identity,
// so a process can recognize and skip its own echo.
func Envelope(sender string, payload []byte) []byte {
	ret := make([]byte, 0, len(sender)+len(payload)+2)
	ret = AppendString(ret, sender)
	return append(ret, payload...)
}

// ParseEnvelope splits a broker message into sender tag and payload.
func ParseEnvelope(data []byte) (sender string, payload []byte, err error) {
	return TakeString(data)
}
