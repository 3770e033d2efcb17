package wire

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformedMessage is returned by Decode when the bytes do not decode to
// a well-formed header tuple, or decode to an opcode outside the closed
// enum.
var ErrMalformedMessage = errors.New("wire: malformed message")

// Header is the single msgpack tuple that makes up a request or response.
// Field order is part of the wire contract (spec §6) and must not change:
// (opcode, volume_name, snapshot_name, size, offset, retval, errval,
// opaque_cookie, timeout).
type Header struct {
	Opcode        Opcode
	VolumeName    string
	SnapshotName  string
	Size          uint64
	Offset        uint64
	Retval        int64
	Errval        int32
	OpaqueCookie  uint64
	TimeoutMillis int64
}

// wireTuple is the exact on-the-wire shape, encoded as a msgpack array
// (not a map) to keep the header compact and ordered.
type wireTuple struct {
	_msgpack struct{} `msgpack:",asArray"`

	Opcode       uint8
	VolumeName   string
	SnapshotName string
	Size         uint64
	Offset       uint64
	Retval       int64
	Errval       int32
	Cookie       uint64
	Timeout      int64
}

// Encode serializes h into its msgpack wire representation. Framing (the
// length prefix) is added by the transport, not here.
func Encode(h Header) ([]byte, error) {
	t := wireTuple{
		Opcode:       uint8(h.Opcode),
		VolumeName:   h.VolumeName,
		SnapshotName: h.SnapshotName,
		Size:         h.Size,
		Offset:       h.Offset,
		Retval:       h.Retval,
		Errval:       h.Errval,
		Cookie:       h.OpaqueCookie,
		Timeout:      h.TimeoutMillis,
	}
	b, err := msgpack.Marshal(&t)
	if err != nil {
		return nil, fmt.Errorf("wire: encode header: %w", err)
	}
	return b, nil
}

// Decode parses b into a Header. It returns ErrMalformedMessage (wrapped
// with the underlying cause) if the bytes do not decode, or if they decode
// to an opcode outside the closed enum.
// Decode parses b into a Header. On failure it still returns whatever
// fields the underlying array decode had already populated before it hit
// the bad element (msgpack decodes a struct-as-array element by element,
// left to right, so a malformed Timeout — the last field — still leaves
// OpaqueCookie set). Callers that need to attribute a malformed reply to
// a specific in-flight request rely on this partial result; callers that
// don't can ignore it and just check the error.
func Decode(b []byte) (Header, error) {
	var t wireTuple
	if err := msgpack.Unmarshal(b, &t); err != nil {
		return headerFromTuple(t), fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	op := Opcode(t.Opcode)
	if _, known := opcodeNames[op]; !known {
		return headerFromTuple(t), fmt.Errorf("%w: unknown opcode %d", ErrMalformedMessage, t.Opcode)
	}

	return headerFromTuple(t), nil
}

func headerFromTuple(t wireTuple) Header {
	return Header{
		Opcode:        Opcode(t.Opcode),
		VolumeName:    t.VolumeName,
		SnapshotName:  t.SnapshotName,
		Size:          t.Size,
		Offset:        t.Offset,
		Retval:        t.Retval,
		Errval:        t.Errval,
		OpaqueCookie:  t.Cookie,
		TimeoutMillis: t.Timeout,
	}
}

// NewRequest builds a request header with retval/errval zeroed, matching
// spec §3: "for requests they are zero".
func NewRequest(op Opcode, volume, snapshot string, size, offset, cookie uint64, timeoutMillis int64) Header {
	return Header{
		Opcode:        op,
		VolumeName:    volume,
		SnapshotName:  snapshot,
		Size:          size,
		Offset:        offset,
		OpaqueCookie:  cookie,
		TimeoutMillis: timeoutMillis,
	}
}

// NewResponse builds a response header that mirrors req's opcode (via
// Response()), cookie, volume/snapshot names and carries the given result.
func NewResponse(req Header, retval int64, errval Errno, size uint64) Header {
	return Header{
		Opcode:       req.Opcode.Response(),
		VolumeName:   req.VolumeName,
		SnapshotName: req.SnapshotName,
		Size:         size,
		Offset:       req.Offset,
		Retval:       retval,
		Errval:       int32(errval),
		OpaqueCookie: req.OpaqueCookie,
	}
}

// NewErrorResponse builds an ErrorRsp header preserving the cookie of req
// so the client can still resolve the correlation.
func NewErrorResponse(req Header, errval Errno) Header {
	return Header{
		Opcode:       OpErrorRsp,
		VolumeName:   req.VolumeName,
		SnapshotName: req.SnapshotName,
		Retval:       -1,
		Errval:       int32(errval),
		OpaqueCookie: req.OpaqueCookie,
	}
}
