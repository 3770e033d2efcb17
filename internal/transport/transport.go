// Package transport is the length-framed net.Conn substrate shared by the
// server and client cores. It is the Go-idiomatic stand-in for the
// libxio/Accelio event-loop context the original spec builds on: instead
// of a registered-memory transport context bound to one thread, each
// connection is a plain net.Conn read and written from exactly one
// goroutine at a time, framed the way the teacher frames its own
// length-prefixed RPC traffic (internal/adapter/nfs/portmap/server.go's
// 4-byte fragment header, generalized to two iovecs instead of one).
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/openvstorage/xiovolumed/internal/wire"
)

// MaxHeaderBytes and MaxDataBytes bound a single frame to keep a
// malformed or hostile peer from forcing an unbounded allocation.
const (
	MaxHeaderBytes = 1 << 16      // 64 KiB, generous for a msgpack header tuple
	MaxDataBytes   = 64<<20 + 4096 // 64 MiB of volume data plus slack
)

// ReadHeader reads and decodes one frame's header half: a 4-byte
// big-endian length prefix followed by that many msgpack-encoded bytes. A
// caller that needs to size a buffer off h.Size before reading the data
// iovec (the pool-backed inbound-Write path, spec §4.5's
// "assign-data-in-buf") calls this directly instead of ReadFrame.
//
// If the header bytes decode to ErrMalformedMessage, the returned error
// wraps it and h is Decode's best-effort partial result; the caller must
// still read the data iovec with ReadData to keep the stream framed
// correctly for the next request, since the data length prefix is
// independent of whether the header decoded.
func ReadHeader(conn net.Conn) (wire.Header, error) {
	headerBytes, err := readLengthPrefixed(conn, MaxHeaderBytes, nil)
	if err != nil {
		return wire.Header{}, fmt.Errorf("transport: read header: %w", err)
	}
	return wire.Decode(headerBytes)
}

// ReadData reads one frame's data half, following a header already
// consumed via ReadHeader. dataBuf, if non-nil and large enough, is
// reused as the destination (the caller typically supplies a
// pool.MemBlock's backing slice so an inbound Write lands directly in
// registered memory); otherwise a new slice is allocated.
func ReadData(conn net.Conn, dataBuf []byte) ([]byte, error) {
	data, err := readLengthPrefixed(conn, MaxDataBytes, dataBuf)
	if err != nil {
		return nil, fmt.Errorf("transport: read data: %w", err)
	}
	return data, nil
}

// ReadFrame reads one full (header, data) frame. A header that fails to
// decode with ErrMalformedMessage does not stop ReadFrame from reading
// the data iovec that follows it — the stream must stay framed correctly
// for the next request regardless of whether this header was
// well-formed — but any other header-read error (a genuine transport
// failure) aborts immediately since the data iovec's own length prefix
// may never have arrived.
func ReadFrame(conn net.Conn, dataBuf []byte) (wire.Header, []byte, error) {
	h, decodeErr := ReadHeader(conn)
	if decodeErr != nil && !errors.Is(decodeErr, wire.ErrMalformedMessage) {
		return wire.Header{}, nil, decodeErr
	}

	data, err := ReadData(conn, dataBuf)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if decodeErr != nil {
		return h, data, decodeErr
	}
	return h, data, nil
}

// WriteFrame writes one (header, data) frame in the same shape ReadFrame
// expects.
func WriteFrame(conn net.Conn, h wire.Header, data []byte) error {
	headerBytes, err := wire.Encode(h)
	if err != nil {
		return fmt.Errorf("transport: encode header: %w", err)
	}

	buf := make([]byte, 0, 4+len(headerBytes)+4+len(data))
	buf = appendLengthPrefixed(buf, headerBytes)
	buf = appendLengthPrefixed(buf, data)

	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

func appendLengthPrefixed(buf, payload []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, payload...)
}

func readLengthPrefixed(conn net.Conn, max int, reuse []byte) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > max {
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds limit %d", n, max)
	}
	if n == 0 {
		return nil, nil
	}

	var buf []byte
	if reuse != nil && len(reuse) >= int(n) {
		buf = reuse[:n]
	} else {
		buf = make([]byte, n)
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
