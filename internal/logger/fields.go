package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the wire codec, pool,
// work queue, server, and client packages. Use these keys consistently so
// log aggregation/querying stays uniform across components.
const (
	KeyOpcode        = "opcode"         // wire.Opcode name
	KeyVolume        = "volume"         // volume name
	KeySnapshot      = "snapshot"       // snapshot name
	KeyCookie        = "cookie"         // opaque correlation cookie
	KeyOffset        = "offset"         // byte offset for read/write
	KeySize          = "size"           // requested/returned byte count
	KeyRetval        = "retval"         // response retval field
	KeyErrval        = "errval"         // response errval field (errno-style)
	KeyConnectionID  = "connection_id"  // per-connection identifier
	KeyEndpoint      = "endpoint"       // transport endpoint URI
	KeyRequestID     = "request_id"     // HA wrapper's monotonic request id
	KeyDurationMs    = "duration_ms"    // operation duration in milliseconds
	KeyError         = "error"          // error message
	KeyErrorCode     = "error_code"     // numeric errno-style code
	KeyAttempt       = "attempt"        // reconnect/retry attempt number
	KeySlabBlockSize = "slab_block_size"
	KeySlabRegions   = "slab_regions"
	KeySlabUsed      = "slab_used"
	KeySlabFree      = "slab_free"
	KeyQueueDepth    = "queue_depth"
	KeyInFlight      = "inflight"
)

func Opcode(v string) slog.Attr       { return slog.String(KeyOpcode, v) }
func Volume(v string) slog.Attr       { return slog.String(KeyVolume, v) }
func Snapshot(v string) slog.Attr     { return slog.String(KeySnapshot, v) }
func Cookie(v uint64) slog.Attr       { return slog.Uint64(KeyCookie, v) }
func Offset(v uint64) slog.Attr       { return slog.Uint64(KeyOffset, v) }
func Size(v uint64) slog.Attr         { return slog.Uint64(KeySize, v) }
func Retval(v int64) slog.Attr        { return slog.Int64(KeyRetval, v) }
func Errval(v int32) slog.Attr        { return slog.Int64(KeyErrval, int64(v)) }
func ConnectionID(v string) slog.Attr { return slog.String(KeyConnectionID, v) }
func Endpoint(v string) slog.Attr     { return slog.String(KeyEndpoint, v) }
func RequestID(v uint64) slog.Attr    { return slog.Uint64(KeyRequestID, v) }
func DurationMs(v float64) slog.Attr  { return slog.Float64(KeyDurationMs, v) }
func Attempt(v int) slog.Attr         { return slog.Int(KeyAttempt, v) }

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

func ErrorCode(code int32) slog.Attr {
	return slog.Int64(KeyErrorCode, int64(code))
}

func SlabStats(blockSize uint64, regions, used, free int) []any {
	return []any{
		KeySlabBlockSize, blockSize,
		KeySlabRegions, regions,
		KeySlabUsed, used,
		KeySlabFree, free,
	}
}

func QueueDepth(v int) slog.Attr { return slog.Int(KeyQueueDepth, v) }
func InFlight(v int) slog.Attr   { return slog.Int(KeyInFlight, v) }
