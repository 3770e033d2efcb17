// Package wire implements the length-agnostic msgpack request/response
// codec shared by the server and client halves of the block-storage front
// end. Framing (the length prefix) is the transport package's concern, not
// this one.
package wire

// Opcode is the closed enum of request/response operations. Numeric values
// are positional per the declaration order below and are part of the wire
// contract: do not reorder existing entries.
type Opcode uint8

const (
	OpNoop Opcode = iota
	OpOpenReq
	OpOpenRsp
	OpCloseReq
	OpCloseRsp
	OpReadReq
	OpReadRsp
	OpWriteReq
	OpWriteRsp
	OpFlushReq
	OpFlushRsp
	OpCreateVolumeReq
	OpCreateVolumeRsp
	OpRemoveVolumeReq
	OpRemoveVolumeRsp
	OpTruncateVolumeReq
	OpTruncateVolumeRsp
	OpStatVolumeReq
	OpStatVolumeRsp
	OpListVolumesReq
	OpListVolumesRsp
	OpListSnapshotsReq
	OpListSnapshotsRsp
	OpCreateSnapshotReq
	OpCreateSnapshotRsp
	OpDeleteSnapshotReq
	OpDeleteSnapshotRsp
	OpRollbackSnapshotReq
	OpRollbackSnapshotRsp
	OpIsSnapshotSyncedReq
	OpIsSnapshotSyncedRsp
	OpListClusterNodeURIReq
	OpListClusterNodeURIRsp
	OpGetVolumeURIReq
	OpGetVolumeURIRsp
	OpErrorRsp
	OpShutdownReq
	OpShutdownRsp
)

var opcodeNames = map[Opcode]string{
	OpNoop:                  "Noop",
	OpOpenReq:                "OpenReq",
	OpOpenRsp:                "OpenRsp",
	OpCloseReq:               "CloseReq",
	OpCloseRsp:               "CloseRsp",
	OpReadReq:                "ReadReq",
	OpReadRsp:                "ReadRsp",
	OpWriteReq:               "WriteReq",
	OpWriteRsp:               "WriteRsp",
	OpFlushReq:               "FlushReq",
	OpFlushRsp:               "FlushRsp",
	OpCreateVolumeReq:        "CreateVolumeReq",
	OpCreateVolumeRsp:        "CreateVolumeRsp",
	OpRemoveVolumeReq:        "RemoveVolumeReq",
	OpRemoveVolumeRsp:        "RemoveVolumeRsp",
	OpTruncateVolumeReq:      "TruncateVolumeReq",
	OpTruncateVolumeRsp:      "TruncateVolumeRsp",
	OpStatVolumeReq:          "StatVolumeReq",
	OpStatVolumeRsp:          "StatVolumeRsp",
	OpListVolumesReq:         "ListVolumesReq",
	OpListVolumesRsp:         "ListVolumesRsp",
	OpListSnapshotsReq:       "ListSnapshotsReq",
	OpListSnapshotsRsp:       "ListSnapshotsRsp",
	OpCreateSnapshotReq:      "CreateSnapshotReq",
	OpCreateSnapshotRsp:      "CreateSnapshotRsp",
	OpDeleteSnapshotReq:      "DeleteSnapshotReq",
	OpDeleteSnapshotRsp:      "DeleteSnapshotRsp",
	OpRollbackSnapshotReq:    "RollbackSnapshotReq",
	OpRollbackSnapshotRsp:    "RollbackSnapshotRsp",
	OpIsSnapshotSyncedReq:    "IsSnapshotSyncedReq",
	OpIsSnapshotSyncedRsp:    "IsSnapshotSyncedRsp",
	OpListClusterNodeURIReq:  "ListClusterNodeURIReq",
	OpListClusterNodeURIRsp:  "ListClusterNodeURIRsp",
	OpGetVolumeURIReq:        "GetVolumeURIReq",
	OpGetVolumeURIRsp:        "GetVolumeURIRsp",
	OpErrorRsp:               "ErrorRsp",
	OpShutdownReq:            "ShutdownReq",
	OpShutdownRsp:            "ShutdownRsp",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "Unknown"
}

// IsRequest reports whether o is one of the request-side opcodes that a
// client submits to a server (Noop and Shutdown are requests too).
func (o Opcode) IsRequest() bool {
	switch o {
	case OpNoop, OpOpenReq, OpCloseReq, OpReadReq, OpWriteReq, OpFlushReq,
		OpCreateVolumeReq, OpRemoveVolumeReq, OpTruncateVolumeReq,
		OpStatVolumeReq, OpListVolumesReq, OpListSnapshotsReq,
		OpCreateSnapshotReq, OpDeleteSnapshotReq, OpRollbackSnapshotReq,
		OpIsSnapshotSyncedReq, OpListClusterNodeURIReq, OpGetVolumeURIReq,
		OpShutdownReq:
		return true
	default:
		return false
	}
}

// Response returns the paired response opcode for a request opcode, or
// OpErrorRsp if op has no 1:1 pairing (OpNoop has no distinct response;
// callers reply with OpErrorRsp/EBADMSG per spec §4.4).
func (o Opcode) Response() Opcode {
	switch o {
	case OpOpenReq:
		return OpOpenRsp
	case OpCloseReq:
		return OpCloseRsp
	case OpReadReq:
		return OpReadRsp
	case OpWriteReq:
		return OpWriteRsp
	case OpFlushReq:
		return OpFlushRsp
	case OpCreateVolumeReq:
		return OpCreateVolumeRsp
	case OpRemoveVolumeReq:
		return OpRemoveVolumeRsp
	case OpTruncateVolumeReq:
		return OpTruncateVolumeRsp
	case OpStatVolumeReq:
		return OpStatVolumeRsp
	case OpListVolumesReq:
		return OpListVolumesRsp
	case OpListSnapshotsReq:
		return OpListSnapshotsRsp
	case OpCreateSnapshotReq:
		return OpCreateSnapshotRsp
	case OpDeleteSnapshotReq:
		return OpDeleteSnapshotRsp
	case OpRollbackSnapshotReq:
		return OpRollbackSnapshotRsp
	case OpIsSnapshotSyncedReq:
		return OpIsSnapshotSyncedRsp
	case OpListClusterNodeURIReq:
		return OpListClusterNodeURIRsp
	case OpGetVolumeURIReq:
		return OpGetVolumeURIRsp
	case OpShutdownReq:
		return OpShutdownRsp
	default:
		return OpErrorRsp
	}
}
