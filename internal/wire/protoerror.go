package wire

import "fmt"

// Kind is the closed set of abstract error kinds from spec §7, with Errno
// giving each kind's wire code. The server and client packages set and
// read Errno values directly; none of them builds a Kind or ProtoError.
type Kind int

const (
	KindNone Kind = iota
	KindMalformedMessage
	KindNotFound
	KindAlreadyExists
	KindHasChildren
	KindResourceBusy
	KindTimeout
	KindOutOfMemory
	KindTransportError
	KindNotConnected
	KindUnsupported
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindMalformedMessage:
		return "MalformedMessage"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindHasChildren:
		return "HasChildren"
	case KindResourceBusy:
		return "ResourceBusy"
	case KindTimeout:
		return "Timeout"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindTransportError:
		return "TransportError"
	case KindNotConnected:
		return "NotConnected"
	case KindUnsupported:
		return "Unsupported"
	case KindInternal:
		return "Internal"
	default:
		return "None"
	}
}

// Errno maps a Kind onto the errno-style code the wire header carries.
// This is the one place spec §7's table is encoded as data.
func (k Kind) Errno() Errno {
	switch k {
	case KindMalformedMessage:
		return EBADMSG
	case KindNotFound:
		return ENOENT
	case KindAlreadyExists:
		return EEXIST
	case KindHasChildren:
		return ENOTEMPTY
	case KindResourceBusy:
		return EBUSY
	case KindTimeout:
		return ETIMEDOUT
	case KindOutOfMemory:
		return ENOMEM
	case KindTransportError:
		return EIO
	case KindNotConnected:
		return ENOTCONN
	case KindUnsupported:
		return ENOSYS
	case KindInternal:
		return EIO
	default:
		return EOK
	}
}

// ProtoError is a typed error pairing an operation name with a Kind and
// the underlying cause.
type ProtoError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ProtoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *ProtoError) Unwrap() error { return e.Err }

func NewProtoError(op string, kind Kind, err error) *ProtoError {
	return &ProtoError{Op: op, Kind: kind, Err: err}
}
