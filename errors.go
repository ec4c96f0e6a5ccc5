package weave

import (
	"errors"
	"fmt"
)

// ProtocolError is the common shape of every wire-originated error: a
// numeric code from the published table and the server's
// message. All typed error kinds below embed one and can be recovered
// from any wrapped error with errors.As(err, &protoErr).
type ProtocolError struct {
	Code int
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s (error code %d)", e.Msg, e.Code)
}

// Sentinel, non-wire errors raised by the connector itself rather than
// decoded from a server ERROR response.
var (
	// ErrPidExhausted is returned by a send when the pid counter has
	// wrapped onto a still-pending request. Cluster operation at 65,535
	// concurrent outstanding requests is not expected; this is
	// treated as a fatal, refuse-to-send condition rather than silent
	// pid reuse (resolves Open Question (a) per spec's recommendation).
	ErrPidExhausted = errors.New("weave: pid space exhausted (too many outstanding requests)")
	// ErrNotConnected is returned by a strict-mode write when no
	// transport is currently established.
	ErrNotConnected = errors.New("weave: not connected")
	// ErrConnectionLost marks a pending request cancelled because its
	// transport was lost before a response arrived.
	ErrConnectionLost = errors.New("weave: connection lost")
	// ErrRoomNotJoined is returned by Room.Leave/Emit when the room's id
	// has never been resolved (join/no_join was never called).
	ErrRoomNotJoined = errors.New("weave: room id not resolved; join() was never called")
	// ErrArgsKwargsExclusive is returned by Run when both positional
	// args and keyword args are supplied.
	ErrArgsKwargsExclusive = errors.New("weave: run: cannot use both positional args and kwargs")
	// ErrRoomNotFound is returned by Room.Join when the JOIN response
	// reports the room id as unknown to the server (a `null` in the
	// response list).
	ErrRoomNotFound = errors.New("weave: room not found")
)

// The typed error kinds from wire-code table. Each wraps a
// *ProtocolError so callers can branch with errors.As(err, &*Kind) or
// recover the numeric code with errors.As(err, &*ProtocolError).

type CancelledError struct{ *ProtocolError }
type OperationError struct{ *ProtocolError }
type NumArgumentsError struct{ *ProtocolError }
type TypeError struct{ *ProtocolError }
type ValueError struct{ *ProtocolError }
type OverflowError struct{ *ProtocolError }
type ZeroDivisionError struct{ *ProtocolError }
type MaxQuotaError struct{ *ProtocolError }
type AuthError struct{ *ProtocolError }
type ForbiddenError struct{ *ProtocolError }
type LookupError struct{ *ProtocolError }
type BadDataError struct{ *ProtocolError }
type SyntaxError struct{ *ProtocolError }
type NodeError struct{ *ProtocolError }
type AssertionError struct{ *ProtocolError }
type ResultTooLargeError struct{ *ProtocolError }
type RequestTimeoutError struct{ *ProtocolError }
type RequestCancelError struct{ *ProtocolError }
type WriteUVError struct{ *ProtocolError }
type MemoryError struct{ *ProtocolError }
type InternalError struct{ *ProtocolError }

// CustomError is returned for any negative error code not in the
// published table, preserving the raw server map for inspection.
type CustomError struct {
	*ProtocolError
	Data map[string]any
}

func (e *CancelledError) Unwrap() error       { return e.ProtocolError }
func (e *OperationError) Unwrap() error       { return e.ProtocolError }
func (e *NumArgumentsError) Unwrap() error    { return e.ProtocolError }
func (e *TypeError) Unwrap() error            { return e.ProtocolError }
func (e *ValueError) Unwrap() error           { return e.ProtocolError }
func (e *OverflowError) Unwrap() error        { return e.ProtocolError }
func (e *ZeroDivisionError) Unwrap() error    { return e.ProtocolError }
func (e *MaxQuotaError) Unwrap() error        { return e.ProtocolError }
func (e *AuthError) Unwrap() error            { return e.ProtocolError }
func (e *ForbiddenError) Unwrap() error       { return e.ProtocolError }
func (e *LookupError) Unwrap() error          { return e.ProtocolError }
func (e *BadDataError) Unwrap() error         { return e.ProtocolError }
func (e *SyntaxError) Unwrap() error          { return e.ProtocolError }
func (e *NodeError) Unwrap() error            { return e.ProtocolError }
func (e *AssertionError) Unwrap() error       { return e.ProtocolError }
func (e *ResultTooLargeError) Unwrap() error  { return e.ProtocolError }
func (e *RequestTimeoutError) Unwrap() error  { return e.ProtocolError }
func (e *RequestCancelError) Unwrap() error   { return e.ProtocolError }
func (e *WriteUVError) Unwrap() error         { return e.ProtocolError }
func (e *MemoryError) Unwrap() error          { return e.ProtocolError }
func (e *InternalError) Unwrap() error        { return e.ProtocolError }
func (e *CustomError) Unwrap() error          { return e.ProtocolError }

// Error codes.
const (
	codeCancelled       = -64
	codeOperationError  = -63
	codeNumArguments    = -62
	codeTypeError       = -61
	codeValueError      = -60
	codeOverflow        = -59
	codeZeroDivision    = -58
	codeMaxQuota        = -57
	codeAuthError       = -56
	codeForbidden       = -55
	codeLookupError     = -54
	codeBadData         = -53
	codeSyntaxError     = -52
	codeNodeError       = -51
	codeAssertionError  = -50
	codeResultTooLarge  = -6
	codeRequestTimeout  = -5
	codeRequestCancel   = -4
	codeWriteUV         = -3
	codeMemoryError     = -2
	codeInternalError   = -1
)

var errConstructors = map[int]func(*ProtocolError) error{
	codeCancelled:      func(p *ProtocolError) error { return &CancelledError{p} },
	codeOperationError: func(p *ProtocolError) error { return &OperationError{p} },
	codeNumArguments:   func(p *ProtocolError) error { return &NumArgumentsError{p} },
	codeTypeError:      func(p *ProtocolError) error { return &TypeError{p} },
	codeValueError:     func(p *ProtocolError) error { return &ValueError{p} },
	codeOverflow:       func(p *ProtocolError) error { return &OverflowError{p} },
	codeZeroDivision:   func(p *ProtocolError) error { return &ZeroDivisionError{p} },
	codeMaxQuota:       func(p *ProtocolError) error { return &MaxQuotaError{p} },
	codeAuthError:      func(p *ProtocolError) error { return &AuthError{p} },
	codeForbidden:      func(p *ProtocolError) error { return &ForbiddenError{p} },
	codeLookupError:    func(p *ProtocolError) error { return &LookupError{p} },
	codeBadData:        func(p *ProtocolError) error { return &BadDataError{p} },
	codeSyntaxError:    func(p *ProtocolError) error { return &SyntaxError{p} },
	codeNodeError:      func(p *ProtocolError) error { return &NodeError{p} },
	codeAssertionError: func(p *ProtocolError) error { return &AssertionError{p} },
	codeResultTooLarge: func(p *ProtocolError) error { return &ResultTooLargeError{p} },
	codeRequestTimeout: func(p *ProtocolError) error { return &RequestTimeoutError{p} },
	codeRequestCancel:  func(p *ProtocolError) error { return &RequestCancelError{p} },
	codeWriteUV:        func(p *ProtocolError) error { return &WriteUVError{p} },
	codeMemoryError:    func(p *ProtocolError) error { return &MemoryError{p} },
	codeInternalError:  func(p *ProtocolError) error { return &InternalError{p} },
}

// errorFromMap builds a typed error from a decoded ERROR response
// payload, falling back to CustomError for codes outside the published
// table.
func errorFromMap(d map[string]any) error {
	code, _ := toInt(d["error_code"])
	msg, _ := d["error_msg"].(string)
	p := &ProtocolError{Code: code, Msg: msg}
	if ctor, ok := errConstructors[code]; ok {
		return ctor(p)
	}
	return &CustomError{ProtocolError: p, Data: d}
}

// newRequestTimeoutError builds the local-timeout flavor of
// RequestTimeoutError, raised by the multiplexer's own timer rather
// than decoded from the wire.
func newRequestTimeoutError(pid uint16) error {
	return &RequestTimeoutError{&ProtocolError{
		Code: codeRequestTimeout,
		Msg:  fmt.Sprintf("request timed out on packet id %d", pid),
	}}
}

// isRetryableWriteError reports whether an error from a request should
// be retried by the "ensure" write policy: NodeError, AuthError,
// Cancelled (spec §4.D), or a connection-loss-shaped cancellation.
func isRetryableWriteError(err error) bool {
	var nodeErr *NodeError
	var authErr *AuthError
	var cancelledErr *CancelledError
	if errors.As(err, &nodeErr) || errors.As(err, &authErr) || errors.As(err, &cancelledErr) {
		return true
	}
	return errors.Is(err, ErrConnectionLost)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
