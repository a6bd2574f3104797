package runtime

import (
	"errors"
	"fmt"
)

// Precondition errors returned by Manager.InvokeTool. They are wrapped with
// the offending identifiers, so match them with errors.Is. Use Classify to
// tell a precondition failure of this call from a handler error that happens
// to wrap one of them.
var (
	ErrRuntimeNotFound   = errors.New("runtime not found")
	ErrRuntimeNotRunning = errors.New("runtime not running")
	ErrToolNotFound      = errors.New("tool not found in registry")
	ErrToolNotRegistered = errors.New("tool not registered in this server")
)

// PermissionDeniedError is returned when an agent calls a tool outside its
// allow-list on a server. It is always preceded by a permission_denied event
// and telemetry notification.
type PermissionDeniedError struct {
	AgentID  string
	ToolID   string
	ServerID string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("agent %q is not permitted to call tool %q on server %q", e.AgentID, e.ToolID, e.ServerID)
}

// preconditionError marks an error raised by InvokeTool itself before any
// handler ran.
type preconditionError struct {
	kind ErrorKind
	err  error
}

func (e *preconditionError) Error() string { return e.err.Error() }

func (e *preconditionError) Unwrap() error { return e.err }

func precondition(kind ErrorKind, sentinel error, format string, args ...any) error {
	return &preconditionError{
		kind: kind,
		err:  fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...),
	}
}

// isPrecondition reports whether err was raised by InvokeTool itself rather
// than returned by a handler.
func isPrecondition(err error) bool {
	switch err.(type) {
	case *preconditionError, *PermissionDeniedError:
		return true
	default:
		return false
	}
}

// IsPermissionDenied reports whether err is or wraps a PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var pd *PermissionDeniedError
	return errors.As(err, &pd)
}

// ErrorKind classifies an InvokeTool error for callers that map outcomes to
// transport status codes.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindNotRunning
	KindPermissionDenied
	KindToolNotFound
	KindToolNotRegistered
	KindToolFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindNotRunning:
		return "not_running"
	case KindPermissionDenied:
		return "permission_denied"
	case KindToolNotFound:
		return "tool_not_found"
	case KindToolNotRegistered:
		return "tool_not_registered"
	case KindToolFailure:
		return "tool_failure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Classify maps an InvokeTool error to its kind. Only errors raised by the
// manager before the handler ran are precondition kinds; anything else,
// including a handler error that wraps a package sentinel, is a handler
// failure.
func Classify(err error) ErrorKind {
	switch e := err.(type) {
	case nil:
		return KindNone
	case *preconditionError:
		return e.kind
	case *PermissionDeniedError:
		return KindPermissionDenied
	default:
		return KindToolFailure
	}
}
