package common

import "fmt"

// Code is a session-level result code, the Go-native counterpart of
// TySifiveTraceProfileError from the original interface this package's
// domain was distilled from.
type Code int

const (
	Ok Code = iota
	FileNotFound
	CannotOpenFile
	InputArgNull
	ElfNull
	MemCreateErr
	TraceStatusError
	AckErr
	Err

	// Parser-level codes (spec.md §4.1/§7, per-message recoverable).
	EndOfMessage
	BadMessage
	UnknownTCode
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "OK"
	case FileNotFound:
		return "FILE_NOT_FOUND"
	case CannotOpenFile:
		return "CANNOT_OPEN_FILE"
	case InputArgNull:
		return "INPUT_ARG_NULL"
	case ElfNull:
		return "ELF_NULL"
	case MemCreateErr:
		return "MEM_CREATE_ERR"
	case TraceStatusError:
		return "TRACE_STATUS_ERROR"
	case AckErr:
		return "ACK_ERR"
	case Err:
		return "ERR"
	case EndOfMessage:
		return "END_OF_MESSAGE"
	case BadMessage:
		return "BAD_MESSAGE"
	case UnknownTCode:
		return "UNKNOWN_TCODE"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a Code with context, and implements the standard error
// interface so callers can use errors.Is/As against the Code.
type Error struct {
	Code    Code
	Message string
}

func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func NewErrorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is allows errors.Is(err, SomeCode) style comparisons against a bare Code
// by first wrapping it: errors.Is(err, common.NewError(common.BadMessage, ""))
// compares Codes, ignoring Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsFatal reports whether the code is session-terminating rather than a
// per-message or per-core recoverable condition (spec.md §7).
func (c Code) IsFatal() bool {
	switch c {
	case AckErr, MemCreateErr, TraceStatusError, Err, ElfNull, InputArgNull, CannotOpenFile, FileNotFound:
		return true
	default:
		return false
	}
}

// IsRecoverable reports whether the code names a per-message condition the
// parser can resynchronize past without ending the core's session.
func (c Code) IsRecoverable() bool {
	switch c {
	case EndOfMessage, BadMessage, UnknownTCode:
		return true
	default:
		return false
	}
}
