package rpc

import (
	"errors"
	"fmt"

	"ringdht/internal/table"
)

// Fault codes. The negative ones follow JSON-RPC; the positive ones carry
// table errors across the wire.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeAlreadyExists   = 1
	CodeInvalidArgument = 2
	CodeRemoteFailure   = 3
)

// Fault is a structured error delivered inside a successful response.
type Fault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.Message)
}

// Unwrap maps application codes back to the table errors they came from, so
// errors.Is works on the calling side.
func (f *Fault) Unwrap() error {
	switch f.Code {
	case CodeAlreadyExists:
		return table.ErrAlreadyExists
	case CodeInvalidArgument:
		return table.ErrInvalidArgument
	case CodeRemoteFailure:
		return table.ErrRemoteFailure
	}
	return nil
}

// Faultf builds a fault with a formatted message.
func Faultf(code int, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FaultFromError converts a handler error into a fault.
func FaultFromError(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	code := CodeInternal
	switch {
	case errors.Is(err, table.ErrAlreadyExists):
		code = CodeAlreadyExists
	case errors.Is(err, table.ErrInvalidArgument):
		code = CodeInvalidArgument
	case errors.Is(err, table.ErrRemoteFailure):
		code = CodeRemoteFailure
	}
	return &Fault{Code: code, Message: err.Error()}
}
