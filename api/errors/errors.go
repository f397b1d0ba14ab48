// Package errors classifies failures by the error kinds sysinspect's
// components surface across their boundaries (configuration, protocol,
// auth, queue, payload-missing, module, storage), matching the shape of
// maco's Code-based Error but without its gRPC/protobuf transport.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is a classified, JSON-marshalable error carrying a Code and a
// human-readable detail string, with an optional wrapped cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	cause   error
}

func New(code Code, detail string) *Error {
	return &Error{Code: code, Message: code.String(), Detail: detail}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap classifies err under code, preserving err as the unwrap target.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: code.String(), Detail: err.Error(), cause: err}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// MarshalJSON ensures the wrapped cause, which generally isn't itself
// serializable, never leaks into the encoded form.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	}
	return json.Marshal(alias{Code: e.Code, Message: e.Message, Detail: e.Detail})
}

// Is reports whether err is an *Error carrying the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func NewConfiguration(detail string) *Error { return New(CodeConfiguration, detail) }
func NewProtocol(detail string) *Error      { return New(CodeProtocol, detail) }
func NewAuth(detail string) *Error          { return New(CodeAuth, detail) }
func NewQueue(detail string) *Error         { return New(CodeQueue, detail) }
func NewPayloadMissing(detail string) *Error { return New(CodePayloadMissing, detail) }
func NewModule(detail string) *Error        { return New(CodeModule, detail) }
func NewStorage(detail string) *Error       { return New(CodeStorage, detail) }
func NewNotFound(detail string) *Error      { return New(CodeNotFound, detail) }
func NewInternal(detail string) *Error      { return New(CodeInternal, detail) }

func NewConfigurationf(format string, args ...any) *Error { return Newf(CodeConfiguration, format, args...) }
func NewProtocolf(format string, args ...any) *Error      { return Newf(CodeProtocol, format, args...) }
func NewAuthf(format string, args ...any) *Error          { return Newf(CodeAuth, format, args...) }
func NewQueuef(format string, args ...any) *Error         { return Newf(CodeQueue, format, args...) }
func NewModulef(format string, args ...any) *Error        { return Newf(CodeModule, format, args...) }
func NewStoragef(format string, args ...any) *Error       { return Newf(CodeStorage, format, args...) }
