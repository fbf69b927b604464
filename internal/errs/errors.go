// Package errs defines the coded error type that crosses the dispatcher
// boundary. Codes are part of the wire contract and must stay stable.
package errs

import (
	"errors"
	"fmt"
)

// Handler failure codes
const (
	Unauthorized        = "Unauthorized"
	InvalidMessage      = "InvalidMessage"
	UnknownType         = "UnknownType"
	InvalidPayload      = "InvalidPayload"
	InvalidDeviceID     = "InvalidDeviceId"
	AlreadyOnline       = "AlreadyOnline"
	InvalidRecipient    = "InvalidRecipient"
	InvalidFriend       = "InvalidFriend"
	InvalidAmount       = "InvalidAmount"
	InvalidResourceType = "InvalidResourceType"
	NotFriends          = "NotFriends"
	InsufficientFunds   = "InsufficientFunds"
	LockTimeout         = "LockTimeout"
	InternalError       = "InternalError"
)

// Repository failure codes, passed through to clients verbatim
const (
	PlayerNotFound          = "Player.NotFound"
	ResourceNotFound        = "Resource.NotFound"
	FriendshipAlreadyExists = "Friendship.AlreadyExists"
	CreatePlayerFailed      = "CreatePlayer.Failed"
	GetResourceFailed       = "GetResourceAmount.Failed"
	UpdateResourceFailed    = "UpdateResource.Failed"
	GetFriendIDsFailed      = "GetFriendIds.Failed"
	AddFriendshipFailed     = "AddFriendship.Failed"
	TransactionFailed       = "Transaction.Failed"
)

// Error is a failure with a stable code and a human readable message
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

// New creates a coded error
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error. A nil err yields nil.
// An err that already carries a code keeps it.
func Wrap(code string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: code, Message: err.Error(), cause: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf returns the code carried by err, or InternalError
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// MessageOf returns the client-facing message for err
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// Is reports whether err carries the given code
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
