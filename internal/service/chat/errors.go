package chat

import "errors"

// Kind classifies chat errors for the gateway.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindStorage    Kind = "storage"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrStorage    = &Error{Kind: KindStorage}
)

// Error wraps a kind and a human-readable message.
// Message is safe to show to clients; Err holds the internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels, which carry no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindStorage for foreign errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindStorage
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func notFoundError(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: err}
}

func forbiddenError(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func storageError(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}

// Client-facing messages.
const (
	msgMissingTypeOrParticipants = "Please provide both chat type and participant ID."
	msgMissingListing            = "Please provide listing ID."
	msgUnsupportedType           = "Unsupported chat type."
	msgDirectPair                = "Direct chats require exactly one other participant."
	msgInvalidParticipant        = "Participant IDs must be positive."
	msgParticipantNotFound       = "Participant not found."
	msgRoomRequired              = "Room ID is required"
	msgMessageTooLong            = "Message is too long."
	msgMessageRequired           = "Message ID is required."
	msgRoomNotFound              = "Room not found."
	msgMessageNotFound           = "Message not found."
	msgNotParticipant            = "You are not a participant of this room."
)
