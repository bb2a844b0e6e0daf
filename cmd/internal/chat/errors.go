package chat

import "errors"

var (
	// ErrUserNotFound is returned when a user id or email does not resolve.
	ErrUserNotFound = errors.New("user not found")

	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrDuplicateConversation is returned when a one-to-one conversation
	// already exists for the given participant pair.
	ErrDuplicateConversation = errors.New("one-to-one conversation already exists")

	// ErrDuplicateEmail is returned when registering an email that is
	// already taken.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrValidation wraps payload-shape violations. Callers surface these
	// to the offending sender only, never to the room.
	ErrValidation = errors.New("validation failed")
)
