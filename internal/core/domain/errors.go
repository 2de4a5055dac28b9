package domain

import "errors"

var (
	// ErrConversationNotFound is returned when no conversation matches an id
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrOperatorConflict: the conversation is owned by a different operator
	ErrOperatorConflict = errors.New("conversation is assigned to another operator")

	// ErrNotAssigned: hand-back on a conversation that no operator has taken over
	ErrNotAssigned = errors.New("conversation is not assigned to an operator")

	// ErrOperatorRequired: an operator action arrived without operator identity
	ErrOperatorRequired = errors.New("operator identity is required")

	// ErrInvalidTransition: a booking phase change that skips or reverses a step
	ErrInvalidTransition = errors.New("invalid booking transition")

	// ErrEmptyMessage: blank message text
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrDuplicateMessage: the platform message id is already in the log
	ErrDuplicateMessage = errors.New("platform message already logged")
)
