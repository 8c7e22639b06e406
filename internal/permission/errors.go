package permission

import "errors"

var (
	// ErrUnknownMode indicates a mode name outside the fixed set.
	ErrUnknownMode = errors.New("unknown permission mode")

	// ErrPromptUnavailable indicates an ask resolution with no prompter
	// configured. The call fails rather than silently resolving.
	ErrPromptUnavailable = errors.New("permission prompt unavailable")
)
