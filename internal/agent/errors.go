package agent

import "errors"

var (
	// ErrAgentNotFound indicates an unknown agent id.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrUnknownAgentType indicates a type outside the fixed registry.
	ErrUnknownAgentType = errors.New("unknown agent type")

	// ErrAlreadyCompleted indicates a resume attempt on a terminal agent.
	ErrAlreadyCompleted = errors.New("cannot resume: agent already completed")

	// ErrAlreadyRunning indicates a resume attempt on a live agent.
	ErrAlreadyRunning = errors.New("cannot resume: agent currently running")

	// ErrTooManyAgents indicates the active-agent ceiling was hit.
	ErrTooManyAgents = errors.New("too many active agents")
)
