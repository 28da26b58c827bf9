package agent

import "errors"

// Sentinel errors for turn execution.
var (
	// ErrNoProvider indicates no model provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrProviderStream indicates the provider stream reported a
	// terminal error for the round.
	ErrProviderStream = errors.New("provider stream error")

	// ErrTurnCanceled indicates a cancellation checkpoint fired between
	// tool-calling rounds.
	ErrTurnCanceled = errors.New("turn canceled")
)
