package models

import "errors"

// Sentinel errors for the prediction engine. Degraded results are
// flagged on the result itself (Quality); these errors cover only the
// cases where no result can be produced at all.
var (
	// ErrInsufficientData means zero exposure time was available, so a
	// rate is undefined. Fatal to that single estimate, not the system.
	ErrInsufficientData = errors.New("insufficient data: zero exposure time")

	// ErrNotFound means no cached or computable value exists for a key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidGameState means a pushed snapshot is structurally
	// invalid (negative clock, missing identifiers).
	ErrInvalidGameState = errors.New("invalid game state")

	// ErrInvalidContext means a game context is malformed beyond what
	// neutral defaults can repair.
	ErrInvalidContext = errors.New("invalid game context")
)
