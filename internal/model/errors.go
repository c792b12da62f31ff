package model

import "errors"

// Common errors used across the application
var (
	// Record errors
	ErrRecordNotFound    = errors.New("record not found")
	ErrInvalidCollection = errors.New("invalid collection")
	ErrInvalidID         = errors.New("invalid entity id")
	ErrInvalidPayload    = errors.New("invalid payload")

	// Queue errors
	ErrEntryNotFound      = errors.New("pending write not found")
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	// Entity errors
	ErrPlayerNotFound     = errors.New("player not found")
	ErrSeasonNotFound     = errors.New("season not found")
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrGameNotFound       = errors.New("saved game not found")
)
