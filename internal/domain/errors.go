package domain

import "errors"

var (
	// ErrInvalidInput marks request data that can never be decided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTime is returned by strict Time parsing.
	ErrInvalidTime = errors.New("invalid transaction time")

	// ErrUnknownPolicy is a configuration error for unsupported fusion policy names.
	ErrUnknownPolicy = errors.New("unknown fusion policy")

	// ErrIncompleteGeneration means one or more artifact blobs of a generation are missing.
	ErrIncompleteGeneration = errors.New("incomplete artifact generation")

	// ErrGenerationNotFound is returned for unknown generation IDs.
	ErrGenerationNotFound = errors.New("generation not found")

	// ErrNoPromotedGeneration means no generation has been promoted yet.
	ErrNoPromotedGeneration = errors.New("no promoted generation")

	// ErrNoRollbackTarget means the promotion history has nothing to roll back to.
	ErrNoRollbackTarget = errors.New("no previous generation to roll back to")

	// ErrLockHeld means another holder owns the lease.
	ErrLockHeld = errors.New("lock held by another owner")

	// ErrNotServing is returned when a decision is requested before a generation is loaded.
	ErrNotServing = errors.New("no generation loaded")
)
