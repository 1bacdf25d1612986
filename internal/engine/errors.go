package engine

import "errors"

// Sentinel errors for the engine. All of them are local-state validation
// failures: a call that returns one of these has not mutated any session,
// world, or calibration state.
var (
	// ErrInvalidMode indicates an unrecognized trust mode at session start.
	ErrInvalidMode = errors.New("invalid trust mode")

	// ErrInvalidChoice indicates a committed choice id that was not quoted.
	ErrInvalidChoice = errors.New("choice id is not among the quoted options")

	// ErrSessionNotFound indicates an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWorldNotFound indicates an unknown world id or a world with no members.
	ErrWorldNotFound = errors.New("world not found")

	// ErrWorldFinalized indicates a join attempt on a finalized world.
	ErrWorldFinalized = errors.New("world already finalized")

	// ErrSessionFinalized indicates a turn operation on a finalized session.
	ErrSessionFinalized = errors.New("session already finalized")

	// ErrNoOutstandingQuote indicates a commit without a prior quote.
	ErrNoOutstandingQuote = errors.New("no outstanding quote to commit")

	// ErrSeedExhausted indicates the session reached its turn bound.
	ErrSeedExhausted = errors.New("session turn bound exhausted")

	// ErrMissingWallet indicates a verified session started without a wallet.
	ErrMissingWallet = errors.New("verified mode requires a wallet")
)
