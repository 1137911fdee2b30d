package engine

import "errors"

// Error definitions for zero-tolerance error handling. Calculator errors
// (insufficient or stale snapshots) are propagated unchanged from the apr
// package; everything else in the caller-visible taxonomy lives here.
var (
	// ErrInvalidDestination covers unregistered, disabled, and wrong-asset
	// destinations, including attempts to rebind a destination to a
	// different asset.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrAssetMismatch is returned when the two sides of a move do not share
	// an underlying asset.
	ErrAssetMismatch = errors.New("destinations do not share an underlying asset")

	// ErrInsufficientImprovement is returned when the target destination's
	// APR does not exceed the source's by at least the policy minimum.
	ErrInsufficientImprovement = errors.New("APR improvement below policy minimum")

	// ErrMaxInvestmentReached is returned when a move would push the target
	// destination balance past the policy ceiling.
	ErrMaxInvestmentReached = errors.New("move would exceed the max investment ceiling")

	// ErrInsufficientBalance is returned when the owner's source balance,
	// valued in the underlying asset, is below the requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance at source destination")

	// ErrSnapshotTooSoon is returned by the strict snapshot variant when the
	// minimum spacing since the destination's last snapshot has not elapsed.
	ErrSnapshotTooSoon = errors.New("minimum snapshot spacing has not elapsed")

	// ErrAccountNotInstalled is returned when the acting owner has not been
	// installed into the engine.
	ErrAccountNotInstalled = errors.New("account not installed")

	// ErrNoPolicy is returned when no policy exists for the (owner, asset)
	// pair a decision needs.
	ErrNoPolicy = errors.New("no policy configured for owner and asset")

	// ErrInvalidPolicy is returned when policy parameters fail validation.
	ErrInvalidPolicy = errors.New("invalid policy parameters")

	// ErrInvalidAmount is returned when a move or payment amount is not
	// positive.
	ErrInvalidAmount = errors.New("amount must be positive")
)
