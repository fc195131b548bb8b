package heist

import "errors"

var (
	// ErrInvalidInput rejects malformed addresses, non-positive amounts and
	// empty dares before any state change.
	ErrInvalidInput = errors.New("invalid input")

	ErrNotFound       = errors.New("heist not found")
	ErrNotJoinable    = errors.New("heist not joinable")
	ErrNotBettable    = errors.New("bets closed for heist")
	ErrNotSubmittable = errors.New("proof not accepted for heist")
	ErrNotSettleable  = errors.New("heist not settleable")
	ErrNotDisputable  = errors.New("heist not disputable")

	ErrAlreadyJoined  = errors.New("heist already joined")
	ErrAlreadySettled = errors.New("heist already settled")
	ErrAlreadyClaimed = errors.New("winnings already claimed")
	ErrNotSettled     = errors.New("heist not settled")

	// ErrInsufficientRep means the joiner cannot cover the required stake.
	ErrInsufficientRep = errors.New("insufficient reputation to stake")
)
