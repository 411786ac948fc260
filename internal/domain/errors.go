package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrConflict      = errors.New("concurrent modification")

	// Bet placement rejections.
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBettingClosed       = errors.New("betting window closed")
	ErrExposureCapExceeded = errors.New("exposure cap exceeded")

	// Lifecycle and settlement.
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrAlreadySettled     = errors.New("event already settled")
	ErrNoWinningOption    = errors.New("no option matches the settlement value")
	ErrAmbiguousWinner    = errors.New("more than one option matches the settlement value")
	ErrActualValueMissing = errors.New("actual indicator value not yet known")
	ErrStageNotReady      = errors.New("event has not reached the required stage")
	ErrNoPriceData        = errors.New("no price data in window")
)
