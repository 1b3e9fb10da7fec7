package domain

import "errors"

var (
	ErrInvalidIntent        = errors.New("invalid trade intent")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrNoSuchPosition       = errors.New("no such position")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrMissingPrice         = errors.New("missing price")
	ErrCorruptState         = errors.New("corrupt portfolio state")
	ErrAlreadyRunning       = errors.New("already running")
	ErrNotRunning           = errors.New("not running")
	ErrPositionLimit        = errors.New("open position limit reached")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrLockHeld             = errors.New("lock already held")
)
