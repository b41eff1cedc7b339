package domain

import "errors"

var (
	// ErrServiceUnavailable means the recommendation service could not accept or answer a request
	ErrServiceUnavailable = errors.New("recommendation service unavailable")
	// ErrPollTimeout means polling attempts were exhausted without a completed job
	ErrPollTimeout = errors.New("recommendation polling timed out")
	// ErrInsufficientFunds means a mutation would make the portfolio balance negative
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNotFound means a trade or portfolio record does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means a trade status change is not allowed
	ErrInvalidTransition = errors.New("invalid trade status transition")
	// ErrInvalidAmount means a monetary amount is not strictly positive
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrTradingStopped means the operation requires trading to be switched on
	ErrTradingStopped = errors.New("trading is stopped")
	// ErrAtCapacity means every admission slot is taken
	ErrAtCapacity = errors.New("maximum number of active trades reached")
)
