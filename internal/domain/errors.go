package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrSigningFailed     = errors.New("signing failed")
	ErrInsufficientFunds = errors.New("insufficient balance or allowance")
	ErrBelowMinimum      = errors.New("order below exchange minimum")
	ErrPrecision         = errors.New("invalid amount precision")
	ErrNetwork           = errors.New("network error")
	ErrLockHeld          = errors.New("lock already held")
	ErrLockLost          = errors.New("lock lost")
)

// ErrorKind is the structured classification of an order failure.
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindFunds     ErrorKind = "funds"
	ErrorKindSize      ErrorKind = "size"
	ErrorKindPrecision ErrorKind = "precision"
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// Terminal reports whether a failure of this kind must abort the whole trade.
func (k ErrorKind) Terminal() bool {
	switch k {
	case ErrorKindFunds, ErrorKindSize, ErrorKindPrecision:
		return true
	}
	return false
}

// ExchangeError is returned by the exchange seam once a failure has been
// classified.
type ExchangeError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("exchange %s error: %s", e.Kind, e.Message)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// KindOf resolves err to an ErrorKind. Unrecognised errors are ErrorKindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var exErr *ExchangeError
	if errors.As(err, &exErr) && exErr.Kind != ErrorKindNone {
		return exErr.Kind
	}

	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return ErrorKindFunds
	case errors.Is(err, ErrBelowMinimum):
		return ErrorKindSize
	case errors.Is(err, ErrPrecision):
		return ErrorKindPrecision
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimit
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindNetwork
	}
	return ErrorKindUnknown
}
