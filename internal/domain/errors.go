package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("trade rate limit reached")
	ErrStaleOpportunity = errors.New("opportunity no longer profitable")
	ErrSplitFailed      = errors.New("collateral split failed")
	ErrHedgeSellFailed  = errors.New("hedge sell failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrSigningFailed    = errors.New("signing failed")
	ErrFeedDisconnected = errors.New("price feed disconnected")
)
