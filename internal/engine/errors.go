package engine

import "errors"

// Business-rule rejections. All are detected before any ledger mutation, so
// a trade that returns one of these has changed nothing.
var (
	ErrInvalidShareCount  = errors.New("share count must be a positive integer")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrQuoteUnavailable   = errors.New("quote provider unavailable")
)
