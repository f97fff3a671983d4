package quote

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound means the upstream does not know the symbol.
	ErrNotFound = errors.New("quote: symbol not found")
	// ErrUnavailable means the upstream could not be reached or answered
	// with something unusable. Callers must fail fast and leave no state.
	ErrUnavailable = errors.New("quote: provider unavailable")
)

type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// Provider looks up the current price for a ticker symbol. Lookups are
// case-insensitive; implementations normalize the symbol themselves.
type Provider interface {
	Lookup(ctx context.Context, symbol string) (*Quote, error)
}
