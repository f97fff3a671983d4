package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tradebook/internal/database"
	"tradebook/internal/quote"
)

// Store is the slice of the ledger store the engine needs.
type Store interface {
	UserByID(ctx context.Context, id int64) (*database.User, error)
	GetOrCreateStock(ctx context.Context, symbol, name string) (int64, error)
	StockBySymbol(ctx context.Context, symbol string) (*database.Stock, error)
	NetHoldings(ctx context.Context, userID int64) ([]database.Holding, error)
	NetHoldingsForSymbol(ctx context.Context, userID, stockID int64) (int64, error)
	History(ctx context.Context, userID int64) ([]database.HistoryEntry, error)
	Trade(ctx context.Context, userID int64, fn func(database.TradeTx) error) error
}

// Engine enforces the trading rules: affordability on buys, no short selling
// on sells, and the atomic append-transaction + adjust-cash pair.
type Engine struct {
	store  Store
	quotes quote.Provider
	log    *logrus.Logger
}

func New(store Store, quotes quote.Provider, log *logrus.Logger) *Engine {
	return &Engine{store: store, quotes: quotes, log: log}
}

// Execution describes one completed trade.
type Execution struct {
	Symbol string          `json:"symbol"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Total  decimal.Decimal `json:"total"`
}

func (e *Engine) Buy(ctx context.Context, userID int64, symbol string, shares int64) (*Execution, error) {
	if shares < 1 {
		return nil, ErrInvalidShareCount
	}

	q, err := e.lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	cost := q.Price.Mul(decimal.NewFromInt(shares))

	stockID, err := e.store.GetOrCreateStock(ctx, q.Symbol, q.Name)
	if err != nil {
		return nil, fmt.Errorf("resolve stock %s: %w", q.Symbol, err)
	}

	err = e.store.Trade(ctx, userID, func(tx database.TradeTx) error {
		if cost.GreaterThan(tx.Cash()) {
			return ErrInsufficientFunds
		}
		if _, err := tx.Append(stockID, q.Price, shares); err != nil {
			return err
		}
		return tx.AdjustCash(cost.Neg())
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"user":   userID,
		"symbol": q.Symbol,
		"shares": shares,
		"price":  q.Price.StringFixed(4),
	}).Info("buy executed")
	return &Execution{Symbol: q.Symbol, Shares: shares, Price: q.Price, Total: cost}, nil
}

func (e *Engine) Sell(ctx context.Context, userID int64, symbol string, shares int64) (*Execution, error) {
	if shares < 1 {
		return nil, ErrInvalidShareCount
	}

	stock, err := e.store.StockBySymbol(ctx, normalize(symbol))
	if err != nil {
		if errors.Is(err, database.ErrStockNotFound) {
			return nil, ErrUnknownSymbol
		}
		return nil, err
	}
	owned, err := e.store.NetHoldingsForSymbol(ctx, userID, stock.ID)
	if err != nil {
		if errors.Is(err, database.ErrNoPosition) {
			return nil, ErrUnknownSymbol
		}
		return nil, err
	}
	if shares > owned {
		return nil, ErrInsufficientShares
	}

	q, err := e.lookup(ctx, stock.Symbol)
	if err != nil {
		return nil, err
	}
	// Proceeds are price times shares sold, not times the whole position.
	proceeds := q.Price.Mul(decimal.NewFromInt(shares))

	err = e.store.Trade(ctx, userID, func(tx database.TradeTx) error {
		// Re-check under the user row lock: a concurrent sell may have
		// shrunk the position since the check above.
		owned, err := tx.NetHoldingsForSymbol(stock.ID)
		if err != nil {
			return err
		}
		if shares > owned {
			return ErrInsufficientShares
		}
		if _, err := tx.Append(stock.ID, q.Price, -shares); err != nil {
			return err
		}
		return tx.AdjustCash(proceeds)
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"user":   userID,
		"symbol": stock.Symbol,
		"shares": shares,
		"price":  q.Price.StringFixed(4),
	}).Info("sell executed")
	return &Execution{Symbol: stock.Symbol, Shares: shares, Price: q.Price, Total: proceeds}, nil
}

// Quote is a passthrough lookup for the quote endpoint, with the same error
// taxonomy as buy and sell.
func (e *Engine) Quote(ctx context.Context, symbol string) (*quote.Quote, error) {
	return e.lookup(ctx, symbol)
}

func (e *Engine) History(ctx context.Context, userID int64) ([]database.HistoryEntry, error) {
	return e.store.History(ctx, userID)
}

func (e *Engine) lookup(ctx context.Context, symbol string) (*quote.Quote, error) {
	q, err := e.quotes.Lookup(ctx, symbol)
	if err != nil {
		if errors.Is(err, quote.ErrNotFound) {
			return nil, ErrUnknownSymbol
		}
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	return q, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
