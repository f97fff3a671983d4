package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Entry is one valued position in a portfolio. Stale is set when the live
// quote failed and Price is the last executed trade price instead.
type Entry struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
	Stale  bool            `json:"stale,omitempty"`
}

type PortfolioView struct {
	Entries []Entry         `json:"entries"`
	Cash    decimal.Decimal `json:"cash"`
	Total   decimal.Decimal `json:"total"`
}

// Portfolio values the user's current positions at live prices. A failing
// quote provider degrades the view (stale prices) but never touches the
// ledger; this is a pure read path.
func (e *Engine) Portfolio(ctx context.Context, userID int64) (*PortfolioView, error) {
	user, err := e.store.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	holdings, err := e.store.NetHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load holdings for user %d: %w", userID, err)
	}

	entries := []Entry{}
	total := user.Cash
	for _, h := range holdings {
		price := h.LastPrice
		stale := false
		if q, err := e.quotes.Lookup(ctx, h.Symbol); err != nil {
			e.log.Warnf("live quote for %s failed, using last trade price: %v", h.Symbol, err)
			stale = true
		} else {
			price = q.Price
		}
		value := price.Mul(decimal.NewFromInt(h.Amount))
		entries = append(entries, Entry{
			Symbol: h.Symbol,
			Name:   h.Name,
			Shares: h.Amount,
			Price:  price,
			Value:  value,
			Stale:  stale,
		})
		total = total.Add(value)
	}
	return &PortfolioView{Entries: entries, Cash: user.Cash, Total: total}, nil
}
