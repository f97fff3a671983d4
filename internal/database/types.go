package database

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int64           `db:"id" json:"id"`
	Username     string          `db:"username" json:"username"`
	PasswordHash string          `db:"password_hash" json:"-"`
	Cash         decimal.Decimal `db:"cash" json:"cash"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

type Stock struct {
	ID     int64  `db:"id" json:"id"`
	Symbol string `db:"symbol" json:"symbol"`
	Name   string `db:"name" json:"name"`
}

// Holding is a user's net position in one stock, derived by summing the
// signed amounts in the portfolio ledger. LastPrice is the price of the
// user's most recent trade in that stock, kept as a fallback for when a
// live quote cannot be fetched.
type Holding struct {
	StockID   int64           `db:"symbol_id" json:"-"`
	Symbol    string          `db:"symbol" json:"symbol"`
	Name      string          `db:"name" json:"name"`
	Amount    int64           `db:"amount" json:"amount"`
	LastPrice decimal.Decimal `db:"last_price" json:"last_price"`
}

type HistoryEntry struct {
	Symbol    string          `db:"symbol" json:"symbol"`
	Amount    int64           `db:"amount" json:"amount"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Timestamp time.Time       `db:"timestamp" json:"timestamp"`
}
