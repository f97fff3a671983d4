package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrDuplicateUsername = errors.New("username already taken")
	ErrUserNotFound      = errors.New("user not found")
	ErrStockNotFound     = errors.New("stock not found")
	// ErrNoPosition means the user has never traded the stock at all,
	// as opposed to holding a net amount of zero.
	ErrNoPosition = errors.New("no position in stock")
)

type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

func (r *Repo) CreateUser(ctx context.Context, username, passwordHash string, startingCash decimal.Decimal) (int64, error) {
	var id int64
	q := `INSERT INTO users (username, password_hash, cash) VALUES ($1, $2, $3::numeric) RETURNING id`
	if err := r.db.QueryRowContext(ctx, q, username, passwordHash, startingCash.StringFixed(4)).Scan(&id); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, ErrDuplicateUsername
		}
		return 0, err
	}
	return id, nil
}

func (r *Repo) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT id, username, password_hash, cash, created_at FROM users WHERE username = $1`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *Repo) UserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT id, username, password_hash, cash, created_at FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *Repo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
	return exists, err
}

// GetOrCreateStock is idempotent: concurrent callers for the same symbol all
// end up with the id of a single stocks row.
func (r *Repo) GetOrCreateStock(ctx context.Context, symbol, name string) (int64, error) {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO stocks (symbol, name) VALUES ($1, $2) ON CONFLICT (symbol) DO NOTHING`, symbol, name); err != nil {
		return 0, err
	}
	var id int64
	if err := r.db.GetContext(ctx, &id, `SELECT id FROM stocks WHERE symbol = $1`, symbol); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repo) StockBySymbol(ctx context.Context, symbol string) (*Stock, error) {
	var s Stock
	err := r.db.GetContext(ctx, &s, `SELECT id, symbol, name FROM stocks WHERE symbol = $1`, symbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStockNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) NetHoldings(ctx context.Context, userID int64) ([]Holding, error) {
	q := `SELECT p.symbol_id, s.symbol, s.name, SUM(p.amount) AS amount,
	             (SELECT p2.price FROM portfolio p2
	              WHERE p2.user_id = $1 AND p2.symbol_id = p.symbol_id
	              ORDER BY p2.timestamp DESC, p2.id DESC LIMIT 1) AS last_price
	      FROM portfolio p
	      JOIN stocks s ON s.id = p.symbol_id
	      WHERE p.user_id = $1
	      GROUP BY p.symbol_id, s.symbol, s.name
	      HAVING SUM(p.amount) <> 0
	      ORDER BY s.symbol`
	rows, err := r.db.QueryxContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Holding{}
	for rows.Next() {
		var h Holding
		if err := rows.StructScan(&h); err != nil {
			r.log.Warnf("scan holding failed: %v", err)
			continue
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r *Repo) NetHoldingsForSymbol(ctx context.Context, userID, stockID int64) (int64, error) {
	var owned int64
	var trades int64
	q := `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM portfolio WHERE user_id = $1 AND symbol_id = $2`
	if err := r.db.QueryRowContext(ctx, q, userID, stockID).Scan(&owned, &trades); err != nil {
		return 0, err
	}
	if trades == 0 {
		return 0, ErrNoPosition
	}
	return owned, nil
}

func (r *Repo) AdjustCash(ctx context.Context, userID int64, delta decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET cash = cash + $1::numeric WHERE id = $2`, delta.StringFixed(4), userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repo) History(ctx context.Context, userID int64) ([]HistoryEntry, error) {
	q := `SELECT s.symbol, p.amount, p.price, p.timestamp
	      FROM portfolio p
	      JOIN stocks s ON s.id = p.symbol_id
	      WHERE p.user_id = $1
	      ORDER BY p.timestamp ASC, p.id ASC`
	rows, err := r.db.QueryxContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.StructScan(&e); err != nil {
			r.log.Warnf("scan history row failed: %v", err)
			continue
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// TradeTx is the unit of work handed to a Trade callback. Everything called
// on it runs inside one database transaction with the user's row locked, so
// the append + cash-adjust pair commits or rolls back as a whole.
type TradeTx interface {
	Cash() decimal.Decimal
	NetHoldingsForSymbol(stockID int64) (int64, error)
	Append(stockID int64, price decimal.Decimal, amount int64) (int64, error)
	AdjustCash(delta decimal.Decimal) error
}

type tradeTx struct {
	ctx    context.Context
	tx     *sqlx.Tx
	userID int64
	cash   decimal.Decimal
}

// Trade runs fn inside a transaction after locking the user's row with
// SELECT ... FOR UPDATE. The row lock serializes concurrent trades per user;
// if fn returns an error the transaction is rolled back and nothing it did
// is visible.
func (r *Repo) Trade(ctx context.Context, userID int64, fn func(TradeTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var cashStr string
	if err := tx.QueryRowContext(ctx, `SELECT cash::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&cashStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	cash, err := decimal.NewFromString(cashStr)
	if err != nil {
		return err
	}

	if err := fn(&tradeTx{ctx: ctx, tx: tx, userID: userID, cash: cash}); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *tradeTx) Cash() decimal.Decimal { return t.cash }

func (t *tradeTx) NetHoldingsForSymbol(stockID int64) (int64, error) {
	var owned int64
	q := `SELECT COALESCE(SUM(amount), 0) FROM portfolio WHERE user_id = $1 AND symbol_id = $2`
	err := t.tx.QueryRowContext(t.ctx, q, t.userID, stockID).Scan(&owned)
	return owned, err
}

func (t *tradeTx) Append(stockID int64, price decimal.Decimal, amount int64) (int64, error) {
	var id int64
	q := `INSERT INTO portfolio (user_id, symbol_id, price, amount) VALUES ($1, $2, $3::numeric, $4) RETURNING id`
	err := t.tx.QueryRowContext(t.ctx, q, t.userID, stockID, price.StringFixed(4), amount).Scan(&id)
	return id, err
}

func (t *tradeTx) AdjustCash(delta decimal.Decimal) error {
	_, err := t.tx.ExecContext(t.ctx, `UPDATE users SET cash = cash + $1::numeric WHERE id = $2`, delta.StringFixed(4), t.userID)
	return err
}
