package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebook/internal/database"
	"tradebook/internal/quote"
)

type ledgerRow struct {
	userID  int64
	stockID int64
	price   decimal.Decimal
	amount  int64
}

// fakeStore is an in-memory ledger store. A single mutex held for the whole
// Trade callback stands in for the per-user row lock; appends and the cash
// delta are staged and applied only when the callback succeeds, matching the
// commit/rollback behavior of the real store.
type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*database.User
	stocks map[string]*database.Stock
	nextID int64
	ledger []ledgerRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[int64]*database.User{},
		stocks: map[string]*database.Stock{},
	}
}

func (s *fakeStore) addUser(id int64, cash decimal.Decimal) {
	s.users[id] = &database.User{ID: id, Username: fmt.Sprintf("user%d", id), Cash: cash}
}

func (s *fakeStore) UserByID(_ context.Context, id int64) (*database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) GetOrCreateStock(_ context.Context, symbol, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stocks[symbol]; ok {
		return st.ID, nil
	}
	s.nextID++
	s.stocks[symbol] = &database.Stock{ID: s.nextID, Symbol: symbol, Name: name}
	return s.nextID, nil
}

func (s *fakeStore) StockBySymbol(_ context.Context, symbol string) (*database.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stocks[symbol]
	if !ok {
		return nil, database.ErrStockNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *fakeStore) NetHoldings(_ context.Context, userID int64) ([]database.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStock := map[int64]*database.Holding{}
	for _, row := range s.ledger {
		if row.userID != userID {
			continue
		}
		h, ok := byStock[row.stockID]
		if !ok {
			h = &database.Holding{StockID: row.stockID}
			byStock[row.stockID] = h
		}
		h.Amount += row.amount
		h.LastPrice = row.price
	}
	res := []database.Holding{}
	for _, st := range s.stocks {
		if h, ok := byStock[st.ID]; ok && h.Amount != 0 {
			h.Symbol = st.Symbol
			h.Name = st.Name
			res = append(res, *h)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res, nil
}

func (s *fakeStore) NetHoldingsForSymbol(_ context.Context, userID, stockID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned, trades := s.sumLocked(userID, stockID)
	if trades == 0 {
		return 0, database.ErrNoPosition
	}
	return owned, nil
}

func (s *fakeStore) History(_ context.Context, userID int64) ([]database.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := []database.HistoryEntry{}
	for _, row := range s.ledger {
		if row.userID != userID {
			continue
		}
		var sym string
		for _, st := range s.stocks {
			if st.ID == row.stockID {
				sym = st.Symbol
			}
		}
		res = append(res, database.HistoryEntry{Symbol: sym, Amount: row.amount, Price: row.price})
	}
	return res, nil
}

func (s *fakeStore) Trade(_ context.Context, userID int64, fn func(database.TradeTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return database.ErrUserNotFound
	}
	tx := &fakeTradeTx{store: s, userID: userID, cash: u.Cash}
	if err := fn(tx); err != nil {
		return err
	}
	s.ledger = append(s.ledger, tx.appends...)
	u.Cash = u.Cash.Add(tx.delta)
	return nil
}

func (s *fakeStore) sumLocked(userID, stockID int64) (owned, trades int64) {
	for _, row := range s.ledger {
		if row.userID == userID && row.stockID == stockID {
			owned += row.amount
			trades++
		}
	}
	return owned, trades
}

type fakeTradeTx struct {
	store   *fakeStore
	userID  int64
	cash    decimal.Decimal
	appends []ledgerRow
	delta   decimal.Decimal
}

func (t *fakeTradeTx) Cash() decimal.Decimal { return t.cash }

func (t *fakeTradeTx) NetHoldingsForSymbol(stockID int64) (int64, error) {
	owned, _ := t.store.sumLocked(t.userID, stockID)
	for _, row := range t.appends {
		if row.stockID == stockID {
			owned += row.amount
		}
	}
	return owned, nil
}

func (t *fakeTradeTx) Append(stockID int64, price decimal.Decimal, amount int64) (int64, error) {
	t.appends = append(t.appends, ledgerRow{userID: t.userID, stockID: stockID, price: price, amount: amount})
	return int64(len(t.store.ledger) + len(t.appends)), nil
}

func (t *fakeTradeTx) AdjustCash(delta decimal.Decimal) error {
	t.delta = t.delta.Add(delta)
	return nil
}

type fakeProvider struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{prices: map[string]decimal.Decimal{}, errs: map[string]error{}}
}

func (p *fakeProvider) setPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = decimal.NewFromFloat(price)
	delete(p.errs, symbol)
}

func (p *fakeProvider) setError(symbol string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[symbol] = err
}

func (p *fakeProvider) Lookup(_ context.Context, symbol string) (*quote.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = normalize(symbol)
	if err, ok := p.errs[symbol]; ok {
		return nil, err
	}
	price, ok := p.prices[symbol]
	if !ok {
		return nil, quote.ErrNotFound
	}
	return &quote.Quote{Symbol: symbol, Name: symbol + " Inc", Price: price}, nil
}

func newTestEngine() (*Engine, *fakeStore, *fakeProvider) {
	store := newFakeStore()
	provider := newFakeProvider()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(store, provider, logger), store, provider
}

func cashOf(t *testing.T, store *fakeStore, userID int64) decimal.Decimal {
	t.Helper()
	u, err := store.UserByID(context.Background(), userID)
	require.NoError(t, err)
	return u.Cash
}

func TestBuyThenSellScenario(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(10000))
	provider.setPrice("AAPL", 100)

	ctx := context.Background()

	exec, err := eng.Buy(ctx, 1, "aapl", 10)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", exec.Symbol)
	assert.True(t, exec.Total.Equal(decimal.NewFromInt(1000)), "total %s", exec.Total)
	assert.True(t, cashOf(t, store, 1).Equal(decimal.NewFromInt(9000)))

	provider.setPrice("AAPL", 150)
	exec, err = eng.Sell(ctx, 1, "AAPL", 4)
	require.NoError(t, err)
	assert.True(t, exec.Total.Equal(decimal.NewFromInt(600)), "proceeds %s", exec.Total)
	assert.True(t, cashOf(t, store, 1).Equal(decimal.NewFromInt(9600)))

	holdings, err := store.NetHoldings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(6), holdings[0].Amount)

	// Overselling fails and leaves everything untouched.
	_, err = eng.Sell(ctx, 1, "AAPL", 10)
	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.True(t, cashOf(t, store, 1).Equal(decimal.NewFromInt(9600)))
	holdings, err = store.NetHoldings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(6), holdings[0].Amount)
}

func TestBuyInvalidShareCount(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(1000))
	provider.setPrice("AAPL", 10)

	for _, shares := range []int64{0, -3} {
		_, err := eng.Buy(context.Background(), 1, "AAPL", shares)
		assert.ErrorIs(t, err, ErrInvalidShareCount)
		_, err = eng.Sell(context.Background(), 1, "AAPL", shares)
		assert.ErrorIs(t, err, ErrInvalidShareCount)
	}
	assert.Empty(t, store.ledger)
	assert.True(t, cashOf(t, store, 1).Equal(decimal.NewFromInt(1000)))
}

func TestBuyUnknownSymbol(t *testing.T) {
	eng, store, _ := newTestEngine()
	store.addUser(1, decimal.NewFromInt(1000))

	_, err := eng.Buy(context.Background(), 1, "NOPE", 1)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.Empty(t, store.ledger)
}

func TestBuyInsufficientFunds(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(500))
	provider.setPrice("AAPL", 100)

	_, err := eng.Buy(context.Background(), 1, "AAPL", 6)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, store.ledger, "no transaction row may exist after a failed buy")
	assert.True(t, cashOf(t, store, 1).Equal(decimal.NewFromInt(500)))

	// Exactly affordable is fine.
	_, err = eng.Buy(context.Background(), 1, "AAPL", 5)
	require.NoError(t, err)
	assert.True(t, cashOf(t, store, 1).Equal(decimal.Zero))
}

func TestBuyQuoteUnavailable(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(1000))
	provider.setError("AAPL", fmt.Errorf("%w: connection refused", quote.ErrUnavailable))

	_, err := eng.Buy(context.Background(), 1, "AAPL", 1)
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
	assert.Empty(t, store.ledger)
	assert.True(t, cashOf(t, store, 1).Equal(decimal.NewFromInt(1000)))
}

func TestSellNeverHeld(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(1000))
	store.addUser(2, decimal.NewFromInt(1000))
	provider.setPrice("AAPL", 10)

	// Symbol nobody has traded.
	_, err := eng.Sell(context.Background(), 1, "AAPL", 1)
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	// Symbol another user holds but this one never traded.
	_, err = eng.Buy(context.Background(), 2, "AAPL", 1)
	require.NoError(t, err)
	_, err = eng.Sell(context.Background(), 1, "AAPL", 1)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestSellQuoteUnavailable(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(1000))
	provider.setPrice("AAPL", 10)

	_, err := eng.Buy(context.Background(), 1, "AAPL", 5)
	require.NoError(t, err)

	provider.setError("AAPL", fmt.Errorf("%w: timeout", quote.ErrUnavailable))
	_, err = eng.Sell(context.Background(), 1, "AAPL", 2)
	assert.ErrorIs(t, err, ErrQuoteUnavailable)

	owned, err := store.NetHoldingsForSymbol(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), owned)
	assert.True(t, cashOf(t, store, 1).Equal(decimal.NewFromInt(950)))
}

func TestCashFlowIdentity(t *testing.T) {
	eng, store, provider := newTestEngine()
	initial := decimal.NewFromInt(10000)
	store.addUser(1, initial)

	ctx := context.Background()
	net := decimal.Zero

	steps := []struct {
		side   string
		symbol string
		price  float64
		shares int64
	}{
		{"buy", "AAPL", 123.45, 7},
		{"buy", "MSFT", 310.10, 3},
		{"sell", "AAPL", 130.00, 2},
		{"buy", "AAPL", 128.20, 1},
		{"sell", "MSFT", 305.55, 3},
		{"sell", "AAPL", 140.75, 6},
	}
	for _, step := range steps {
		provider.setPrice(step.symbol, step.price)
		total := decimal.NewFromFloat(step.price).Mul(decimal.NewFromInt(step.shares))
		if step.side == "buy" {
			_, err := eng.Buy(ctx, 1, step.symbol, step.shares)
			require.NoError(t, err)
			net = net.Sub(total)
		} else {
			_, err := eng.Sell(ctx, 1, step.symbol, step.shares)
			require.NoError(t, err)
			net = net.Add(total)
		}

		// Holdings never go negative at any point in the sequence.
		holdings, err := store.NetHoldings(ctx, 1)
		require.NoError(t, err)
		for _, h := range holdings {
			assert.Greater(t, h.Amount, int64(0))
		}
	}

	assert.True(t, cashOf(t, store, 1).Equal(initial.Add(net)),
		"cash %s, want %s", cashOf(t, store, 1), initial.Add(net))
}

func TestConcurrentBuyersAreIsolated(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(10000))
	store.addUser(2, decimal.NewFromInt(10000))
	provider.setPrice("AAPL", 10)

	const buys = 20
	var wg sync.WaitGroup
	for _, userID := range []int64{1, 2} {
		userID := userID
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < buys; i++ {
				_, err := eng.Buy(context.Background(), userID, "AAPL", 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	want := decimal.NewFromInt(10000 - buys*10)
	assert.True(t, cashOf(t, store, 1).Equal(want), "user 1 cash %s", cashOf(t, store, 1))
	assert.True(t, cashOf(t, store, 2).Equal(want), "user 2 cash %s", cashOf(t, store, 2))
}

func TestConcurrentSellsCannotOversell(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(10000))
	provider.setPrice("AAPL", 100)

	_, err := eng.Buy(context.Background(), 1, "AAPL", 6)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = eng.Sell(context.Background(), 1, "AAPL", 4)
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientShares)
			rejected++
		}
	}
	assert.Equal(t, 1, ok, "exactly one of two competing sells may succeed")
	assert.Equal(t, 1, rejected)

	owned, err := store.NetHoldingsForSymbol(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), owned)
}

func TestPortfolioValuesLivePrices(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(10000))
	provider.setPrice("AAPL", 100)
	provider.setPrice("MSFT", 200)

	ctx := context.Background()
	_, err := eng.Buy(ctx, 1, "AAPL", 10)
	require.NoError(t, err)
	_, err = eng.Buy(ctx, 1, "MSFT", 5)
	require.NoError(t, err)

	provider.setPrice("AAPL", 110)

	view, err := eng.Portfolio(ctx, 1)
	require.NoError(t, err)
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "AAPL", view.Entries[0].Symbol)
	assert.True(t, view.Entries[0].Price.Equal(decimal.NewFromInt(110)))
	assert.True(t, view.Entries[0].Value.Equal(decimal.NewFromInt(1100)))
	assert.False(t, view.Entries[0].Stale)

	// cash 8000 + 1100 AAPL + 1000 MSFT
	assert.True(t, view.Cash.Equal(decimal.NewFromInt(8000)))
	assert.True(t, view.Total.Equal(decimal.NewFromInt(10100)), "total %s", view.Total)
}

func TestPortfolioDegradesOnQuoteFailure(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(10000))
	provider.setPrice("AAPL", 100)

	ctx := context.Background()
	_, err := eng.Buy(ctx, 1, "AAPL", 10)
	require.NoError(t, err)

	provider.setError("AAPL", fmt.Errorf("%w: timeout", quote.ErrUnavailable))

	view, err := eng.Portfolio(ctx, 1)
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.True(t, view.Entries[0].Stale)
	// Falls back to the last executed trade price.
	assert.True(t, view.Entries[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, view.Total.Equal(decimal.NewFromInt(10000)))
}

func TestPortfolioExcludesClosedPositions(t *testing.T) {
	eng, store, provider := newTestEngine()
	store.addUser(1, decimal.NewFromInt(10000))
	provider.setPrice("AAPL", 100)

	ctx := context.Background()
	_, err := eng.Buy(ctx, 1, "AAPL", 3)
	require.NoError(t, err)
	_, err = eng.Sell(ctx, 1, "AAPL", 3)
	require.NoError(t, err)

	view, err := eng.Portfolio(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, view.Entries)
	assert.True(t, view.Total.Equal(view.Cash))
}
