package execution

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"tradeengine/internal/config"
	"tradeengine/internal/exchange"
	"tradeengine/internal/models"
	"tradeengine/internal/store"
)

type fakeFanOutAdapter struct {
	ticker   *exchange.Ticker
	balances []exchange.Balance
	order    *exchange.OrderResult
	name     string
}

func (f *fakeFanOutAdapter) Connect(apiKey, secret, passphrase string) error { return nil }
func (f *fakeFanOutAdapter) Name() string                                    { return f.name }
func (f *fakeFanOutAdapter) GetTicker(ctx context.Context, pair models.Pair) (*exchange.Ticker, error) {
	return f.ticker, nil
}
func (f *fakeFanOutAdapter) GetOHLCV(ctx context.Context, pair models.Pair, timeframe string, limit int) ([]models.Candle, error) {
	return nil, nil
}
func (f *fakeFanOutAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return f.order, nil
}
func (f *fakeFanOutAdapter) GetBalances(ctx context.Context) ([]exchange.Balance, error) {
	return f.balances, nil
}
func (f *fakeFanOutAdapter) Close() error { return nil }

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{TakerFeePct: 0.001}
}

func configRow() ([]byte, error) {
	return []byte(`{"initialCapital":1000,"maxPositionPct":0.1}`), nil
}

func TestFanOutTradeDecisionBlockedPairReturnsNothing(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	fo := NewFanOut(store.NewBotStore(db), store.NewTradeStore(db), nil, nil, testTradingConfig(), nil)
	plans, rejections, err := fo.FanOutTradeDecision(context.Background(), TradeDecision{Pair: "BTC/USD", Blocked: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plans) != 0 || len(rejections) != 0 {
		t.Fatalf("expected no plans or rejections for a blocked pair, got plans=%v rejections=%v", plans, rejections)
	}
}

func TestFanOutTradeDecisionSizesAPlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	configJSON, _ := configRow()
	rows := sqlmock.NewRows([]string{"id", "user_id", "exchange", "enabled_pairs", "status", "trading_mode", "config"}).
		AddRow(1, 10, "fakeexchange", "{BTC/USD}", "running", "paper", configJSON)
	mock.ExpectQuery(`SELECT b.id, b.user_id, b.exchange`).WithArgs("running", "BTC/USD", pq.Array([]string{"active", "trialing"})).WillReturnRows(rows)

	mock.ExpectQuery(`SELECT .* FROM trades WHERE bot_instance_id`).
		WithArgs(1, "BTC/USD", "open").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	fo := NewFanOut(store.NewBotStore(db), store.NewTradeStore(db), nil, nil, testTradingConfig(), nil)

	decision := TradeDecision{
		Pair:   "BTC/USD",
		Regime: models.RegimeModerate,
		Signal: models.SignalResult{
			Signal:     models.SignalBuy,
			Confidence: 80,
			EntryPrice: 100,
			StopLoss:   95,
			TakeProfit: 110,
		},
	}

	plans, rejections, err := fo.FanOutTradeDecision(context.Background(), decision)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rejections) != 0 {
		t.Fatalf("unexpected rejections: %+v", rejections)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 sized plan, got %d", len(plans))
	}
	if plans[0].Quantity <= 0 {
		t.Errorf("expected a positive sized quantity, got %v", plans[0].Quantity)
	}
}

func TestExecuteTradesDirectPaperMode(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM trades WHERE bot_instance_id`).
		WithArgs(1, "BTC/USD", "open").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	mock.ExpectQuery(`INSERT INTO trades`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	adapters := map[string]exchange.ExchangeAdapter{
		"fakeexchange": &fakeFanOutAdapter{name: "fakeexchange", ticker: &exchange.Ticker{LastPrice: 100, Timestamp: time.Now()}},
	}

	fo := NewFanOut(store.NewBotStore(db), store.NewTradeStore(db), adapters, nil, testTradingConfig(), nil)

	plan := ExecutionPlan{
		BotID:       1,
		Exchange:    "fakeexchange",
		Pair:        "BTC/USD",
		Side:        models.SideBuy,
		Quantity:    0.01,
		Price:       100,
		TradingMode: models.TradingModePaper,
	}

	executed, rejections := fo.ExecuteTradesDirect(context.Background(), []ExecutionPlan{plan})
	if len(rejections) != 0 {
		t.Fatalf("unexpected rejections: %+v", rejections)
	}
	if len(executed) != 1 {
		t.Fatalf("expected 1 executed trade, got %d", len(executed))
	}
	if executed[0].Fee <= 0 {
		t.Errorf("expected a simulated paper-mode fee, got %v", executed[0].Fee)
	}
}

func TestExecuteTradesDirectSkipsOnExistingOpenTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM trades WHERE bot_instance_id`).
		WithArgs(1, "BTC/USD", "open").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	fo := NewFanOut(store.NewBotStore(db), store.NewTradeStore(db), nil, nil, testTradingConfig(), nil)

	plan := ExecutionPlan{BotID: 1, Exchange: "fakeexchange", Pair: "BTC/USD", Quantity: 0.01, Price: 100, TradingMode: models.TradingModePaper}
	executed, rejections := fo.ExecuteTradesDirect(context.Background(), []ExecutionPlan{plan})
	if len(executed) != 0 {
		t.Fatalf("expected no executions, got %d", len(executed))
	}
	if len(rejections) != 1 || rejections[0].Reason != "open_position_exists" {
		t.Fatalf("expected open_position_exists rejection, got %+v", rejections)
	}
}
