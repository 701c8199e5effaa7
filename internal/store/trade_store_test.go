package store

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tradeengine/internal/models"
)

func TestTradeStoreInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewTradeStore(db)
	trade := &models.Trade{
		BotInstanceID:  1,
		Pair:           "BTC/USD",
		Side:           models.SideBuy,
		EntryPrice:     50000,
		Quantity:       0.01,
		EntryTime:      time.Now(),
		IdempotencyKey: "1:BTC/USD:buy:1700000000",
		TradingMode:    models.TradingModeLive,
	}

	mock.ExpectQuery(`INSERT INTO trades`).
		WithArgs(1, "BTC/USD", "buy", 50000.0, 0.01, trade.EntryTime, 0.0, 0.0, 0.0,
			sqlmock.AnyArg(), "open", trade.IdempotencyKey, "live").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := store.Insert(trade)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 7 {
		t.Errorf("expected id 7, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestTradeStoreInsertDuplicateIdempotencyKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewTradeStore(db)
	trade := &models.Trade{IdempotencyKey: "dup", TradingMode: models.TradingModeLive, EntryTime: time.Now()}

	mock.ExpectQuery(`INSERT INTO trades`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, err := store.Insert(trade)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 0 {
		t.Errorf("expected id 0 for a conflicting insert, got %d", id)
	}
}

func TestTradeStoreHasOpenTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewTradeStore(db)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(1, "BTC/USD", "open").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := store.HasOpenTrade(1, "BTC/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Error("expected HasOpenTrade to return true")
	}
}

func TestTradeStoreCloseAlreadyClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewTradeStore(db)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, profit_loss_percent FROM trades WHERE id=\$1 FOR UPDATE`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"status", "profit_loss_percent"}).AddRow("closed", 1.5))
	mock.ExpectRollback()

	result, err := store.Close(42, time.Now(), 100, 1, 1, "profit_target", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Closed {
		t.Error("expected Closed=false for an already-closed trade")
	}
	if result.Reason != "already_closed" {
		t.Errorf("expected reason already_closed, got %q", result.Reason)
	}
}

func TestTradeStoreCloseProfitProtectionInvalidForRedTrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewTradeStore(db)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, profit_loss_percent FROM trades WHERE id=\$1 FOR UPDATE`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"status", "profit_loss_percent"}).AddRow("open", 0.5))
	mock.ExpectRollback()

	result, err := store.Close(42, time.Now(), 100, -1, -0.2, "erosion_cap_protected", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Closed {
		t.Error("expected Closed=false when a profit-protection exit has gone red")
	}
	if result.Reason != "profit_protection_invalid_for_red_trade" {
		t.Errorf("expected profit_protection_invalid_for_red_trade, got %q", result.Reason)
	}
}

func TestTradeStoreCloseNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewTradeStore(db)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status, profit_loss_percent FROM trades WHERE id=\$1 FOR UPDATE`).
		WithArgs(99).
		WillReturnError(errors.New("sql: no rows in result set"))
	mock.ExpectRollback()

	_, err = store.Close(99, time.Now(), 100, 1, 1, "profit_target", false)
	if err == nil {
		t.Error("expected an error for a missing trade")
	}
}
