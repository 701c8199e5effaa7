package store

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestBotStoreListRunningWithValidSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewBotStore(db)
	rows := sqlmock.NewRows([]string{"id", "user_id", "exchange", "enabled_pairs", "status", "trading_mode", "config"}).
		AddRow(1, 10, "bybit", "{BTC/USD,ETH/USD}", "running", "live", []byte(`{"initialCapital":1000,"maxPositionPct":0.1}`))

	mock.ExpectQuery(`SELECT b.id`).
		WithArgs("running", "BTC/USD", pq.Array([]string{"active", "trialing"})).
		WillReturnRows(rows)

	bots, err := store.ListRunningWithValidSubscription("BTC/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bots) != 1 {
		t.Fatalf("expected 1 bot, got %d", len(bots))
	}
	if bots[0].Config.InitialCapital != 1000 {
		t.Errorf("expected initialCapital 1000, got %v", bots[0].Config.InitialCapital)
	}
	if len(bots[0].EnabledPairs) != 2 {
		t.Errorf("expected 2 enabled pairs, got %d", len(bots[0].EnabledPairs))
	}
}

func TestBotStoreListRunningWithLapsedSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewBotStore(db)
	rows := sqlmock.NewRows([]string{"id", "user_id", "exchange", "enabled_pairs", "status", "trading_mode", "config"}).
		AddRow(2, 11, "bybit", "{BTC/USD}", "running", "paper", []byte(`{}`))

	mock.ExpectQuery(`SELECT b.id`).
		WithArgs("running", pq.Array([]string{"active", "trialing"})).
		WillReturnRows(rows)

	bots, err := store.ListRunningWithLapsedSubscription()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bots) != 1 || bots[0].ID != 2 {
		t.Fatalf("expected bot 2 with a lapsed subscription, got %+v", bots)
	}
}

func TestBotStoreSetStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	store := NewBotStore(db)
	mock.ExpectExec(`UPDATE bot_instances SET status`).
		WithArgs("paused", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetStatus(1, "paused"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
