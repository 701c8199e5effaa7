// Package store implements the engine's PostgreSQL-backed repositories:
// trades, bot instances, and regime classifications.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tradeengine/internal/models"
	"tradeengine/pkg/utils"
)

var ErrTradeNotFound = errors.New("trade not found")

// CloseResult is the outcome of a close attempt, mirroring the
// trade-close contract: a race-lost or already-closed attempt is not an
// error, it is reported so the caller can leave its own state untouched.
type CloseResult struct {
	Closed bool
	Reason string // set when Closed is false, e.g. "already_closed", "profit_protection_invalid_for_red_trade"
}

// TradeStore persists trades and enforces the open-position and
// idempotency invariants at the database layer.
type TradeStore struct {
	db *sql.DB
}

func NewTradeStore(db *sql.DB) *TradeStore {
	return &TradeStore{db: db}
}

// Insert persists a new open trade, relying on the idempotency_key
// UNIQUE constraint to make replays a no-op. Returns the trade's ID on a
// real insert, or (0, nil) if the idempotency key already existed.
func (s *TradeStore) Insert(t *models.Trade) (int, error) {
	pyramidJSON, err := json.Marshal(t.PyramidLevels)
	if err != nil {
		return 0, fmt.Errorf("marshal pyramid levels: %w", err)
	}

	query := `
		INSERT INTO trades (
			bot_instance_id, pair, side, entry_price, quantity, entry_time,
			stop_loss, take_profit, fee, pyramid_levels, status,
			idempotency_key, trading_mode
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`

	var id int
	err = s.db.QueryRow(query,
		t.BotInstanceID, string(t.Pair), string(t.Side), t.EntryPrice, t.Quantity, t.EntryTime,
		t.StopLoss, t.TakeProfit, t.Fee, pyramidJSON, string(models.TradeStatusOpen),
		t.IdempotencyKey, string(t.TradingMode),
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// HasOpenTrade reports whether (botInstanceID, pair) already has an open
// trade, used by ExecutionFanOut's open-position guard.
func (s *TradeStore) HasOpenTrade(botInstanceID int, pair models.Pair) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM trades WHERE bot_instance_id=$1 AND pair=$2 AND status=$3)`,
		botInstanceID, string(pair), string(models.TradeStatusOpen),
	).Scan(&exists)
	return exists, err
}

// GetOpenTrade returns the single open trade for (botInstanceID, pair),
// if any.
func (s *TradeStore) GetOpenTrade(botInstanceID int, pair models.Pair) (*models.Trade, error) {
	query := `
		SELECT id, bot_instance_id, pair, side, entry_price, quantity, entry_time,
			stop_loss, take_profit, fee, pyramid_levels, status,
			exit_price, exit_time, profit_loss, profit_loss_percent, exit_reason,
			idempotency_key, trading_mode
		FROM trades
		WHERE bot_instance_id=$1 AND pair=$2 AND status=$3`

	return s.scanOne(s.db.QueryRow(query, botInstanceID, string(pair), string(models.TradeStatusOpen)))
}

// ListOpenTrades returns all currently open trades, used by the peak
// tick and the exit passes.
func (s *TradeStore) ListOpenTrades() ([]*models.Trade, error) {
	query := `
		SELECT id, bot_instance_id, pair, side, entry_price, quantity, entry_time,
			stop_loss, take_profit, fee, pyramid_levels, status,
			exit_price, exit_time, profit_loss, profit_loss_percent, exit_reason,
			idempotency_key, trading_mode
		FROM trades
		WHERE status=$1`

	rows, err := s.db.Query(query, string(models.TradeStatusOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// LastClosedTrades returns the most recent closed trades for a bot,
// newest first. ExecutionFanOut's Kelly sizing does not read it; sizing
// uses only the signal's confidence and stop/target distances.
func (s *TradeStore) LastClosedTrades(botInstanceID, limit int) ([]*models.Trade, error) {
	query := `
		SELECT id, bot_instance_id, pair, side, entry_price, quantity, entry_time,
			stop_loss, take_profit, fee, pyramid_levels, status,
			exit_price, exit_time, profit_loss, profit_loss_percent, exit_reason,
			idempotency_key, trading_mode
		FROM trades
		WHERE bot_instance_id=$1 AND status=$2
		ORDER BY exit_time DESC
		LIMIT $3`

	rows, err := s.db.Query(query, botInstanceID, string(models.TradeStatusClosed), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close implements the trade-close contract: verify still-open, then
// for profit-protection exits verify the trade is still green, then
// mark closed. isProfitProtection is true for erosion-cap and
// profit-target exits, where a race could have flipped the trade red in
// the time between evaluation and commit; underwater and momentum exits
// pass false.
func (s *TradeStore) Close(tradeID int, exitTime time.Time, exitPrice, profitLoss, profitLossPercent float64, exitReason string, isProfitProtection bool) (CloseResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return CloseResult{}, err
	}
	defer tx.Rollback()

	var status string
	var storedPnLPct sql.NullFloat64
	err = tx.QueryRow(`SELECT status, profit_loss_percent FROM trades WHERE id=$1 FOR UPDATE`, tradeID).Scan(&status, &storedPnLPct)
	if errors.Is(err, sql.ErrNoRows) {
		return CloseResult{}, ErrTradeNotFound
	}
	if err != nil {
		return CloseResult{}, err
	}

	if status != string(models.TradeStatusOpen) {
		return CloseResult{Closed: false, Reason: "already_closed"}, nil
	}

	if isProfitProtection && profitLossPercent < 0 {
		return CloseResult{Closed: false, Reason: "profit_protection_invalid_for_red_trade"}, nil
	}

	_, err = tx.Exec(
		`UPDATE trades SET status=$1, exit_price=$2, exit_time=$3, profit_loss=$4, profit_loss_percent=$5, exit_reason=$6 WHERE id=$7`,
		string(models.TradeStatusClosed), exitPrice, exitTime, profitLoss, profitLossPercent, exitReason, tradeID,
	)
	if err != nil {
		return CloseResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return CloseResult{}, err
	}
	return CloseResult{Closed: true}, nil
}

// AddPyramidLevel appends a pyramid level to an open trade's JSON
// column. Callers are expected to have already validated the level
// number via Trade.NextPyramidLevel.
func (s *TradeStore) AddPyramidLevel(tradeID int, level models.PyramidLevel) error {
	t, err := s.scanOne(s.db.QueryRow(`
		SELECT id, bot_instance_id, pair, side, entry_price, quantity, entry_time,
			stop_loss, take_profit, fee, pyramid_levels, status,
			exit_price, exit_time, profit_loss, profit_loss_percent, exit_reason,
			idempotency_key, trading_mode
		FROM trades WHERE id=$1`, tradeID))
	if err != nil {
		return err
	}

	t.PyramidLevels = append(t.PyramidLevels, level)
	data, err := json.Marshal(t.PyramidLevels)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`UPDATE trades SET pyramid_levels=$1 WHERE id=$2`, data, tradeID)
	return err
}

func (s *TradeStore) scanOne(row *sql.Row) (*models.Trade, error) {
	t := &models.Trade{}
	var pair, side, status, tradingMode string
	var exitPrice, profitLoss, profitLossPercent sql.NullFloat64
	var exitTime sql.NullTime
	var exitReason sql.NullString
	var pyramidJSON []byte

	err := row.Scan(
		&t.ID, &t.BotInstanceID, &pair, &side, &t.EntryPrice, &t.Quantity, &t.EntryTime,
		&t.StopLoss, &t.TakeProfit, &t.Fee, &pyramidJSON, &status,
		&exitPrice, &exitTime, &profitLoss, &profitLossPercent, &exitReason,
		&t.IdempotencyKey, &tradingMode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, err
	}

	return finishTradeScan(t, pair, side, status, tradingMode, pyramidJSON, exitPrice, exitTime, profitLoss, profitLossPercent, exitReason)
}

func (s *TradeStore) scanRow(rows *sql.Rows) (*models.Trade, error) {
	t := &models.Trade{}
	var pair, side, status, tradingMode string
	var exitPrice, profitLoss, profitLossPercent sql.NullFloat64
	var exitTime sql.NullTime
	var exitReason sql.NullString
	var pyramidJSON []byte

	err := rows.Scan(
		&t.ID, &t.BotInstanceID, &pair, &side, &t.EntryPrice, &t.Quantity, &t.EntryTime,
		&t.StopLoss, &t.TakeProfit, &t.Fee, &pyramidJSON, &status,
		&exitPrice, &exitTime, &profitLoss, &profitLossPercent, &exitReason,
		&t.IdempotencyKey, &tradingMode,
	)
	if err != nil {
		return nil, err
	}

	return finishTradeScan(t, pair, side, status, tradingMode, pyramidJSON, exitPrice, exitTime, profitLoss, profitLossPercent, exitReason)
}

func finishTradeScan(t *models.Trade, pair, side, status, tradingMode string, pyramidJSON []byte,
	exitPrice sql.NullFloat64, exitTime sql.NullTime, profitLoss, profitLossPercent sql.NullFloat64, exitReason sql.NullString) (*models.Trade, error) {

	t.Pair = models.Pair(pair)
	t.Side = models.Side(side)
	t.Status = models.TradeStatus(status)
	t.TradingMode = models.TradingMode(tradingMode)
	t.EntryTime = utils.ForceUTC(t.EntryTime)

	if len(pyramidJSON) > 0 {
		if err := json.Unmarshal(pyramidJSON, &t.PyramidLevels); err != nil {
			return nil, fmt.Errorf("unmarshal pyramid levels: %w", err)
		}
	}

	t.ExitPrice = exitPrice.Float64
	t.ProfitLoss = profitLoss.Float64
	t.ProfitLossPercent = profitLossPercent.Float64
	t.ExitReason = exitReason.String
	if exitTime.Valid {
		t.ExitTime = utils.ForceUTC(exitTime.Time)
	}

	return t, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
