package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"tradeengine/internal/models"
)

var ErrBotNotFound = errors.New("bot instance not found")

// BotStore persists bot instances and resolves subscription validity via
// a join against the subscriptions table.
type BotStore struct {
	db *sql.DB
}

func NewBotStore(db *sql.DB) *BotStore {
	return &BotStore{db: db}
}

// ListRunningWithValidSubscription returns every bot that is status=running,
// enabled for pair, and whose owning user has a valid subscription: the
// ExecutionFanOut candidate set for one pair.
func (s *BotStore) ListRunningWithValidSubscription(pair models.Pair) ([]*models.BotInstance, error) {
	query := `
		SELECT b.id, b.user_id, b.exchange, b.enabled_pairs, b.status, b.trading_mode, b.config
		FROM bot_instances b
		JOIN subscriptions sub ON sub.user_id = b.user_id
		WHERE b.status = $1
		  AND $2 = ANY(b.enabled_pairs)
		  AND sub.status = ANY($3)`

	rows, err := s.db.Query(query, string(models.BotStatusRunning), string(pair), pq.Array(validSubscriptionStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*models.BotInstance
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// ListRunningWithLapsedSubscription returns every status=running bot whose
// owner's subscription is no longer active/trialing, for the main tick's
// auto-pause step.
func (s *BotStore) ListRunningWithLapsedSubscription() ([]*models.BotInstance, error) {
	query := `
		SELECT b.id, b.user_id, b.exchange, b.enabled_pairs, b.status, b.trading_mode, b.config
		FROM bot_instances b
		JOIN subscriptions sub ON sub.user_id = b.user_id
		WHERE b.status = $1
		  AND NOT (sub.status = ANY($2))`

	rows, err := s.db.Query(query, string(models.BotStatusRunning), pq.Array(validSubscriptionStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*models.BotInstance
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

var validSubscriptionStatuses = []string{string(models.SubscriptionActive), string(models.SubscriptionTrialing)}

// ListAllRunning returns every running bot instance, used by the
// orchestrator's main-tick "reload active bots" step.
func (s *BotStore) ListAllRunning() ([]*models.BotInstance, error) {
	query := `
		SELECT id, user_id, exchange, enabled_pairs, status, trading_mode, config
		FROM bot_instances
		WHERE status = $1`

	rows, err := s.db.Query(query, string(models.BotStatusRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*models.BotInstance
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

// SetStatus transitions a bot, e.g. to paused after a lapsed subscription.
func (s *BotStore) SetStatus(botID int, status models.BotStatus) error {
	_, err := s.db.Exec(`UPDATE bot_instances SET status=$1, updated_at=now() WHERE id=$2`, string(status), botID)
	return err
}

type botRow interface {
	Scan(dest ...interface{}) error
}

func scanBot(rows botRow) (*models.BotInstance, error) {
	b := &models.BotInstance{}
	var exchange, status, tradingMode string
	var enabledPairs pq.StringArray
	var configJSON []byte

	if err := rows.Scan(&b.ID, &b.UserID, &exchange, &enabledPairs, &status, &tradingMode, &configJSON); err != nil {
		return nil, err
	}

	b.Exchange = exchange
	b.Status = models.BotStatus(status)
	b.TradingMode = models.TradingMode(tradingMode)

	b.EnabledPairs = make([]models.Pair, len(enabledPairs))
	for i, p := range enabledPairs {
		b.EnabledPairs[i] = models.Pair(p)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &b.Config); err != nil {
			return nil, err
		}
	}

	return b, nil
}
