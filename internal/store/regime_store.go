package store

import (
	"database/sql"
	"errors"

	"tradeengine/internal/models"
	"tradeengine/pkg/utils"
)

var ErrRegimeNotFound = errors.New("regime classification not found")

// RegimeStore persists RegimeDetector classifications.
type RegimeStore struct {
	db *sql.DB
}

func NewRegimeStore(db *sql.DB) *RegimeStore {
	return &RegimeStore{db: db}
}

func (s *RegimeStore) Insert(r models.Regime) error {
	_, err := s.db.Exec(
		`INSERT INTO market_regime (pair, timestamp, regime, confidence, reason) VALUES ($1,$2,$3,$4,$5)`,
		string(r.Pair), r.Timestamp, string(r.Type), r.Confidence, r.Reason,
	)
	return err
}

// Latest returns the most recent classification for pair.
func (s *RegimeStore) Latest(pair models.Pair) (models.Regime, error) {
	var r models.Regime
	var p, regimeType string

	err := s.db.QueryRow(
		`SELECT pair, timestamp, regime, confidence, reason
		 FROM market_regime WHERE pair=$1 ORDER BY timestamp DESC LIMIT 1`,
		string(pair),
	).Scan(&p, &r.Timestamp, &regimeType, &r.Confidence, &r.Reason)

	if errors.Is(err, sql.ErrNoRows) {
		return models.Regime{}, ErrRegimeNotFound
	}
	if err != nil {
		return models.Regime{}, err
	}

	r.Pair = models.Pair(p)
	r.Type = models.RegimeType(regimeType)
	r.Timestamp = utils.ForceUTC(r.Timestamp)
	return r, nil
}
