// Package risk implements the entry-side risk filter: the gate every
// candidate trade passes through before ExecutionFanOut ever sees it.
package risk

import (
	"go.uber.org/zap"

	"tradeengine/internal/config"
	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
)

// EntryInput is everything the filter needs about one pair at decision
// time. BTCMomentum is the drop-protection override computed once per
// orchestrator tick and shared across all pairs.
type EntryInput struct {
	Pair            models.Pair
	MarketData      models.MarketData
	Indicators      models.Indicators
	PreFilterSpread float64 // spread observed when indicators were fetched, for the stage-3 re-widen check
	BTCMomentum     float64
}

// EntryResult is the filter's verdict. Stage and Reason are only
// meaningful when Approved is false.
type EntryResult struct {
	Approved        bool
	Stage           string
	Reason          string
	IsTransitioning bool
}

func approved(isTransitioning bool) EntryResult {
	return EntryResult{Approved: true, IsTransitioning: isTransitioning}
}

func rejected(stage, reason string) EntryResult {
	return EntryResult{Approved: false, Stage: stage, Reason: reason}
}

// Manager runs the four in-process filter stages (pre-filter, health
// gate, drop protection, entry quality). The fifth stage, the AI
// confidence check, is applied by the orchestrator after consulting the
// signal source, via MeetsAIConfidence.
type Manager struct {
	cfg config.TradingConfig
	log *zap.SugaredLogger
}

func NewManager(cfg config.TradingConfig, log *zap.SugaredLogger) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// CheckEntry runs stages 1-4 in order, stopping at the first rejection.
func (m *Manager) CheckEntry(in EntryInput) EntryResult {
	result := m.checkEntry(in)
	if !result.Approved {
		metrics.RiskRejections.WithLabelValues(string(in.Pair), result.Stage).Inc()
	}
	return result
}

func (m *Manager) checkEntry(in EntryInput) EntryResult {
	if r := m.preFilter(in); !r.Approved {
		return r
	}
	health := m.healthGate(in)
	if !health.Approved {
		return health
	}
	if r := m.dropProtection(in); !r.Approved {
		return r
	}
	if r := m.entryQuality(in); !r.Approved {
		return r
	}
	return health
}

// preFilter rejects on a wide spread or, in a choppy market, weak
// intrabar momentum.
func (m *Manager) preFilter(in EntryInput) EntryResult {
	if in.MarketData.Bid > 0 {
		spread := (in.MarketData.Ask - in.MarketData.Bid) / in.MarketData.Bid
		if spread > m.cfg.MaxEntrySpreadPct {
			return rejected("pre_filter", "spread_too_wide")
		}
	}
	if in.Indicators.ADX < m.cfg.HealthGateMinADX && in.Indicators.IntrabarMomentum < m.cfg.EntryMinIntrabarMomentumPct {
		return rejected("pre_filter", "choppy_intrabar_momentum_too_low")
	}
	return approved(false)
}

// healthGate rejects outright below the ADX floor. In the transitioning
// zone just above the floor ([TransitioningADXLow, TransitioningADXHigh)),
// only a rising adxSlope passes; a flat or falling slope there is
// rejected even though the ADX value itself clears the floor. At or
// above TransitioningADXHigh the candidate passes unconditionally.
func (m *Manager) healthGate(in EntryInput) EntryResult {
	adx := in.Indicators.ADX
	if adx < m.cfg.HealthGateMinADX {
		return rejected("health_gate", "adx_below_floor")
	}
	if adx >= m.cfg.TransitioningADXLow && adx < m.cfg.TransitioningADXHigh {
		if in.Indicators.ADXSlope <= m.cfg.TransitioningADXSlopeMin {
			return rejected("health_gate", "transitioning_zone_without_rising_slope")
		}
		return approved(true)
	}
	return approved(false)
}

// dropProtection rejects during a broad market drop, a panic volume
// spike, or a spread that widened since the pre-filter measurement.
func (m *Manager) dropProtection(in EntryInput) EntryResult {
	if in.BTCMomentum < m.cfg.BTCMomentumDropFloor {
		return rejected("drop_protection", "btc_momentum_below_floor")
	}
	if in.Indicators.VolumeRatio >= m.cfg.VolumePanicRatio {
		return rejected("drop_protection", "panic_volume_spike")
	}
	if in.MarketData.Bid > 0 && in.PreFilterSpread > 0 {
		spread := (in.MarketData.Ask - in.MarketData.Bid) / in.MarketData.Bid
		if spread > in.PreFilterSpread*m.cfg.SpreadWidenMultiplier {
			return rejected("drop_protection", "spread_re_widened")
		}
	}
	return approved(false)
}

// entryQuality rejects a likely exhausted top or a flat-to-negative
// momentum reading with no sign of recovery.
func (m *Manager) entryQuality(in EntryInput) EntryResult {
	if in.Indicators.RSI >= m.cfg.RSIExtremeTop {
		return rejected("entry_quality", "rsi_extreme_top")
	}
	if in.Indicators.Momentum1h <= 0 && in.Indicators.ADXSlope <= m.cfg.MomentumRecoverySlopeMin {
		return rejected("entry_quality", "momentum_flat_no_recovery")
	}
	return approved(false)
}

// MeetsAIConfidence is stage 5, applied by the orchestrator once it has
// a SignalSource result in hand.
func (m *Manager) MeetsAIConfidence(confidence float64) bool {
	return confidence >= m.cfg.AIConfidenceThreshold
}

// CanAddPyramidLevel gates pyramid additions on a higher AI confidence
// bar than a fresh entry: level 1 needs 85, level 2 needs 90 by default.
func (m *Manager) CanAddPyramidLevel(level int, aiConfidence float64) bool {
	switch level {
	case 1:
		return aiConfidence >= m.cfg.PyramidLevel1MinConfidence
	case 2:
		return aiConfidence >= m.cfg.PyramidLevel2MinConfidence
	default:
		return false
	}
}
