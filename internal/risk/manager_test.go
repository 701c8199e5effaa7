package risk

import (
	"testing"

	"tradeengine/internal/config"
	"tradeengine/internal/models"
)

func testConfig() config.TradingConfig {
	return config.TradingConfig{
		MaxEntrySpreadPct:           0.003,
		EntryMinIntrabarMomentumPct: 0.0005,
		HealthGateMinADX:            20.0,
		TransitioningADXLow:         20.0,
		TransitioningADXHigh:        25.0,
		TransitioningADXSlopeMin:    0.5,
		AIConfidenceThreshold:       70.0,
		PyramidLevel1MinConfidence:  85.0,
		PyramidLevel2MinConfidence:  90.0,
		BTCMomentumDropFloor:        -0.02,
		VolumePanicRatio:            3.0,
		SpreadWidenMultiplier:       1.5,
		RSIExtremeTop:               80.0,
		MomentumRecoverySlopeMin:    0.0,
	}
}

func baseInput() EntryInput {
	return EntryInput{
		Pair:       "BTC/USD",
		MarketData: models.MarketData{Bid: 100, Ask: 100.1},
		Indicators: models.Indicators{
			ADX:              30,
			ADXSlope:         0.2,
			RSI:              55,
			Momentum1h:       0.5,
			VolumeRatio:      1.2,
			IntrabarMomentum: 0.001,
		},
		PreFilterSpread: 0.001,
		BTCMomentum:     0.01,
	}
}

func TestCheckEntryApprovesHealthyInput(t *testing.T) {
	m := NewManager(testConfig(), nil)
	result := m.CheckEntry(baseInput())
	if !result.Approved {
		t.Fatalf("expected approval, got stage=%s reason=%s", result.Stage, result.Reason)
	}
}

func TestCheckEntryRejectsWideSpread(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.MarketData.Ask = 100.5 // spread 0.5% > 0.3% cap
	result := m.CheckEntry(in)
	if result.Approved || result.Stage != "pre_filter" {
		t.Fatalf("expected pre_filter rejection, got %+v", result)
	}
}

func TestCheckEntryRejectsChoppyIntrabar(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.ADX = 15
	in.Indicators.IntrabarMomentum = 0.0001
	result := m.CheckEntry(in)
	if result.Approved || result.Stage != "pre_filter" || result.Reason != "choppy_intrabar_momentum_too_low" {
		t.Fatalf("expected choppy intrabar rejection, got %+v", result)
	}
}

func TestCheckEntryRejectsBelowADXFloor(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.ADX = 18
	in.Indicators.IntrabarMomentum = 0.01 // clears stage 1's choppy guard
	result := m.CheckEntry(in)
	if result.Approved || result.Stage != "health_gate" {
		t.Fatalf("expected health_gate rejection, got %+v", result)
	}
}

func TestCheckEntryTransitioningZonePassesWithRisingSlope(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.ADX = 22
	in.Indicators.ADXSlope = 0.8
	in.Indicators.IntrabarMomentum = 0.01
	result := m.CheckEntry(in)
	if !result.Approved || !result.IsTransitioning {
		t.Fatalf("expected transitioning approval, got %+v", result)
	}
}

func TestCheckEntryTransitioningZoneWithoutRisingSlopeIsRejected(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.ADX = 22
	in.Indicators.ADXSlope = 0.1
	in.Indicators.IntrabarMomentum = 0.01
	result := m.CheckEntry(in)
	if result.Approved || result.Stage != "health_gate" {
		t.Fatalf("expected health_gate rejection at ADX 22 with a flat slope, got %+v", result)
	}
}

func TestCheckEntryTransitioningZoneExactFloorWithoutRisingSlopeIsRejected(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.ADX = 20
	in.Indicators.ADXSlope = 0
	in.Indicators.IntrabarMomentum = 0.01
	result := m.CheckEntry(in)
	if result.Approved || result.Stage != "health_gate" {
		t.Fatalf("expected health_gate rejection at ADX exactly 20 with a flat slope, got %+v", result)
	}
}

func TestCheckEntryAtTransitioningHighPassesUnconditionally(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.ADX = 25
	in.Indicators.ADXSlope = -1
	in.Indicators.IntrabarMomentum = 0.01
	result := m.CheckEntry(in)
	if !result.Approved || result.IsTransitioning {
		t.Fatalf("expected unconditional approval at ADX 25 with isTransitioning=false, got %+v", result)
	}
}

func TestCheckEntryRejectsBTCMomentumDrop(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.BTCMomentum = -0.05
	result := m.CheckEntry(in)
	if result.Approved || result.Stage != "drop_protection" || result.Reason != "btc_momentum_below_floor" {
		t.Fatalf("expected drop_protection rejection, got %+v", result)
	}
}

func TestCheckEntryRejectsPanicVolumeSpike(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.VolumeRatio = 4.0
	result := m.CheckEntry(in)
	if result.Approved || result.Reason != "panic_volume_spike" {
		t.Fatalf("expected panic volume rejection, got %+v", result)
	}
}

func TestCheckEntryRejectsSpreadReWidened(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.PreFilterSpread = 0.0005
	in.MarketData.Ask = 100.1 // spread now 0.1%, > 1.5x the 0.05% reference
	result := m.CheckEntry(in)
	if result.Approved || result.Reason != "spread_re_widened" {
		t.Fatalf("expected spread re-widen rejection, got %+v", result)
	}
}

func TestCheckEntryRejectsRSIExtremeTop(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.RSI = 85
	result := m.CheckEntry(in)
	if result.Approved || result.Stage != "entry_quality" || result.Reason != "rsi_extreme_top" {
		t.Fatalf("expected entry_quality rejection, got %+v", result)
	}
}

func TestCheckEntryRejectsFlatMomentumNoRecovery(t *testing.T) {
	m := NewManager(testConfig(), nil)
	in := baseInput()
	in.Indicators.Momentum1h = -0.1
	in.Indicators.ADXSlope = -0.1
	result := m.CheckEntry(in)
	if result.Approved || result.Reason != "momentum_flat_no_recovery" {
		t.Fatalf("expected momentum rejection, got %+v", result)
	}
}

func TestMeetsAIConfidence(t *testing.T) {
	m := NewManager(testConfig(), nil)
	if m.MeetsAIConfidence(69.9) {
		t.Error("expected confidence below threshold to fail")
	}
	if !m.MeetsAIConfidence(70.0) {
		t.Error("expected confidence at threshold to pass")
	}
}

func TestCanAddPyramidLevel(t *testing.T) {
	m := NewManager(testConfig(), nil)
	cases := []struct {
		level      int
		confidence float64
		want       bool
	}{
		{1, 84.9, false},
		{1, 85.0, true},
		{2, 89.9, false},
		{2, 90.0, true},
		{3, 99.0, false},
	}
	for _, c := range cases {
		if got := m.CanAddPyramidLevel(c.level, c.confidence); got != c.want {
			t.Errorf("CanAddPyramidLevel(%d, %v) = %v, want %v", c.level, c.confidence, got, c.want)
		}
	}
}
