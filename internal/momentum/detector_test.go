package momentum

import (
	"testing"

	"tradeengine/internal/models"
)

func newTestDetector() *Detector {
	return NewDetector(-0.5)
}

func TestEvaluateNoVotesStaysOpen(t *testing.T) {
	d := newTestDetector()
	snap := Snapshot{Momentum1h: 0.5, ADX: 30, ADXSlope: 0.2, RSI: 55, VolumeRatio: 1.2, IntrabarMomentum: 0.01}
	result := d.Evaluate(snap, EntryContext{}, 10)
	if result.ShouldExit || result.SignalCount != 0 {
		t.Fatalf("expected no votes, got %+v", result)
	}
}

func TestEvaluateSingleVoteDoesNotExit(t *testing.T) {
	d := newTestDetector()
	snap := Snapshot{Momentum1h: -0.1, ADX: 30, ADXSlope: 0.2, RSI: 55, VolumeRatio: 1.2, IntrabarMomentum: 0.01}
	result := d.Evaluate(snap, EntryContext{}, 10)
	if result.ShouldExit || result.SignalCount != 1 {
		t.Fatalf("expected exactly 1 vote and no exit, got %+v", result)
	}
}

func TestEvaluateTwoVotesExitsEarly(t *testing.T) {
	d := newTestDetector()
	snap := Snapshot{Momentum1h: -0.1, ADX: 30, ADXSlope: -0.8, RSI: 55, VolumeRatio: 1.2, IntrabarMomentum: 0.01}
	result := d.Evaluate(snap, EntryContext{}, 3)
	if !result.ShouldExit || result.Reason != models.ExitReasonMomentumFailureEarly {
		t.Fatalf("expected momentum_failure_early, got %+v", result)
	}
	if result.SignalCount != 2 {
		t.Errorf("expected signalCount 2, got %d", result.SignalCount)
	}
}

func TestEvaluateTwoVotesExitsLateAfterFiveMinutes(t *testing.T) {
	d := newTestDetector()
	snap := Snapshot{Momentum1h: -0.1, ADX: 30, ADXSlope: -0.8, RSI: 55, VolumeRatio: 1.2, IntrabarMomentum: 0.01}
	result := d.Evaluate(snap, EntryContext{}, 6)
	if !result.ShouldExit || result.Reason != models.ExitReasonMomentumFailureLate {
		t.Fatalf("expected momentum_failure_late, got %+v", result)
	}
}

func TestEvaluateRSICrossVoteRequiresPriorExceedance(t *testing.T) {
	d := newTestDetector()
	snap := Snapshot{Momentum1h: -0.1, ADX: 30, ADXSlope: 0.2, RSI: 40, VolumeRatio: 1.2, IntrabarMomentum: 0.01}

	withoutPrior := d.Evaluate(snap, EntryContext{RSIExceeded60: false}, 10)
	if withoutPrior.SignalCount != 1 {
		t.Fatalf("expected RSI vote to require prior exceedance, got %+v", withoutPrior)
	}

	withPrior := d.Evaluate(snap, EntryContext{RSIExceeded60: true}, 10)
	if withPrior.SignalCount != 2 || !withPrior.ShouldExit {
		t.Fatalf("expected RSI vote to count once RSI exceeded 60 earlier, got %+v", withPrior)
	}
}

func TestEvaluateVolumePanicVote(t *testing.T) {
	d := newTestDetector()
	snap := Snapshot{Momentum1h: -0.1, ADX: 30, ADXSlope: 0.2, RSI: 55, VolumeRatio: 0.5, IntrabarMomentum: -0.01}
	result := d.Evaluate(snap, EntryContext{}, 10)
	if result.SignalCount != 2 || !result.ShouldExit {
		t.Fatalf("expected volume+intrabar vote plus momentum vote to exit, got %+v", result)
	}
}

// A merely declining ADX slope (not below the steep-fall threshold)
// must not count as a vote, even with ADX above 25.
func TestEvaluateMildAdxDeclineDoesNotVote(t *testing.T) {
	d := newTestDetector()
	snap := Snapshot{Momentum1h: 0.5, ADX: 30, ADXSlope: -0.1, RSI: 55, VolumeRatio: 1.2, IntrabarMomentum: 0.01}
	result := d.Evaluate(snap, EntryContext{}, 10)
	if result.SignalCount != 0 {
		t.Fatalf("expected a mild ADX decline to cast no vote, got %+v", result)
	}
}

// A slope exactly at the steep-fall threshold is not "below" it and
// must not vote either; the comparison is strict.
func TestEvaluateAdxSlopeAtThresholdDoesNotVote(t *testing.T) {
	d := newTestDetector()
	snap := Snapshot{Momentum1h: 0.5, ADX: 30, ADXSlope: -0.5, RSI: 55, VolumeRatio: 1.2, IntrabarMomentum: 0.01}
	result := d.Evaluate(snap, EntryContext{}, 10)
	if result.SignalCount != 0 {
		t.Fatalf("expected ADX slope exactly at threshold to cast no vote, got %+v", result)
	}
}
