// Package momentum implements MomentumFailureDetector: a vote-counting
// exit signal independent of the peak/erosion path in internal/position.
package momentum

import (
	"tradeengine/internal/models"
)

// earlyExitAgeMinutes is the age boundary between momentum_failure_early
// and momentum_failure_late.
const earlyExitAgeMinutes = 5.0

// exitSignalThreshold is the minimum number of independent bearish votes
// required before the detector recommends closing the position.
const exitSignalThreshold = 2

// defaultSteepFallADXSlopeMax is the fallback steep-decline threshold
// when the detector is constructed with a non-negative value (a caller
// error): adxSlope must be more negative than this to count as steeply
// falling, not merely declining.
const defaultSteepFallADXSlopeMax = -0.5

// Snapshot is the current indicator state the detector votes on. Only
// the RSI vote also consults EntryContext; the other votes read the
// snapshot alone, so a Momentum1h that was already negative at entry
// still counts as a vote.
type Snapshot struct {
	Momentum1h       float64
	ADX              float64
	ADXSlope         float64
	RSI              float64
	VolumeRatio      float64
	IntrabarMomentum float64
}

// EntryContext is what the detector knows about the trade since entry:
// only the RSI history the RSI vote needs to tell "crossed below 50"
// from "was always below 50". No entry-time momentum is recorded.
type EntryContext struct {
	RSIExceeded60 bool // RSI has exceeded 60 at some point since entry
}

// Result is the detector's verdict for one evaluation.
type Result struct {
	ShouldExit  bool
	Reason      string
	SignalCount int
}

// Detector counts independent bearish votes against an open position.
type Detector struct {
	steepFallADXSlopeMax float64
}

// NewDetector builds a Detector. steepFallADXSlopeMax is the adxSlope
// ceiling (a negative number) a declining ADX must fall below to count
// as a steep fall vote; a non-negative value falls back to
// defaultSteepFallADXSlopeMax.
func NewDetector(steepFallADXSlopeMax float64) *Detector {
	if steepFallADXSlopeMax >= 0 {
		steepFallADXSlopeMax = defaultSteepFallADXSlopeMax
	}
	return &Detector{steepFallADXSlopeMax: steepFallADXSlopeMax}
}

// Evaluate counts votes and, once signalCount reaches the exit
// threshold, reports the age-appropriate exit reason.
func (d *Detector) Evaluate(snap Snapshot, entry EntryContext, ageMinutes float64) Result {
	count := 0

	if snap.Momentum1h < 0 {
		count++
	}
	if snap.ADX > 25 && snap.ADXSlope < d.steepFallADXSlopeMax {
		count++
	}
	if entry.RSIExceeded60 && snap.RSI < 50 {
		count++
	}
	if snap.VolumeRatio < 0.7 && snap.IntrabarMomentum < 0 {
		count++
	}

	if count < exitSignalThreshold {
		return Result{SignalCount: count}
	}

	reason := models.ExitReasonMomentumFailureLate
	if ageMinutes < earlyExitAgeMinutes {
		reason = models.ExitReasonMomentumFailureEarly
	}
	return Result{ShouldExit: true, Reason: reason, SignalCount: count}
}
