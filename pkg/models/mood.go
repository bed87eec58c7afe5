package models

import (
	"math"
	"time"
)

// Mood is a VAD emotional state. All components stay clamped to [-1, 1].
type Mood struct {
	Valence   float64 `json:"valence"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// MoodShift is a requested change to a mood, each component in [-0.5, 0.5]
type MoodShift struct {
	Valence   float64 `json:"valence_shift"`
	Arousal   float64 `json:"arousal_shift"`
	Dominance float64 `json:"dominance_shift"`
}

// MoodHalfLife is how long it takes an idle mood to decay halfway
// back to its configured default.
const MoodHalfLife = 6 * time.Hour

const maxShift = 0.5

// Clamp forces all components into [-1, 1]
func (m Mood) Clamp() Mood {
	return Mood{
		Valence:   clampUnit(m.Valence),
		Arousal:   clampUnit(m.Arousal),
		Dominance: clampUnit(m.Dominance),
	}
}

// Apply adds a shift and clamps the result. Shift components outside
// [-0.5, 0.5] are clamped first so a single event can never swing a
// mood end to end.
func (m Mood) Apply(shift MoodShift) Mood {
	return Mood{
		Valence:   clampUnit(m.Valence + clampShift(shift.Valence)),
		Arousal:   clampUnit(m.Arousal + clampShift(shift.Arousal)),
		Dominance: clampUnit(m.Dominance + clampShift(shift.Dominance)),
	}
}

// Sum combines shifts within a single tick. Shifts are summed before
// clamping, which keeps application associative and commutative.
func (s MoodShift) Sum(other MoodShift) MoodShift {
	return MoodShift{
		Valence:   s.Valence + other.Valence,
		Arousal:   s.Arousal + other.Arousal,
		Dominance: s.Dominance + other.Dominance,
	}
}

// Decay moves the mood toward its default given the idle gap since the
// last update, with MoodHalfLife as the half-life.
func (m Mood) Decay(def Mood, idle time.Duration) Mood {
	if idle <= 0 {
		return m.Clamp()
	}
	factor := math.Pow(0.5, idle.Hours()/MoodHalfLife.Hours())
	return Mood{
		Valence:   def.Valence + (m.Valence-def.Valence)*factor,
		Arousal:   def.Arousal + (m.Arousal-def.Arousal)*factor,
		Dominance: def.Dominance + (m.Dominance-def.Dominance)*factor,
	}.Clamp()
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func clampShift(v float64) float64 {
	if v > maxShift {
		return maxShift
	}
	if v < -maxShift {
		return -maxShift
	}
	return v
}
