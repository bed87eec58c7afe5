package models

import (
	"math"
	"testing"
	"time"
)

func TestMoodClamp(t *testing.T) {
	m := Mood{Valence: 1.7, Arousal: -2.3, Dominance: 0.4}.Clamp()

	if m.Valence != 1 {
		t.Errorf("Valence should clamp to 1, got %f", m.Valence)
	}
	if m.Arousal != -1 {
		t.Errorf("Arousal should clamp to -1, got %f", m.Arousal)
	}
	if m.Dominance != 0.4 {
		t.Errorf("Dominance should be untouched, got %f", m.Dominance)
	}
}

func TestMoodApply(t *testing.T) {
	t.Run("normal shift", func(t *testing.T) {
		m := Mood{Valence: 0.2}.Apply(MoodShift{Valence: 0.3})
		if math.Abs(m.Valence-0.5) > 1e-9 {
			t.Errorf("expected valence 0.5, got %f", m.Valence)
		}
	})

	t.Run("oversized shift is clamped to 0.5", func(t *testing.T) {
		m := Mood{}.Apply(MoodShift{Valence: 3.0})
		if m.Valence != 0.5 {
			t.Errorf("a single shift must never exceed 0.5, got %f", m.Valence)
		}
	})

	t.Run("result stays in range", func(t *testing.T) {
		m := Mood{Valence: 0.9}.Apply(MoodShift{Valence: 0.5})
		if m.Valence != 1 {
			t.Errorf("expected valence clamped to 1, got %f", m.Valence)
		}
	})
}

func TestMoodShiftSumOrderIndependent(t *testing.T) {
	a := MoodShift{Valence: 0.4, Arousal: -0.1}
	b := MoodShift{Valence: 0.3, Arousal: 0.2}
	c := MoodShift{Valence: -0.2, Dominance: 0.1}

	first := a.Sum(b).Sum(c)
	second := c.Sum(a).Sum(b)

	if math.Abs(first.Valence-second.Valence) > 1e-9 ||
		math.Abs(first.Arousal-second.Arousal) > 1e-9 ||
		math.Abs(first.Dominance-second.Dominance) > 1e-9 {
		t.Errorf("shift summation must be order independent: %+v vs %+v", first, second)
	}
}

func TestMoodDecay(t *testing.T) {
	def := Mood{Valence: 0.1}
	m := Mood{Valence: 0.9}

	t.Run("half life halves the distance", func(t *testing.T) {
		decayed := m.Decay(def, MoodHalfLife)
		if math.Abs(decayed.Valence-0.5) > 1e-9 {
			t.Errorf("expected valence 0.5 after one half-life, got %f", decayed.Valence)
		}
	})

	t.Run("zero idle is a no-op", func(t *testing.T) {
		decayed := m.Decay(def, 0)
		if decayed.Valence != 0.9 {
			t.Errorf("expected unchanged valence, got %f", decayed.Valence)
		}
	})

	t.Run("long idle converges to default", func(t *testing.T) {
		decayed := m.Decay(def, 100*MoodHalfLife)
		if math.Abs(decayed.Valence-def.Valence) > 1e-6 {
			t.Errorf("expected valence near default %f, got %f", def.Valence, decayed.Valence)
		}
	})
}

func TestMoodDecayDoesNotOvershoot(t *testing.T) {
	def := Mood{Valence: -0.2}
	m := Mood{Valence: 0.6}

	prev := m.Valence
	for _, idle := range []time.Duration{time.Hour, 6 * time.Hour, 24 * time.Hour} {
		decayed := m.Decay(def, idle)
		if decayed.Valence > prev {
			t.Errorf("decay toward a lower default must be monotonic, %f -> %f", prev, decayed.Valence)
		}
		if decayed.Valence < def.Valence {
			t.Errorf("decay must not overshoot the default, got %f", decayed.Valence)
		}
		prev = decayed.Valence
	}
}
