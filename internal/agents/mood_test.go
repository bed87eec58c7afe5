package agents

import (
	"math"
	"testing"
	"time"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

func TestMoodStateDecayOnRead(t *testing.T) {
	def := models.Mood{Valence: 0.1}
	m := NewMoodState(def)

	clock := time.Now()
	m.now = func() time.Time { return clock }
	m.Set(models.Mood{Valence: 0.9})

	// one half-life later the distance to the default halves
	clock = clock.Add(models.MoodHalfLife)
	got := m.Current()
	if math.Abs(got.Valence-0.5) > 1e-9 {
		t.Errorf("expected valence 0.5 after one half-life, got %f", got.Valence)
	}
}

func TestMoodStateApplyDecaysFirst(t *testing.T) {
	def := models.Mood{}
	m := NewMoodState(def)

	clock := time.Now()
	m.now = func() time.Time { return clock }
	m.Set(models.Mood{Valence: 0.8})

	clock = clock.Add(models.MoodHalfLife)
	got := m.Apply(models.MoodShift{Valence: 0.1})

	// 0.8 decays to 0.4, then the shift lands
	if math.Abs(got.Valence-0.5) > 1e-9 {
		t.Errorf("shift must land on the decayed value, got %f", got.Valence)
	}
}

func TestMoodStateApplyAllSumsFirst(t *testing.T) {
	m := NewMoodState(models.Mood{})
	clock := time.Now()
	m.now = func() time.Time { return clock }

	// two 0.4 shifts in one tick sum to 0.8 before the 0.5 shift clamp,
	// so the result is 0.5, not 0.8
	got := m.ApplyAll([]models.MoodShift{
		{Valence: 0.4},
		{Valence: 0.4},
	})
	if got.Valence != 0.5 {
		t.Errorf("summed shift should clamp to 0.5, got %f", got.Valence)
	}
}

func TestMoodStateSetClamps(t *testing.T) {
	m := NewMoodState(models.Mood{})
	clock := time.Now()
	m.now = func() time.Time { return clock }

	m.Set(models.Mood{Valence: 2.5})
	if got := m.Current(); got.Valence != 1 {
		t.Errorf("operator override should clamp, got %f", got.Valence)
	}
}
