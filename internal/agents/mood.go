package agents

import (
	"sync"
	"time"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// MoodState holds one agent's mood with lazy half-life decay toward a
// configured default. Decay is applied on read, so an idle agent pays
// nothing for it.
type MoodState struct {
	mu        sync.Mutex
	current   models.Mood
	def       models.Mood
	updatedAt time.Time
	now       func() time.Time
}

// NewMoodState creates a mood at its default
func NewMoodState(def models.Mood) *MoodState {
	def = def.Clamp()
	return &MoodState{
		current:   def,
		def:       def,
		updatedAt: time.Now(),
		now:       time.Now,
	}
}

// Current returns the mood after applying decay for the idle gap
func (m *MoodState) Current() models.Mood {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decayLocked()
}

// Apply folds a shift into the mood. The decay for the idle gap is
// applied first so shifts always land on the decayed value.
func (m *MoodState) Apply(shift models.MoodShift) models.Mood {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = m.decayLocked().Apply(shift)
	m.updatedAt = m.now()
	return m.current
}

// ApplyAll folds several shifts from a single tick into the mood.
// Shifts are summed before clamping so the result does not depend on
// their order.
func (m *MoodState) ApplyAll(shifts []models.MoodShift) models.Mood {
	if len(shifts) == 0 {
		return m.Current()
	}

	total := models.MoodShift{}
	for _, s := range shifts {
		total = total.Sum(s)
	}
	return m.Apply(total)
}

// Set replaces the mood outright (operator override)
func (m *MoodState) Set(mood models.Mood) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = mood.Clamp()
	m.updatedAt = m.now()
}

func (m *MoodState) decayLocked() models.Mood {
	idle := m.now().Sub(m.updatedAt)
	if idle <= 0 {
		return m.current
	}
	return m.current.Decay(m.def, idle)
}
