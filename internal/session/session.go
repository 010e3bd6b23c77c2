// Package session holds the per-device state of the persona wizard.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ashureev/persona-lab/internal/auth"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/store"
	"github.com/ashureev/persona-lab/internal/wizard"
)

// Simulation is the data collected across one wizard run.
type Simulation struct {
	Form      domain.PersonaForm `json:"form"`
	Personas  []string           `json:"personas"`
	Content   string             `json:"content"`
	ImageURLs []string           `json:"imageUrls"`
	Feedbacks []domain.Feedback  `json:"feedbacks"`
	// Malformed holds feedback records of the last run that could not be used.
	Malformed []json.RawMessage `json:"malformed,omitempty"`
	Analysis  string            `json:"analysis,omitempty"`
}

func (s Simulation) clone() Simulation {
	s.Personas = append([]string(nil), s.Personas...)
	s.ImageURLs = append([]string(nil), s.ImageURLs...)
	s.Feedbacks = append([]domain.Feedback(nil), s.Feedbacks...)
	s.Malformed = append([]json.RawMessage(nil), s.Malformed...)
	return s
}

// Session is the state of one device: its auth mirror, wizard and
// simulation data.
type Session struct {
	DeviceID string
	Auth     *auth.Store
	Client   *auth.Client
	Wizard   *wizard.Wizard
	Entries  *store.DeviceEntries

	detach func()

	mu       sync.Mutex
	sim      Simulation
	lastSeen time.Time
}

// Simulation returns a copy of the current run's data.
func (s *Session) Simulation() Simulation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.clone()
}

// Update mutates the simulation data under the session lock.
func (s *Session) Update(fn func(sim *Simulation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.sim)
}

// Reset clears the simulation data and sends the wizard back to step 0.
func (s *Session) Reset() {
	s.mu.Lock()
	s.sim = Simulation{}
	s.mu.Unlock()
	s.Wizard.Reset()
}

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	s.mu.Unlock()
}

// LastSeen returns the time of the last recorded activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// UserID returns the signed-in user's ID, or "".
func (s *Session) UserID() string {
	if u := s.Auth.User(); u != nil {
		return u.ID
	}
	return ""
}

func (s *Session) close() {
	if s.detach != nil {
		s.detach()
	}
}
