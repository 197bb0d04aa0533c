package volunteer

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Stats summarizes the live sessions. Contributors counts distinct
// identities, since one contributor may run several sessions.
type Stats struct {
	Connected    int            `json:"connected"`
	Idle         int            `json:"idle"`
	Busy         int            `json:"busy"`
	Contributors int            `json:"contributors"`
	Runtimes     map[string]int `json:"runtimes"`
}

// Manager tracks the websocket sessions attached to this node.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Volunteer
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Volunteer)}
}

func (m *Manager) Add(v *Volunteer) {
	m.mu.Lock()
	m.sessions[v.ID] = v
	n := len(m.sessions)
	m.mu.Unlock()

	log.WithFields(log.Fields{"volunteer": v.ID, "sessions": n}).Info("Session attached")
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	log.WithFields(log.Fields{"volunteer": id, "sessions": n}).Info("Session detached")
}

func (m *Manager) Get(id string) (*Volunteer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.sessions[id]
	return v, ok
}

func (m *Manager) snapshot() []*Volunteer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Volunteer, 0, len(m.sessions))
	for _, v := range m.sessions {
		out = append(out, v)
	}
	return out
}

func (m *Manager) Stats() Stats {
	s := Stats{Runtimes: map[string]int{}}
	identities := map[string]struct{}{}

	for _, v := range m.snapshot() {
		s.Connected++
		switch v.CurrentStatus() {
		case StatusIdle:
			s.Idle++
		case StatusBusy:
			s.Busy++
		}
		id, caps := v.Identity()
		identities[id] = struct{}{}
		for _, rt := range []string{"lua", "js", "wasm"} {
			if caps.SupportsKernel(rt) {
				s.Runtimes[rt]++
			}
		}
	}
	s.Contributors = len(identities)
	return s
}

// Idle returns the idle sessions, longest connected first, so older sessions
// are offered new work before newer ones.
func (m *Manager) Idle() []*Volunteer {
	var idle []*Volunteer
	for _, v := range m.snapshot() {
		if v.CurrentStatus() == StatusIdle {
			idle = append(idle, v)
		}
	}
	sort.Slice(idle, func(a, b int) bool {
		return idle[a].ConnectedAt.Before(idle[b].ConnectedAt)
	})
	return idle
}
