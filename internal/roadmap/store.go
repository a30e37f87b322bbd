package roadmap

import (
	"log/slog"
	"sync"
)

// Update describes one change published to store subscribers. A zero
// ConceptID means the whole roadmap was replaced.
type Update struct {
	ConceptID   string
	ContentType ContentType
	Status      ContentStatus
}

// Store is the single owned container for the shared roadmap tree.
// All mutation goes through explicit update functions; readers get copies.
type Store struct {
	mu       sync.RWMutex
	roadmap  *Roadmap
	nextSub  int
	subs     map[int]chan Update
	location map[string][3]int // concept id -> stage/module/concept index
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		subs:     make(map[int]chan Update),
		location: make(map[string][3]int),
	}
}

// SetRoadmap replaces the tree wholesale and reindexes concept locations.
func (s *Store) SetRoadmap(r *Roadmap) {
	s.mu.Lock()
	s.roadmap = r
	s.location = make(map[string][3]int)
	if r != nil {
		for si := range r.Stages {
			for mi := range r.Stages[si].Modules {
				for ci := range r.Stages[si].Modules[mi].Concepts {
					s.location[r.Stages[si].Modules[mi].Concepts[ci].ID] = [3]int{si, mi, ci}
				}
			}
		}
	}
	s.mu.Unlock()
	s.notify(Update{})
}

// Roadmap returns a deep copy of the current tree, or nil if none is loaded.
func (s *Store) Roadmap() *Roadmap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.roadmap == nil {
		return nil
	}
	cp := *s.roadmap
	cp.Stages = make([]Stage, len(s.roadmap.Stages))
	for si, st := range s.roadmap.Stages {
		cp.Stages[si] = st
		cp.Stages[si].Modules = make([]Module, len(st.Modules))
		for mi, m := range st.Modules {
			cp.Stages[si].Modules[mi] = m
			cp.Stages[si].Modules[mi].Concepts = append([]Concept(nil), m.Concepts...)
		}
	}
	return &cp
}

// Loaded reports whether a roadmap has been set.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roadmap != nil
}

// ConceptStatus returns the current status for one concept's content type.
func (s *Store) ConceptStatus(conceptID string, ct ContentType) (ContentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.concept(conceptID)
	if c == nil {
		return "", false
	}
	return c.Status(ct), true
}

// UpdateConceptStatus applies a status change if it is allowed by the content
// state machine. It returns the previous status and whether the change was
// applied. Unknown concepts and invalid transitions are no-ops.
func (s *Store) UpdateConceptStatus(conceptID string, ct ContentType, to ContentStatus) (ContentStatus, bool) {
	s.mu.Lock()
	c := s.concept(conceptID)
	if c == nil {
		s.mu.Unlock()
		slog.Debug("status update for unknown concept", "concept_id", conceptID, "content_type", ct)
		return "", false
	}
	from := c.Status(ct)
	if from == to || !ValidTransition(from, to) {
		s.mu.Unlock()
		return from, false
	}
	c.SetStatus(ct, to)
	s.mu.Unlock()

	s.notify(Update{ConceptID: conceptID, ContentType: ct, Status: to})
	return from, true
}

// ForceConceptStatus applies a status change bypassing transition validation.
// Stale demotion is the only caller; it recovers from lost terminal events.
func (s *Store) ForceConceptStatus(conceptID string, ct ContentType, to ContentStatus) (ContentStatus, bool) {
	s.mu.Lock()
	c := s.concept(conceptID)
	if c == nil {
		s.mu.Unlock()
		return "", false
	}
	from := c.Status(ct)
	if from == to {
		s.mu.Unlock()
		return from, false
	}
	c.SetStatus(ct, to)
	s.mu.Unlock()

	s.notify(Update{ConceptID: conceptID, ContentType: ct, Status: to})
	return from, true
}

// ResetFailed moves every failed status of the given content types to
// generating and returns the number of statuses changed. It backs the
// optimistic retry update.
func (s *Store) ResetFailed(types []ContentType) int {
	s.mu.Lock()
	var changed []Update
	if s.roadmap != nil {
		for si := range s.roadmap.Stages {
			for mi := range s.roadmap.Stages[si].Modules {
				for ci := range s.roadmap.Stages[si].Modules[mi].Concepts {
					c := &s.roadmap.Stages[si].Modules[mi].Concepts[ci]
					for _, ct := range types {
						if c.Status(ct) == StatusFailed {
							c.SetStatus(ct, StatusGenerating)
							changed = append(changed, Update{ConceptID: c.ID, ContentType: ct, Status: StatusGenerating})
						}
					}
				}
			}
		}
	}
	s.mu.Unlock()

	for _, u := range changed {
		s.notify(u)
	}
	return len(changed)
}

// Subscribe registers for change notifications. Slow subscribers drop
// updates rather than block the reconciler. The returned cancel function
// closes the channel.
func (s *Store) Subscribe() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Update, 64)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Store) notify(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// concept must be called with s.mu held.
func (s *Store) concept(id string) *Concept {
	loc, ok := s.location[id]
	if !ok || s.roadmap == nil {
		return nil
	}
	return &s.roadmap.Stages[loc[0]].Modules[loc[1]].Concepts[loc[2]]
}
