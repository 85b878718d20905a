package reminder

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry maps a user to that user's reminders in insertion order.
//
// The registry owns every Reminder; callers only ever receive copies. A single
// RWMutex guards all users, so a fire-triggered time advance can never race a
// user-triggered removal.
type Registry struct {
	mu    sync.RWMutex
	users map[int64]*orderedmap.OrderedMap[string, *Reminder]
}

func NewRegistry() *Registry {
	return &Registry{users: map[int64]*orderedmap.OrderedMap[string, *Reminder]{}}
}

// Add appends r under user. It fails with ErrDuplicateID if the id is taken.
func (g *Registry) Add(user int64, r Reminder) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	om := g.users[user]
	if om == nil {
		om = orderedmap.New[string, *Reminder]()
		g.users[user] = om
	}
	if _, present := om.Get(r.ID); present {
		return ErrDuplicateID
	}
	cp := r
	om.Set(r.ID, &cp)
	return nil
}

// List returns the user's reminders in insertion order. Never nil.
func (g *Registry) List(user int64) []Reminder {
	g.mu.RLock()
	defer g.mu.RUnlock()
	om := g.users[user]
	if om == nil {
		return []Reminder{}
	}
	out := make([]Reminder, 0, om.Len())
	for p := om.Oldest(); p != nil; p = p.Next() {
		out = append(out, *p.Value)
	}
	return out
}

// Get returns a copy of the reminder with id.
func (g *Registry) Get(user int64, id string) (Reminder, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if om := g.users[user]; om != nil {
		if r, ok := om.Get(id); ok {
			return *r, true
		}
	}
	return Reminder{}, false
}

func (g *Registry) Has(user int64, id string) bool {
	_, ok := g.Get(user, id)
	return ok
}

// Remove deletes the reminder with id and returns what was removed.
// A missing id is a no-op.
func (g *Registry) Remove(user int64, id string) []Reminder {
	g.mu.Lock()
	defer g.mu.Unlock()
	om := g.users[user]
	if om == nil {
		return nil
	}
	r, ok := om.Delete(id)
	if om.Len() == 0 {
		delete(g.users, user)
	}
	if !ok {
		return nil
	}
	return []Reminder{*r}
}

// Advance moves the reminder's next firing instant to next.
func (g *Registry) Advance(user int64, id string, next time.Time) (Reminder, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.lookupLocked(user, id)
	if r == nil {
		return Reminder{}, false
	}
	r.Time = next.UTC()
	return *r, true
}

// MarkFired retires a non-recurring reminder.
func (g *Registry) MarkFired(user int64, id string, at time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.lookupLocked(user, id)
	if r == nil {
		return false
	}
	r.FiredAt = at.UTC()
	return true
}

// Prune removes every reminder for which drop returns true and reports how many went.
func (g *Registry) Prune(drop func(user int64, r Reminder) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for user, om := range g.users {
		var victims []string
		for p := om.Oldest(); p != nil; p = p.Next() {
			if drop(user, *p.Value) {
				victims = append(victims, p.Key)
			}
		}
		for _, id := range victims {
			om.Delete(id)
			n++
		}
		if om.Len() == 0 {
			delete(g.users, user)
		}
	}
	return n
}

// Count returns the total number of reminders across all users.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, om := range g.users {
		n += om.Len()
	}
	return n
}

func (g *Registry) lookupLocked(user int64, id string) *Reminder {
	om := g.users[user]
	if om == nil {
		return nil
	}
	r, _ := om.Get(id)
	return r
}
