package chat

import (
	"slices"
	"sync"

	"github.com/samber/lo"

	ncerr "protosrv/internal/errors"
	"protosrv/internal/metrics"
)

// Registry is the room: the set of admitted members and their sinks.
// A name is present exactly while its session is active.  Lookups and
// broadcasts share a read lock; membership changes take the write
// lock, so they are serialized and every broadcast sees a consistent
// member set.
type Registry struct {
	mu      sync.RWMutex
	members map[string]Sink
	metrics *metrics.Collector
}

// NewRegistry creates an empty room.  m may be nil.
func NewRegistry(m *metrics.Collector) *Registry {
	return &Registry{members: make(map[string]Sink), metrics: m}
}

// Exists reports whether name is an active member.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[name]
	return ok
}

// List returns the sorted member names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Join registers sink under name without any announcements; sessions
// use Admit.  It returns ErrNameConflict if name is already taken.
func (r *Registry) Join(name string, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.members[name]; taken {
		return ncerr.ErrNameConflict
	}
	r.members[name] = sink
	r.metrics.ChatMembers(len(r.members))
	return nil
}

// Admit adds a new member atomically.  In one critical section it
// announces the arrival to the current members, captures them as the
// roster, registers sink and queues the roster line on sink, so the
// roster is the first room message the newcomer sees.  It returns the
// roster, or ErrNameConflict if name is already taken, in which case
// nothing changes.
func (r *Registry) Admit(name string, sink Sink) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.members[name]; taken {
		return nil, ncerr.ErrNameConflict
	}

	r.broadcastLocked(enteredMsg(name), name)
	r.metrics.ChatMessage("join")

	roster := r.sortedLocked()
	r.members[name] = sink
	r.metrics.ChatMembers(len(r.members))
	sink.Send(rosterMsg(roster))
	return roster, nil
}

// Leave removes name.  It reports whether name was a member.
func (r *Registry) Leave(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[name]; !ok {
		return false
	}
	delete(r.members, name)
	r.metrics.ChatMembers(len(r.members))
	return true
}

// Broadcast queues msg on every member except exclude (pass "" to
// reach everyone) and returns how many sinks accepted it.  Rejected
// deliveries are handled by the sink and never reported to the
// sender.
func (r *Registry) Broadcast(msg, exclude string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcastLocked(msg, exclude)
}

func (r *Registry) broadcastLocked(msg, exclude string) int {
	delivered := 0
	for name, sink := range r.members {
		if name == exclude {
			continue
		}
		if sink.Send(msg) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) sortedLocked() []string {
	names := lo.Keys(r.members)
	slices.Sort(names)
	return names
}
