// Package registry maps destination names to compact numeric ids.
//
// Two ids are reserved: Drop (0) addresses nobody and Broadcast (the largest
// id) addresses every registered subscriber. Ids for caller-defined names are
// handed out from 1 upwards, one per distinct name.
package registry

import (
	"fmt"
	"math"
	"sync"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

// DestinationID identifies a destination inside one broker.
type DestinationID uint32

const (
	// Drop is delivered to nobody.
	Drop DestinationID = 0
	// Broadcast is delivered to every registered subscriber.
	Broadcast DestinationID = math.MaxUint32
)

// Reserved destination names.
const (
	DropName      = "DROP"
	BroadcastName = "BROADCAST"
)

// IsReserved reports whether name is one of the reserved destination names.
func IsReserved(name string) bool {
	return name == DropName || name == BroadcastName
}

// String renders the id, using the reserved names where they apply.
func (id DestinationID) String() string {
	switch id {
	case Drop:
		return DropName
	case Broadcast:
		return BroadcastName
	default:
		return fmt.Sprintf("#%d", uint32(id))
	}
}

// Registry is a bidirectional name/id table. The zero value is not usable; use New.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]DestinationID
	byID   map[DestinationID]string
	next   DestinationID
}

// New returns a Registry holding only the reserved entries.
func New() *Registry {
	return &Registry{
		byName: map[string]DestinationID{DropName: Drop, BroadcastName: Broadcast},
		byID:   map[DestinationID]string{Drop: DropName, Broadcast: BroadcastName},
		next:   1,
	}
}

// Register returns the id bound to name, allocating the next one if the name
// is new. Concurrent calls for the same name always observe the same id and
// no id is ever allocated and then discarded.
func (r *Registry) Register(name string) (DestinationID, error) {
	if name == "" {
		return Drop, errspkg.ErrDestinationNameRequired
	}
	if id, ok := r.Lookup(name); ok {
		return id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id, nil
	}
	if r.next == Broadcast {
		return Drop, fmt.Errorf("%w: cannot register %q", errspkg.ErrRegistryExhausted, name)
	}
	id := r.next
	r.next++
	r.byName[name] = id
	r.byID[id] = name
	return id, nil
}

// Lookup returns the id bound to name without allocating.
func (r *Registry) Lookup(name string) (DestinationID, bool) {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	return id, ok
}

// Resolve returns the id bound to name, or Drop when the name is unknown.
func (r *Registry) Resolve(name string) DestinationID {
	id, ok := r.Lookup(name)
	if !ok {
		return Drop
	}
	return id
}

// Name returns the name bound to id.
func (r *Registry) Name(id DestinationID) (string, bool) {
	r.mu.RLock()
	name, ok := r.byID[id]
	r.mu.RUnlock()
	return name, ok
}

// Len returns the number of bound names, reserved entries included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
