// Package placeholder implements the variable store for values that are
// deliberately left unresolved pending later information: empty-collection
// element types, unresolved generic parameters, cycle break points, and
// untyped parameters.
//
// A placeholder's lifecycle is monotonic. It is allocated Unanswered with a
// default, transitions at most once to Answered (first unification wins) or
// Pinned (forced to its default), and is immutable afterwards. The store
// itself only locks allocation bookkeeping; single-writer resolution is
// guaranteed by transaction serialization in the engine, never by
// per-placeholder locks.
package placeholder

import (
	"fmt"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Tag classifies why a placeholder exists.
type Tag int8

const (
	// TagContained marks the element type of an empty collection literal.
	TagContained Tag = iota
	// TagQuantified marks an unresolved generic parameter.
	TagQuantified
	// TagRecursive marks a placeholder minted to break a dependency cycle.
	TagRecursive
	// TagParameter marks an unannotated parameter.
	TagParameter
)

// String returns the lowercase tag name.
func (t Tag) String() string {
	switch t {
	case TagContained:
		return "contained"
	case TagQuantified:
		return "quantified"
	case TagRecursive:
		return "recursive"
	case TagParameter:
		return "parameter"
	default:
		return fmt.Sprintf("tag(%d)", int8(t))
	}
}

// ID is a handle into the store. The zero ID means "no placeholder".
type ID int32

// state tracks the resolution lifecycle of one placeholder.
type state int8

const (
	unanswered state = iota
	answered
	pinned
)

type slot struct {
	tag    Tag
	def    cty.Type
	state  state
	answer cty.Type
}

// Conflict is returned by Unify when a later unification is incompatible
// with the value a placeholder already settled on. It is a recoverable
// semantic finding, not an invariant violation.
type Conflict struct {
	ID   ID
	Have cty.Type
	Want cty.Type
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("placeholder %d already resolved to %s, incompatible with %s",
		c.ID, c.Have.FriendlyName(), c.Want.FriendlyName())
}

// Store allocates and resolves placeholders for one graph evaluation.
//
// Slots are held by pointer so that concurrent allocation never moves a
// slot another context is resolving.
type Store struct {
	mu    sync.Mutex
	slots []*slot
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Allocate creates a new Unanswered placeholder with the given tag and
// default value and returns its handle.
func (s *Store) Allocate(tag Tag, def cty.Type) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = append(s.slots, &slot{tag: tag, def: def, state: unanswered})
	return ID(len(s.slots))
}

// Unify resolves an Unanswered placeholder to the given concrete type. On a
// placeholder that already settled (Answered or Pinned) it only checks
// compatibility via the supplied predicate and reports a *Conflict on
// mismatch; it never reopens or changes the settled value.
func (s *Store) Unify(id ID, concrete cty.Type, compatible func(a, b cty.Type) bool) error {
	sl := s.slot(id)
	switch sl.state {
	case unanswered:
		sl.state = answered
		sl.answer = concrete
		return nil
	default:
		if compatible(sl.answer, concrete) {
			return nil
		}
		return &Conflict{ID: id, Have: sl.answer, Want: concrete}
	}
}

// Pin forces a still-Unanswered placeholder to its default. Pinning a
// placeholder that already settled is a no-op.
func (s *Store) Pin(id ID) {
	sl := s.slot(id)
	if sl.state == unanswered {
		sl.state = pinned
		sl.answer = sl.def
	}
}

// Unanswered reports whether the placeholder has not settled yet.
func (s *Store) Unanswered(id ID) bool {
	return s.slot(id).state == unanswered
}

// View returns the placeholder's current value without changing its state:
// the settled answer if it has one, otherwise the default.
func (s *Store) View(id ID) cty.Type {
	sl := s.slot(id)
	if sl.state == unanswered {
		return sl.def
	}
	return sl.answer
}

// Default returns the value the placeholder falls back to when never
// refined. Non-committal readers always see this value, regardless of any
// refinement that happens elsewhere.
func (s *Store) Default(id ID) cty.Type {
	return s.slot(id).def
}

// TagOf returns the placeholder's allocation tag.
func (s *Store) TagOf(id ID) Tag {
	return s.slot(id).tag
}

// Len returns the number of allocated placeholders.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Store) slot(id ID) *slot {
	if id < 1 {
		panic(fmt.Sprintf("placeholder: invalid handle %d", id))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) > len(s.slots) {
		panic(fmt.Sprintf("placeholder: invalid handle %d", id))
	}
	return s.slots[id-1]
}
