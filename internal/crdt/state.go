package crdt

import (
	"sort"
	"strings"
)

// OpID identifies a single operation emitted by one actor. The zero value is
// the document root and never carries content.
type OpID struct {
	Actor string
	Seq   uint64
}

// Less orders identifiers by sequence first, then actor, which yields the same
// total order on every replica.
func (id OpID) Less(other OpID) bool {
	if id.Seq != other.Seq {
		return id.Seq < other.Seq
	}
	return id.Actor < other.Actor
}

// IsRoot reports whether the identifier names the document root.
func (id OpID) IsRoot() bool {
	return id.Actor == "" && id.Seq == 0
}

type element struct {
	ID     OpID
	Parent OpID
	Rune   rune
}

// State holds the replicated rich-text document. Merge is a set union over
// elements and tombstones, so applying the same updates in any order, any
// number of times, converges to identical state.
type State struct {
	elements   map[OpID]element
	tombstones map[OpID]bool
	clock      uint64
}

// NewState returns a fresh, empty document.
func NewState() *State {
	return &State{
		elements:   make(map[OpID]element),
		tombstones: make(map[OpID]bool),
	}
}

// Clone returns an independent deep copy of the state.
func (s *State) Clone() *State {
	clone := NewState()
	for id, el := range s.elements {
		clone.elements[id] = el
	}
	for id := range s.tombstones {
		clone.tombstones[id] = true
	}
	clone.clock = s.clock
	return clone
}

func (s *State) observe(seq uint64) {
	if seq > s.clock {
		s.clock = seq
	}
}

func (s *State) applyInsert(el element) bool {
	s.observe(el.ID.Seq)
	if _, exists := s.elements[el.ID]; exists {
		return false
	}
	s.elements[el.ID] = el
	return true
}

func (s *State) applyDelete(target OpID) bool {
	s.observe(target.Seq)
	if s.tombstones[target] {
		return false
	}
	// A tombstone for a not-yet-seen insert is retained so the element is
	// born deleted when its insert arrives.
	s.tombstones[target] = true
	return true
}

// Merge applies a binary update batch in place. It is idempotent and
// commutative across the update set; re-delivery and reordering are safe.
// The returned count is the number of operations newly applied.
func (s *State) Merge(updateBytes []byte) (int, error) {
	ops, err := decodeUpdate(updateBytes)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, op := range ops {
		switch op.Kind {
		case opInsert:
			if s.applyInsert(op.Element) {
				applied++
			}
		case opDelete:
			if s.applyDelete(op.Target) {
				applied++
			}
		}
	}
	return applied, nil
}

// ordered returns every element in document order. Children of a common
// parent sort newest-first so that a later insertion at the same origin lands
// before its elder siblings, matching RGA semantics. Elements whose parent is
// unknown attach under the root.
func (s *State) ordered() []element {
	children := make(map[OpID][]OpID, len(s.elements))
	for id, el := range s.elements {
		parent := el.Parent
		if !parent.IsRoot() {
			if _, known := s.elements[parent]; !known {
				parent = OpID{}
			}
		}
		children[parent] = append(children[parent], id)
	}
	for _, ids := range children {
		sort.Slice(ids, func(i, j int) bool {
			return ids[j].Less(ids[i])
		})
	}

	out := make([]element, 0, len(s.elements))
	var walk func(parent OpID)
	walk = func(parent OpID) {
		for _, id := range children[parent] {
			out = append(out, s.elements[id])
			walk(id)
		}
	}
	walk(OpID{})
	return out
}

// PlainText projects the document to its visible text.
func (s *State) PlainText() string {
	var builder strings.Builder
	for _, el := range s.ordered() {
		if s.tombstones[el.ID] {
			continue
		}
		builder.WriteRune(el.Rune)
	}
	return builder.String()
}

// Len reports the number of visible runes.
func (s *State) Len() int {
	count := 0
	for _, el := range s.ordered() {
		if !s.tombstones[el.ID] {
			count++
		}
	}
	return count
}

// AppendText inserts text at the end of the document on behalf of actor,
// merges the resulting operations locally, and returns the encoded update for
// transmission to other replicas.
func (s *State) AppendText(actor, text string) []byte {
	parent := OpID{}
	if all := s.ordered(); len(all) > 0 {
		parent = all[len(all)-1].ID
	}
	return s.insertAfter(actor, parent, text)
}

// InsertAt inserts text before the visible rune at position on behalf of
// actor. A position at or past the end appends.
func (s *State) InsertAt(actor string, position int, text string) []byte {
	parent := OpID{}
	seen := 0
	for _, el := range s.ordered() {
		if seen >= position {
			break
		}
		if s.tombstones[el.ID] {
			continue
		}
		parent = el.ID
		seen++
	}
	return s.insertAfter(actor, parent, text)
}

func (s *State) insertAfter(actor string, parent OpID, text string) []byte {
	ops := make([]op, 0, len(text))
	for _, r := range text {
		s.clock++
		el := element{
			ID:     OpID{Actor: actor, Seq: s.clock},
			Parent: parent,
			Rune:   r,
		}
		s.elements[el.ID] = el
		parent = el.ID
		ops = append(ops, op{Kind: opInsert, Element: el})
	}
	return encodeUpdate(ops)
}

// DeleteRange tombstones count visible runes starting at position and returns
// the encoded update.
func (s *State) DeleteRange(position, count int) []byte {
	ops := make([]op, 0, count)
	seen := 0
	for _, el := range s.ordered() {
		if s.tombstones[el.ID] {
			continue
		}
		if seen >= position && len(ops) < count {
			s.tombstones[el.ID] = true
			ops = append(ops, op{Kind: opDelete, Target: el.ID})
		}
		seen++
		if len(ops) == count {
			break
		}
	}
	return encodeUpdate(ops)
}
