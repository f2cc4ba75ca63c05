// Package envelope implements the ordered, named data slices that travel
// along DAG edges between tasks.
package envelope

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// Errors returned by selectForTask, per spec.md §4.C.
var (
	ErrUnknownAlias = errors.New("envelope: unknown alias")
	ErrEmptyInput   = errors.New("envelope: empty input")
)

// Slice is one named data slice within an Envelope.
type Slice struct {
	Slot    string
	Payload []byte
	History []string
	Aliases map[string]string
}

// Envelope is an ordered collection of Slices. Slot names are unique
// within one Envelope.
type Envelope struct {
	slices []Slice
}

// New builds an Envelope from slices, rejecting duplicate slot names.
func New(slices ...Slice) (*Envelope, error) {
	seen := make(map[string]bool, len(slices))
	for _, s := range slices {
		if seen[s.Slot] {
			return nil, fmt.Errorf("envelope: duplicate slot %q", s.Slot)
		}
		seen[s.Slot] = true
	}
	return &Envelope{slices: append([]Slice(nil), slices...)}, nil
}

// Slices returns the envelope's slices in order. The returned slice must
// not be mutated by the caller.
func (e *Envelope) Slices() []Slice {
	if e == nil {
		return nil
	}
	return e.slices
}

// Len reports how many slices the envelope carries.
func (e *Envelope) Len() int {
	if e == nil {
		return 0
	}
	return len(e.slices)
}

// Slot looks up a slice by its slot name.
func (e *Envelope) Slot(name string) (Slice, bool) {
	if e == nil {
		return Slice{}, false
	}
	for _, s := range e.slices {
		if s.Slot == name {
			return s, true
		}
	}
	return Slice{}, false
}

// Fork returns a copy of e whose slice header (slot/history/aliases) is
// independent of the original; payloads are treated as immutable and
// shared between the two copies.
func Fork(e *Envelope) *Envelope {
	if e == nil {
		return &Envelope{}
	}
	out := make([]Slice, len(e.slices))
	for i, s := range e.slices {
		out[i] = Slice{
			Slot:    s.Slot,
			Payload: s.Payload,
			History: append([]string(nil), s.History...),
			Aliases: cloneAliases(s.Aliases),
		}
	}
	return &Envelope{slices: out}
}

func cloneAliases(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge concatenates envelopes in the given order, preserving slice order
// within each parent. A slot name that collides with one already present
// is disambiguated by prefixing it with parentName + ".", per the fan-in
// Open Question resolution in SPEC_FULL.md.
func Merge(parents []NamedEnvelope) (*Envelope, error) {
	if len(parents) == 0 {
		return nil, ErrEmptyInput
	}
	seen := make(map[string]bool)
	var out []Slice
	for _, p := range parents {
		for _, s := range p.Envelope.Slices() {
			slot := s.Slot
			if seen[slot] {
				slot = p.Name + "." + s.Slot
			}
			seen[slot] = true
			out = append(out, Slice{
				Slot:    slot,
				Payload: s.Payload,
				History: append([]string(nil), s.History...),
				Aliases: cloneAliases(s.Aliases),
			})
		}
	}
	return &Envelope{slices: out}, nil
}

// NamedEnvelope pairs a parent task's name with the envelope it produced,
// the unit Merge fans in from multiple parents.
type NamedEnvelope struct {
	Name     string
	Envelope *Envelope
}

// SelectForTask applies a task's input alias map (user-chosen name -> slot
// name) to the accumulated envelope, producing the body-facing named view.
// An empty aliases map selects every slot under its own slot name. strict
// controls whether an empty result is an error.
func SelectForTask(e *Envelope, aliases map[string]string, strict bool) (map[string]Slice, error) {
	view := make(map[string]Slice)
	if len(aliases) == 0 {
		for _, s := range e.Slices() {
			view[s.Slot] = s
		}
	} else {
		for alias, slot := range aliases {
			s, ok := e.Slot(slot)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, slot)
			}
			view[alias] = s
		}
	}
	if strict && len(view) == 0 {
		return nil, ErrEmptyInput
	}
	return view, nil
}

// AppendHistory returns a copy of s with taskName appended to its history.
func AppendHistory(s Slice, taskName string) Slice {
	out := s
	out.History = append(append([]string(nil), s.History...), taskName)
	return out
}

// Names returns the slot names present in e, in order.
func Names(e *Envelope) []string {
	return lo.Map(e.Slices(), func(s Slice, _ int) string { return s.Slot })
}
