package registry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// List is the payload of the list operation.
type List struct {
	Version uint32  `json:"version"`
	Tests   []Entry `json:"tests"`
}

// Entry is a Descriptor as seen by the host: short name, flags and timeout.
type Entry struct {
	Name       string  `json:"name"`
	ShouldFail bool    `json:"should_panic"`
	Ignored    bool    `json:"ignored"`
	Timeout    *uint32 `json:"timeout,omitempty"`
}

// UnmarshalJSON accepts both "should_panic" and "should_fail".
func (e *Entry) UnmarshalJSON(data []byte) error {
	type entry Entry
	aux := struct {
		*entry
		ShouldFail *bool `json:"should_fail"`
	}{entry: (*entry)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ShouldFail != nil {
		e.ShouldFail = *aux.ShouldFail
	}
	return nil
}

// ErrListTooLarge is returned when the list does not fit the buffer.
var ErrListTooLarge = errors.New("test list does not fit buffer")

const (
	listHeader  = `{"version":4294967295,"tests":[]}`
	listPerTest = `{"name":"","should_panic":false,"ignored":false,"timeout":4294967295},`
)

// listCapacity is the worst-case size of the encoded list: header overhead,
// per-test overhead for every test, and the escaped short names.
func listCapacity(tests []Descriptor) int {
	n := len(listHeader) + len(listPerTest)*len(tests)
	for i := range tests {
		n += escapedLen(tests[i].ShortName())
	}
	return n
}

func escapedLen(s string) int {
	b, err := json.Marshal(s)
	if err != nil {
		// Invalid UTF-8 is replaced, never longer than � per byte.
		return 6 * len(s)
	}
	return len(b) - 2
}

// List returns the wire form of the registry.
func (r *Registry) List() List {
	l := List{Version: r.version, Tests: make([]Entry, len(r.tests))}
	for i := range r.tests {
		d := &r.tests[i]
		l.Tests[i] = Entry{
			Name:       d.ShortName(),
			ShouldFail: d.ShouldFail,
			Ignored:    d.Ignored,
			Timeout:    d.Timeout,
		}
	}
	return l
}

// ListCapacity returns the buffer size MarshalList needs in the worst case.
func (r *Registry) ListCapacity() int {
	return r.capacity
}

// MarshalList encodes the list into buf and returns the number of bytes used.
func (r *Registry) MarshalList(buf []byte) (int, error) {
	data, err := json.Marshal(r.List())
	if err != nil {
		return 0, fmt.Errorf("encode test list: %w", err)
	}
	if len(data) > len(buf) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrListTooLarge, len(data), len(buf))
	}
	return copy(buf, data), nil
}

// DecodeList parses a list payload received from a target.
func DecodeList(data []byte) (List, error) {
	var l List
	if err := json.Unmarshal(data, &l); err != nil {
		return List{}, fmt.Errorf("decode test list: %w", err)
	}
	for i, e := range l.Tests {
		if e.Name == "" {
			return List{}, fmt.Errorf("decode test list: entry %d has no name", i)
		}
	}
	return l, nil
}
