// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import "fmt"

// scope is a scoped acquisition of GPU objects. Every successful creation
// registers its destroy function; close runs them in reverse order exactly
// once. A constructor that fails partway closes its scope before returning,
// so no object outlives a failed construction.
type scope struct {
	name     string
	releases []scopedRelease
	closed   bool
}

type scopedRelease struct {
	label   string
	destroy func()
}

func newScope(name string) *scope {
	return &scope{name: name}
}

// add registers destroy to run when the scope closes.
func (s *scope) add(label string, destroy func()) {
	s.releases = append(s.releases, scopedRelease{label: label, destroy: destroy})
}

// live returns the number of objects that close would destroy.
func (s *scope) live() int { return len(s.releases) }

// labels returns the registered labels in creation order.
func (s *scope) labels() []string {
	out := make([]string, len(s.releases))
	for i, r := range s.releases {
		out[i] = r.label
	}
	return out
}

// close destroys every registered object, newest first.
func (s *scope) close() error {
	if s.closed {
		return fmt.Errorf("%w: %s released twice", ErrMisuse, s.name)
	}
	s.closed = true
	for i := len(s.releases) - 1; i >= 0; i-- {
		s.releases[i].destroy()
	}
	slogger().Debug("gpu: scope released", "scope", s.name, "objects", len(s.releases))
	s.releases = nil
	return nil
}

// acquire creates one object and registers its destroy function in s.
// Creation errors are classified as ErrResourceCreation.
func acquire[T any](s *scope, label string, create func() (T, error), destroy func(T)) (T, error) {
	v, err := create()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s: %w", ErrResourceCreation, label, err)
	}
	s.add(label, func() { destroy(v) })
	return v, nil
}
