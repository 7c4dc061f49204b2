package migrate

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Scratch tracks combined documents so that they can be removed when a
// load finishes, fails, is cancelled, or the process exits.
type Scratch struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewScratch returns an empty set.
func NewScratch() *Scratch {
	return &Scratch{paths: make(map[string]struct{})}
}

// Track adds path to the set.
func (s *Scratch) Track(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[path] = struct{}{}
}

// Remove deletes path and forgets it. A file that is already gone is not
// an error.
func (s *Scratch) Remove(path string) error {
	s.mu.Lock()
	delete(s.paths, path)
	s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// RemoveAll deletes every tracked file and joins the failures.
func (s *Scratch) RemoveAll() error {
	var errs []error
	for _, p := range s.Pending() {
		if err := s.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending lists tracked paths in sorted order.
func (s *Scratch) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
