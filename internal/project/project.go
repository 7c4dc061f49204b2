// Package project provides an in-memory Project aggregate. Hosts with a
// real model supply their own types.Project; this one backs the CLI and
// the tests.
package project

import (
	"sync"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

// Project accumulates members during a load and exposes them, in the order
// they were added, during a save.
type Project struct {
	mu                 sync.Mutex
	uri                string
	file               string
	release            string
	persistenceVersion int
	members            []types.Member
	postLoaded         bool
}

// New creates an empty project for the archive at uri.
func New(uri string) *Project {
	return &Project{uri: uri}
}

// Factory adapts New to types.ProjectFactory.
func Factory(uri string) types.Project {
	return New(uri)
}

var _ types.Project = (*Project)(nil)

// Members returns a snapshot of the members in insertion order.
func (p *Project) Members() []types.Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Member, len(p.members))
	copy(out, p.members)
	return out
}

// AddMember appends m.
func (p *Project) AddMember(m types.Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members = append(p.members, m)
}

// SetFile records the archive location.
func (p *Project) SetFile(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.file = uri
}

// SetVersion records the release tag.
func (p *Project) SetVersion(release string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release = release
}

// SetPersistenceVersion records the persistence version.
func (p *Project) SetPersistenceVersion(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persistenceVersion = v
}

// PostLoad marks the project as fully loaded. Calling it again is a no-op.
func (p *Project) PostLoad() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postLoaded = true
	return nil
}

// URI returns the location the project was created for.
func (p *Project) URI() string { return p.uri }

// File returns the location last recorded by SetFile.
func (p *Project) File() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file
}

// Release returns the release tag last recorded by SetVersion.
func (p *Project) Release() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.release
}

// PersistenceVersion returns the persistence version last recorded.
func (p *Project) PersistenceVersion() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistenceVersion
}

// PostLoaded reports whether PostLoad has run.
func (p *Project) PostLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.postLoaded
}

// CountByType tallies members per type tag.
func (p *Project) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, m := range p.Members() {
		counts[m.Type()]++
	}
	return counts
}
