// Package member holds the member persister table and a raw document
// persister that moves member bytes without interpreting them.
package member

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/zargo/internal/archive"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// Registry maps member type tags to persisters. It is built once and is
// read-only afterwards, so it is safe to share across goroutines.
type Registry struct {
	byTag map[string]types.MemberFilePersister
}

// NewRegistry builds a registry from tag/persister pairs. Tags are matched
// case-insensitively and must be valid lookup keys.
func NewRegistry(persisters map[string]types.MemberFilePersister) (*Registry, error) {
	r := &Registry{byTag: make(map[string]types.MemberFilePersister, len(persisters))}
	for tag, p := range persisters {
		if !archive.IsSafeKey(tag) {
			return nil, fmt.Errorf("invalid member type tag %s", archive.Quote(tag))
		}
		if p == nil {
			return nil, fmt.Errorf("nil persister for member type %q", tag)
		}
		r.byTag[strings.ToLower(tag)] = p
	}
	return r, nil
}

// Lookup returns the persister for tag or wraps types.ErrNoPersister.
func (r *Registry) Lookup(tag string) (types.MemberFilePersister, error) {
	p, ok := r.byTag[strings.ToLower(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNoPersister, archive.Quote(tag))
	}
	return p, nil
}

// RawRegistry registers a RawPersister for every standard member type.
func RawRegistry() *Registry {
	r, _ := NewRegistry(map[string]types.MemberFilePersister{
		types.MemberModel:   RawPersister{Tag: types.MemberModel},
		types.MemberDiagram: RawPersister{Tag: types.MemberDiagram},
		types.MemberTodo:    RawPersister{Tag: types.MemberTodo},
		types.MemberProfile: RawPersister{Tag: types.MemberProfile},
	})
	return r
}
