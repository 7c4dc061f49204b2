// Package loader dispatches archive members to their persisters. Direct
// reads members straight from a unified-layout archive; Combined reads
// the single document a legacy archive is migrated into.
package loader

import (
	"strings"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

// modelFirst returns refs with every model member moved ahead of the
// others. Relative order is otherwise kept.
func modelFirst(refs []types.MemberRef) []types.MemberRef {
	out := make([]types.MemberRef, 0, len(refs))
	for _, r := range refs {
		if strings.EqualFold(r.Type, types.MemberModel) {
			out = append(out, r)
		}
	}
	for _, r := range refs {
		if !strings.EqualFold(r.Type, types.MemberModel) {
			out = append(out, r)
		}
	}
	return out
}
