package types

import "io"

// Member type tags. A tag selects the MemberFilePersister used for a member
// and doubles as the archive entry extension in the legacy layout.
const (
	MemberModel   = "xmi"
	MemberDiagram = "pgml"
	MemberTodo    = "todo"
	MemberProfile = "profile"

	// DescriptorExt is the extension of the descriptor entry.
	DescriptorExt = "argo"
)

// Member is one logical project sub-document stored as one archive entry.
type Member interface {
	// Type returns the member type tag (xmi, pgml, todo, profile).
	Type() string

	// ZipName returns the in-archive entry name of the member.
	ZipName() string
}

// Project is the caller-owned aggregate a load fills and a save reads.
// Members must return a stable iteration order.
type Project interface {
	Members() []Member

	// AddMember attaches a member parsed by a MemberFilePersister.
	AddMember(m Member)

	SetFile(uri string)
	SetVersion(release string)
	SetPersistenceVersion(v int)

	// PostLoad resolves deferred cross references once every member is
	// loaded. It must be idempotent.
	PostLoad() error
}

// MemberFilePersister serializes one member type. Save writes exactly one
// logical document with no archive framing. Load consumes exactly one
// logical document and attaches the parsed member to p. Neither closes a
// stream it did not open.
type MemberFilePersister interface {
	Save(m Member, w io.Writer) error
	Load(p Project, name string, r io.Reader) error
}

// ProjectFactory creates the fresh Project a load fills. uri is the
// canonical source location of the archive being loaded.
type ProjectFactory func(uri string) Project
