package types

// Persistence versions.
const (
	// PersistenceVersion is written by every save.
	PersistenceVersion = 6

	// UnifiedVersion is the first persistence version whose descriptor
	// carries a member manifest. Older archives use the legacy layout.
	UnifiedVersion = 5

	// OldestVersion is assumed when a descriptor root has no version
	// attribute.
	OldestVersion = 1
)

// Layout is the on-disk archive layout kind, resolved once per load from
// the descriptor header.
type Layout int

const (
	// LayoutLegacy stores free-standing entries with no manifest.
	LayoutLegacy Layout = iota

	// LayoutUnified declares every member in the descriptor manifest.
	LayoutUnified
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case LayoutLegacy:
		return "legacy"
	case LayoutUnified:
		return "unified"
	default:
		return "unknown"
	}
}

// Header is the descriptor header read by the version probe.
type Header struct {
	// PersistenceVersion is the root element's version attribute.
	PersistenceVersion int

	// Release is the producing application's release tag. May be empty.
	Release string
}

// Layout classifies the header by persistence version.
func (h Header) Layout() Layout {
	if h.PersistenceVersion < UnifiedVersion {
		return LayoutLegacy
	}
	return LayoutUnified
}

// MemberRef is one (type, name) record of a descriptor manifest.
type MemberRef struct {
	Type string
	Name string
}
