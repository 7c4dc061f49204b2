package types

import (
	"context"
	"errors"
	"fmt"
)

// Archive and load errors.
var (
	// ErrCorruptArchive covers missing or unreadable required entries, an
	// unparseable descriptor header, and zip structure violations.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrUnsafeEntry marks an entry name rejected by the entry validator.
	// Enumerations drop such names silently; it surfaces only when a
	// caller asks for an unsafe name by value.
	ErrUnsafeEntry = errors.New("unsafe archive entry")

	// ErrNoPersister is returned when no MemberFilePersister is registered
	// for a member type tag.
	ErrNoPersister = errors.New("no member persister for type")

	// ErrNonLocalURL is returned when a URL is not a file URL on a loopback
	// or private host.
	ErrNonLocalURL = errors.New("url is not local")

	// ErrCancelled means the operation observed cancellation and returned
	// no result. It is not a failure.
	ErrCancelled = errors.New("operation cancelled")
)

// Save errors.
var (
	// ErrSaveSetup means the temporary working file could not be created.
	// The target was not touched.
	ErrSaveSetup = errors.New("save setup failed")

	// ErrSaveFailure means writing the archive failed. When safe saves are
	// enabled the target has been rolled back to its pre-save state.
	ErrSaveFailure = errors.New("save failed")
)

// CheckCancelled returns an error wrapping ErrCancelled and ctx.Err() once
// ctx is done, and nil otherwise. Long operations call it at phase
// boundaries.
func CheckCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}
