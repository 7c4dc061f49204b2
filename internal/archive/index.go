// Package archive opens project archives and exposes their entries through
// a validation gate. Enumeration only inspects zip metadata; content is read
// by name through OpenEntry, which applies the same gate again.
package archive

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

// Archive is an opened zip container. Entries keep their physical order.
type Archive struct {
	path   string
	rc     *zip.ReadCloser
	files  map[string]*zip.File
	order  []*zip.File // safe, non-directory entries
	log    *slog.Logger
	closed bool
}

// Option configures Open.
type Option func(*Archive)

// WithLogger sets the logger used for rejected-entry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Archive) {
		if l != nil {
			a.log = l
		}
	}
}

// Open validates that path is an existing, non-empty, well-formed zip
// archive with unique entry names and opens it. Failures wrap
// types.ErrCorruptArchive. Entries failing IsSafe are logged and reported
// to the OnUnsafeEntry hook here, once, and never enumerated.
func Open(path string, opts ...Option) (*Archive, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrCorruptArchive, err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", types.ErrCorruptArchive, path)
	}
	if st.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", types.ErrCorruptArchive, path)
	}

	// A reader may come back together with an insecure-path error; such
	// names are filtered by IsSafe like any other.
	rc, err := zip.OpenReader(path)
	if rc == nil {
		return nil, fmt.Errorf("%w: opening zip: %w", types.ErrCorruptArchive, err)
	}
	if len(rc.File) == 0 {
		rc.Close()
		return nil, fmt.Errorf("%w: %s has no entries", types.ErrCorruptArchive, path)
	}

	a := &Archive{
		path:  path,
		rc:    rc,
		files: make(map[string]*zip.File, len(rc.File)),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With("component", "archive")

	for _, f := range rc.File {
		if _, dup := a.files[f.Name]; dup {
			rc.Close()
			return nil, fmt.Errorf("%w: duplicate entry %s", types.ErrCorruptArchive, Quote(f.Name))
		}
		a.files[f.Name] = f
		if isDir(f) {
			continue
		}
		if !IsSafe(f.Name) {
			a.log.Warn("skipping unsafe entry", "entry", f.Name)
			unsafeEntryHook()
			continue
		}
		a.order = append(a.order, f)
	}
	return a, nil
}

// Path returns the filesystem path the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// Close releases the archive. It is safe to call more than once.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.rc.Close()
}

// Entries returns the names of safe, non-directory entries whose name ends
// in "."+ext, in archive order. An empty ext returns every safe file entry.
// Unsafe names are dropped and never returned.
func (a *Archive) Entries(ext string) []string {
	suffix, ok := a.suffix(ext)
	if !ok {
		return nil
	}
	var names []string
	for _, f := range a.order {
		if suffix == "" || strings.HasSuffix(f.Name, suffix) {
			names = append(names, f.Name)
		}
	}
	return names
}

// Count returns len(Entries(ext)).
func (a *Archive) Count(ext string) int {
	return len(a.Entries(ext))
}

// Contains reports whether at least one entry has the extension.
func (a *Archive) Contains(ext string) bool {
	_, ok := a.First(ext)
	return ok
}

// First returns the first entry with the extension in archive order.
func (a *Archive) First(ext string) (string, bool) {
	names := a.Entries(ext)
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}

// Size returns the uncompressed size recorded for a safe file entry.
func (a *Archive) Size(name string) (uint64, bool) {
	f, ok := a.files[name]
	if !ok || isDir(f) || !IsSafe(name) {
		return 0, false
	}
	return f.UncompressedSize64, true
}

// OpenEntry opens the content of a named entry. Unsafe names wrap
// types.ErrUnsafeEntry; missing and directory entries wrap
// types.ErrCorruptArchive. The caller closes the returned reader.
func (a *Archive) OpenEntry(name string) (io.ReadCloser, error) {
	if a.closed {
		return nil, fmt.Errorf("%w: archive is closed", types.ErrCorruptArchive)
	}
	if !IsSafe(name) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsafeEntry, Quote(name))
	}
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing entry %s", types.ErrCorruptArchive, Quote(name))
	}
	if isDir(f) {
		return nil, fmt.Errorf("%w: entry %s is a directory", types.ErrCorruptArchive, Quote(name))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening entry %s: %w", types.ErrCorruptArchive, Quote(name), err)
	}
	return rc, nil
}

// Ext returns the extension of an entry name without the dot.
func Ext(name string) string {
	return strings.TrimPrefix(path.Ext(name), ".")
}

func (a *Archive) suffix(ext string) (string, bool) {
	if ext == "" {
		return "", true
	}
	ext = strings.TrimPrefix(ext, ".")
	if !IsSafeKey(ext) {
		a.log.Warn("rejecting unsafe extension key", "ext", ext)
		return "", false
	}
	return "." + ext, true
}

func isDir(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
}

// unsafeEntryHook is replaced by OnUnsafeEntry to feed metrics.
var unsafeEntryHook = func() {}

// OnUnsafeEntry registers fn to run once for every unsafe entry Open
// drops. It is meant to be called once at process start.
func OnUnsafeEntry(fn func()) {
	if fn != nil {
		unsafeEntryHook = fn
	}
}
