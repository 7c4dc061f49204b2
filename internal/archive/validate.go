package archive

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

// keyPattern is the allow-list for single-segment lookup keys such as
// extensions and member type tags.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// forbiddenRunes may not appear anywhere in an entry name.
const forbiddenRunes = `\:*?"<>|`

// IsSafe reports whether an archive entry name may be enumerated and
// opened. It rejects empty names, absolute names, names with a ".." or
// empty segment, backslashes, drive or device prefixes, and control or
// non-printable characters.
func IsSafe(name string) bool {
	if name == "" || len(name) > 4096 {
		return false
	}
	if name[0] == '/' || name[0] == '\\' {
		return false
	}
	for _, r := range name {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return false
		}
		if strings.ContainsRune(forbiddenRunes, r) {
			return false
		}
	}
	// A trailing slash marks a directory entry; the segment check below
	// still applies to everything before it.
	trimmed := strings.TrimSuffix(name, "/")
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// IsSafeKey reports whether key is a valid single-segment lookup key:
// alphanumerics, '_', '.', '-' only, and no ".." sequence.
func IsSafeKey(key string) bool {
	return keyPattern.MatchString(key) && !strings.Contains(key, "..")
}

// Quote renders an entry name as an opaque diagnostic string.
func Quote(name string) string {
	return fmt.Sprintf("%q", name)
}

// EntryURL returns the jar-style URL of an entry inside the archive at
// path. The entry must pass IsSafe.
func EntryURL(path, entry string) (string, error) {
	if !IsSafe(entry) {
		return "", fmt.Errorf("%w: %s", types.ErrUnsafeEntry, Quote(entry))
	}
	u, err := FileURL(path)
	if err != nil {
		return "", err
	}
	return "jar:" + u.String() + "!/" + entry, nil
}

// FileURL converts a filesystem path to an absolute file URL.
func FileURL(path string) (*url.URL, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
}

// ValidateURL accepts only file URLs whose host is empty, "localhost", or
// a literal loopback or private address. Host names other than localhost
// are rejected without resolving them.
func ValidateURL(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("%w: nil url", types.ErrNonLocalURL)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return fmt.Errorf("%w: scheme %q", types.ErrNonLocalURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" || strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: host %q", types.ErrNonLocalURL, host)
	}
	if ip.IsLoopback() || ip.IsPrivate() {
		return nil
	}
	return fmt.Errorf("%w: host %q", types.ErrNonLocalURL, host)
}
