// Package descriptor reads and writes the archive descriptor entry: its
// header (persistence version and release tag) and its member manifest.
package descriptor

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

// Element and attribute names of the descriptor document.
const (
	rootElement    = "argo"
	docElement     = "documentation"
	versionElement = "version"
	memberElement  = "member"
	versionAttr    = "version"
	releaseAttr    = "release"
	typeAttr       = "type"
	nameAttr       = "name"
)

// Probe reads at most window bytes of a descriptor document and extracts
// its header. The persistence version comes from the root element's
// version attribute (types.OldestVersion when absent). The release tag
// comes from the root's release attribute, else from
// documentation/version if that closes inside the window.
//
// Probe fails with types.ErrCorruptArchive when no root element starts
// inside the window or the version attribute is not an integer.
func Probe(r io.Reader, window int) (types.Header, error) {
	if window <= 0 {
		window = types.DefaultProbeWindow
	}
	d := NewDecoder(io.LimitReader(r, int64(window)))

	root, err := firstElement(d)
	if err != nil {
		return types.Header{}, fmt.Errorf("%w: descriptor header: %w", types.ErrCorruptArchive, err)
	}

	hdr := types.Header{PersistenceVersion: types.OldestVersion}
	if v, ok := attr(root, versionAttr); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return types.Header{}, fmt.Errorf("%w: descriptor version %q", types.ErrCorruptArchive, v)
		}
		hdr.PersistenceVersion = n
	}
	if rel, ok := attr(root, releaseAttr); ok {
		hdr.Release = strings.TrimSpace(rel)
		return hdr, nil
	}
	hdr.Release = documentedRelease(d)
	return hdr, nil
}

// NewDecoder returns a non-strict XML decoder that understands any charset
// golang.org/x/text knows by name.
func NewDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.Strict = false
	d.Entity = xml.HTMLEntity
	d.CharsetReader = CharsetReader
	return d
}

// CharsetReader converts input declared as charset into UTF-8.
func CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

func firstElement(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xml.StartElement{}, errors.New("no root element within probe window")
			}
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// documentedRelease scans forward for documentation/version text. A
// truncated window or a member record ends the scan with no release.
func documentedRelease(d *xml.Decoder) string {
	var stack []string
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && t.Name.Local == memberElement {
				return ""
			}
			stack = append(stack, t.Name.Local)
			text.Reset()
		case xml.CharData:
			if inRelease(stack) {
				text.Write(t)
			}
		case xml.EndElement:
			if inRelease(stack) {
				return strings.TrimSpace(text.String())
			}
			if len(stack) == 0 {
				return ""
			}
			stack = stack[:len(stack)-1]
		}
	}
}

func inRelease(stack []string) bool {
	return len(stack) == 2 && stack[0] == docElement && stack[1] == versionElement
}

func attr(se xml.StartElement, name string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}
