package member

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

// Document is a member held as opaque bytes.
type Document struct {
	Kind string
	Name string
	Body []byte
}

// Type implements types.Member.
func (d *Document) Type() string { return d.Kind }

// ZipName implements types.Member.
func (d *Document) ZipName() string { return d.Name }

// RawPersister copies member documents verbatim. Tag is the type tag given
// to loaded documents.
type RawPersister struct {
	Tag string
}

// Save writes the document body. Members that are not *Document are
// rejected.
func (p RawPersister) Save(m types.Member, w io.Writer) error {
	d, ok := m.(*Document)
	if !ok {
		return fmt.Errorf("raw persister cannot save %T", m)
	}
	_, err := io.Copy(w, bytes.NewReader(d.Body))
	return err
}

// Load reads the whole document and attaches it to the project.
func (p RawPersister) Load(proj types.Project, name string, r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading member %q: %w", name, err)
	}
	proj.AddMember(&Document{Kind: p.Tag, Name: name, Body: body})
	return nil
}

// Len returns the size of the body in bytes.
func (d *Document) Len() int { return len(d.Body) }
