package descriptor

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mesh-intelligence/zargo/internal/archive"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// ReadManifest streams a descriptor document and returns its member
// records in document order. Only member elements that are direct
// children of the root count. A member with a missing or unsafe type tag
// wraps types.ErrCorruptArchive.
func ReadManifest(r io.Reader) ([]types.MemberRef, error) {
	d := NewDecoder(r)
	var refs []types.MemberRef
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if depth > 0 {
					return nil, fmt.Errorf("%w: descriptor ends inside an element", types.ErrCorruptArchive)
				}
				return refs, nil
			}
			return nil, fmt.Errorf("%w: reading manifest: %w", types.ErrCorruptArchive, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 && t.Name.Local == memberElement {
				ref, err := memberRef(t)
				if err != nil {
					return nil, err
				}
				refs = append(refs, ref)
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				return refs, nil
			}
		}
	}
}

func memberRef(se xml.StartElement) (types.MemberRef, error) {
	typ, _ := attr(se, typeAttr)
	typ = strings.TrimSpace(typ)
	if !archive.IsSafeKey(typ) {
		return types.MemberRef{}, fmt.Errorf("%w: member type %s", types.ErrCorruptArchive, archive.Quote(typ))
	}
	name, _ := attr(se, nameAttr)
	return types.MemberRef{Type: typ, Name: strings.TrimSpace(name)}, nil
}
