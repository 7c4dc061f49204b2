package loader

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/zargo/internal/archive"
	"github.com/mesh-intelligence/zargo/internal/descriptor"
	"github.com/mesh-intelligence/zargo/internal/member"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

const (
	umlElement  = "uml"
	argoElement = "argo"
)

// section is the byte range of one top-level child of the combined
// document's root.
type section struct {
	tag        string
	start, end int64
}

// Combined loads a combined document, the single-file form a legacy
// archive is migrated into.
type Combined struct {
	reg *member.Registry
	log *slog.Logger
}

// NewCombined returns a Combined loader dispatching through reg.
func NewCombined(reg *member.Registry, log *slog.Logger) *Combined {
	if log == nil {
		log = slog.Default()
	}
	return &Combined{reg: reg, log: log.With("component", "loader.combined")}
}

// Load reads the combined document at path into p and calls p.PostLoad.
// Each child of the root is handed to its persister as a byte range of the
// file, so member content is never buffered whole. The n-th manifest
// member of a type reads the n-th section of that type.
func (c *Combined) Load(ctx context.Context, path string, p types.Project) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening combined document: %w", types.ErrCorruptArchive, err)
	}
	defer f.Close()

	version, sections, err := c.index(f)
	if err != nil {
		return err
	}
	p.SetPersistenceVersion(version)

	if err := types.CheckCancelled(ctx); err != nil {
		return err
	}

	byTag := make(map[string][]section)
	var argo *section
	for i := range sections {
		s := sections[i]
		if s.tag == argoElement {
			if argo == nil {
				argo = &s
			}
			continue
		}
		byTag[s.tag] = append(byTag[s.tag], s)
	}
	if argo == nil {
		return fmt.Errorf("%w: combined document has no <argo> section", types.ErrCorruptArchive)
	}
	refs, err := descriptor.ReadManifest(io.NewSectionReader(f, argo.start, argo.end-argo.start))
	if err != nil {
		return err
	}

	used := make(map[string]int)
	for _, ref := range modelFirst(refs) {
		if err := types.CheckCancelled(ctx); err != nil {
			return err
		}
		tag := strings.ToLower(ref.Type)
		idx := used[tag]
		if idx >= len(byTag[tag]) {
			return fmt.Errorf("%w: no content for member %s of type %s", types.ErrCorruptArchive, archive.Quote(ref.Name), archive.Quote(tag))
		}
		used[tag] = idx + 1
		s := byTag[tag][idx]

		pers, err := c.reg.Lookup(tag)
		if err != nil {
			return err
		}
		if err := pers.Load(p, ref.Name, io.NewSectionReader(f, s.start, s.end-s.start)); err != nil {
			return fmt.Errorf("loading member %s: %w", archive.Quote(ref.Name), err)
		}
	}
	for tag, list := range byTag {
		if extra := len(list) - used[tag]; extra > 0 {
			c.log.Warn("ignoring sections with no manifest member", "type", tag, "count", extra)
		}
	}

	if err := types.CheckCancelled(ctx); err != nil {
		return err
	}
	if err := p.PostLoad(); err != nil {
		return fmt.Errorf("finishing load: %w", err)
	}
	c.log.Info("members loaded", "members", len(refs), "version", version)
	return nil
}

// index tokenizes the document once and records the byte range of every
// child of <uml>.
func (c *Combined) index(r io.Reader) (int, []section, error) {
	d := descriptor.NewDecoder(r)
	version := types.OldestVersion

	var root xml.StartElement
	for {
		tok, err := d.Token()
		if err != nil {
			return 0, nil, fmt.Errorf("%w: combined document has no root: %w", types.ErrCorruptArchive, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			root = se
			break
		}
	}
	if root.Name.Local != umlElement {
		return 0, nil, fmt.Errorf("%w: combined document root is %s", types.ErrCorruptArchive, archive.Quote(root.Name.Local))
	}
	for _, a := range root.Attr {
		if a.Name.Local == "version" {
			n, err := strconv.Atoi(strings.TrimSpace(a.Value))
			if err != nil {
				return 0, nil, fmt.Errorf("%w: combined document version %q", types.ErrCorruptArchive, a.Value)
			}
			version = n
		}
	}

	var sections []section
	for {
		start := d.InputOffset()
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, nil, fmt.Errorf("%w: combined document is truncated", types.ErrCorruptArchive)
			}
			return 0, nil, fmt.Errorf("%w: reading combined document: %w", types.ErrCorruptArchive, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := d.Skip(); err != nil {
				return 0, nil, fmt.Errorf("%w: reading <%s> section: %w", types.ErrCorruptArchive, t.Name.Local, err)
			}
			sections = append(sections, section{
				tag:   strings.ToLower(t.Name.Local),
				start: start,
				end:   d.InputOffset(),
			})
		case xml.EndElement:
			return version, sections, nil
		}
	}
}
