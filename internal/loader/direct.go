package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mesh-intelligence/zargo/internal/archive"
	"github.com/mesh-intelligence/zargo/internal/descriptor"
	"github.com/mesh-intelligence/zargo/internal/member"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// Direct loads the members a unified-layout archive declares, reading
// each from its own entry.
type Direct struct {
	reg *member.Registry
	log *slog.Logger
}

// NewDirect returns a Direct loader dispatching through reg.
func NewDirect(reg *member.Registry, log *slog.Logger) *Direct {
	if log == nil {
		log = slog.Default()
	}
	return &Direct{reg: reg, log: log.With("component", "loader.direct")}
}

// Load reads the manifest from the archive's descriptor and loads every
// member into p, models first, then calls p.PostLoad. A declared member
// whose entry is missing, a directory or unsafe wraps
// types.ErrCorruptArchive. An empty manifest falls back to inferring
// members from entry extensions.
func (d *Direct) Load(ctx context.Context, a *archive.Archive, p types.Project) error {
	refs, err := d.manifest(a)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		refs, err = d.infer(a)
		if err != nil {
			return err
		}
	}

	for _, ref := range modelFirst(refs) {
		if err := types.CheckCancelled(ctx); err != nil {
			return err
		}
		if err := d.loadMember(a, p, ref); err != nil {
			return err
		}
	}
	if err := types.CheckCancelled(ctx); err != nil {
		return err
	}
	if err := p.PostLoad(); err != nil {
		return fmt.Errorf("finishing load: %w", err)
	}
	d.log.Info("members loaded", "archive", a.Path(), "count", len(refs))
	return nil
}

func (d *Direct) manifest(a *archive.Archive) ([]types.MemberRef, error) {
	name, ok := a.First(types.DescriptorExt)
	if !ok {
		return nil, fmt.Errorf("%w: no .%s entry", types.ErrCorruptArchive, types.DescriptorExt)
	}
	rc, err := a.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return descriptor.ReadManifest(rc)
}

// infer builds a manifest for an archive whose descriptor declares no
// members: the first model entry, then every other entry whose extension
// has a persister.
func (d *Direct) infer(a *archive.Archive) ([]types.MemberRef, error) {
	model, ok := a.First(types.MemberModel)
	if !ok {
		return nil, fmt.Errorf("%w: no members declared and no .%s entry", types.ErrCorruptArchive, types.MemberModel)
	}
	refs := []types.MemberRef{{Type: types.MemberModel, Name: model}}
	for _, name := range a.Entries("") {
		ext := strings.ToLower(archive.Ext(name))
		if ext == types.DescriptorExt || ext == types.MemberModel {
			continue
		}
		if _, err := d.reg.Lookup(ext); err != nil {
			d.log.Warn("skipping entry with no persister", "entry", name)
			continue
		}
		refs = append(refs, types.MemberRef{Type: ext, Name: name})
	}
	d.log.Info("inferred members from entries", "count", len(refs))
	return refs, nil
}

func (d *Direct) loadMember(a *archive.Archive, p types.Project, ref types.MemberRef) error {
	pers, err := d.reg.Lookup(ref.Type)
	if err != nil {
		return err
	}
	if !archive.IsSafe(ref.Name) {
		return fmt.Errorf("%w: member %s: %w", types.ErrCorruptArchive, archive.Quote(ref.Name), types.ErrUnsafeEntry)
	}
	rc, err := a.OpenEntry(ref.Name)
	if err != nil {
		if errors.Is(err, types.ErrCorruptArchive) {
			return err
		}
		return fmt.Errorf("%w: member %s: %w", types.ErrCorruptArchive, archive.Quote(ref.Name), err)
	}
	defer rc.Close()
	loc, err := archive.EntryURL(a.Path(), ref.Name)
	if err != nil {
		return err
	}
	d.log.Debug("loading member", "type", ref.Type, "url", loc)
	if err := pers.Load(p, ref.Name, rc); err != nil {
		return fmt.Errorf("loading member %s: %w", loc, err)
	}
	return nil
}
