// Package zargo is the project archive persister: Load reads a .zargo
// archive of either layout into a Project and Save writes a Project as a
// unified-layout archive without ever losing the previous good file.
package zargo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/zargo/internal/archive"
	"github.com/mesh-intelligence/zargo/internal/descriptor"
	"github.com/mesh-intelligence/zargo/internal/loader"
	"github.com/mesh-intelligence/zargo/internal/member"
	"github.com/mesh-intelligence/zargo/internal/migrate"
	"github.com/mesh-intelligence/zargo/internal/project"
	"github.com/mesh-intelligence/zargo/internal/safesave"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// fallbackBase names the descriptor when the target file name cannot be
// used as an entry name.
const fallbackBase = "project"

// Persister loads and saves project archives. A Persister holds no
// per-operation state; one load or save runs at a time per archive path,
// which the caller guarantees.
type Persister struct {
	cfg      types.Config
	reg      *member.Registry
	log      *slog.Logger
	registry types.LocationRegistry
	factory  types.ProjectFactory
	scratch  *migrate.Scratch
	migrator *migrate.Migrator
	direct   *loader.Direct
	combined *loader.Combined
	saver    *safesave.Coordinator
}

// Option configures a Persister.
type Option func(*Persister)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Persister) {
		if l != nil {
			p.log = l
		}
	}
}

// WithLocationRegistry records every loaded and saved project location in
// r.
func WithLocationRegistry(r types.LocationRegistry) Option {
	return func(p *Persister) { p.registry = r }
}

// WithProjectFactory sets how Load creates projects. The default is
// project.Factory.
func WithProjectFactory(f types.ProjectFactory) Option {
	return func(p *Persister) {
		if f != nil {
			p.factory = f
		}
	}
}

// WithScratch tracks combined documents in s instead of a private set.
func WithScratch(s *migrate.Scratch) Option {
	return func(p *Persister) { p.scratch = s }
}

// New builds a Persister. cfg must validate and reg supplies the member
// persisters.
func New(cfg types.Config, reg *member.Registry, opts ...Option) (*Persister, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if reg == nil {
		return nil, errors.New("member registry is required")
	}
	p := &Persister{
		cfg:     cfg,
		reg:     reg,
		log:     slog.Default(),
		factory: project.Factory,
	}
	for _, o := range opts {
		o(p)
	}
	if p.scratch == nil {
		p.scratch = migrate.NewScratch()
	}
	p.log = p.log.With("component", "zargo")

	m, err := migrate.New(
		migrate.WithEncoding(cfg.Encoding),
		migrate.WithLogger(p.log),
		migrate.WithScratch(p.scratch),
		migrate.WithTempDir(cfg.TempDir),
	)
	if err != nil {
		return nil, err
	}
	p.migrator = m
	p.direct = loader.NewDirect(reg, p.log)
	p.combined = loader.NewCombined(reg, p.log)
	p.saver = safesave.New(
		safesave.WithSafeSaves(cfg.SafeSaves),
		safesave.WithLogger(p.log),
		safesave.OnRollback(func(string, error) { rollbacksTotal.Inc() }),
	)
	return p, nil
}

// Close removes any combined documents still on disk.
func (p *Persister) Close() error {
	return p.scratch.RemoveAll()
}

// Probe opens the archive at path and reads its descriptor header.
func (p *Persister) Probe(path string) (types.Header, error) {
	a, err := archive.Open(path, archive.WithLogger(p.log))
	if err != nil {
		return types.Header{}, err
	}
	defer a.Close()
	return p.probe(a)
}

func (p *Persister) probe(a *archive.Archive) (types.Header, error) {
	name, ok := a.First(types.DescriptorExt)
	if !ok {
		return types.Header{}, fmt.Errorf("%w: no .%s entry", types.ErrCorruptArchive, types.DescriptorExt)
	}
	rc, err := a.OpenEntry(name)
	if err != nil {
		return types.Header{}, err
	}
	defer rc.Close()
	return descriptor.Probe(rc, p.cfg.ProbeWindow)
}

// Migrates reports whether an archive with header h loads through the
// combined document.
func (p *Persister) Migrates(h types.Header) bool {
	return p.cfg.LegacyModel() || h.Layout() == types.LayoutLegacy
}

// Load reads the archive at path into a new project. Legacy-layout
// archives, and every archive while the legacy model representation is
// active, are combined into one document first; everything else is read
// member by member. Cancellation returns an error wrapping
// types.ErrCancelled and no project.
func (p *Persister) Load(ctx context.Context, path string) (_ types.Project, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "zargo.Persister.Load",
		trace.WithAttributes(attribute.String("path", path)))
	layout := "unknown"
	defer func() {
		status := statusOf(err, errors.Is(err, types.ErrCancelled))
		loadsTotal.WithLabelValues(layout, status).Inc()
		durationHistogram.WithLabelValues(types.OpLoad, status).Observe(time.Since(start).Seconds())
		if err != nil && status == statusError {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
		}
		span.End()
	}()
	log := p.log.With("path", path)

	uri, err := p.location(path)
	if err != nil {
		return nil, err
	}
	a, err := archive.Open(path, archive.WithLogger(p.log))
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if err := types.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	hdr, err := p.probe(a)
	if err != nil {
		return nil, err
	}
	layout = hdr.Layout().String()
	migrates := p.Migrates(hdr)
	span.SetAttributes(
		attribute.Int("zargo.persistence_version", hdr.PersistenceVersion),
		attribute.String("zargo.layout", layout),
		attribute.Bool("zargo.migrated", migrates),
	)
	log.Info("loading project", "version", hdr.PersistenceVersion, "release", hdr.Release, "layout", layout, "migrate", migrates)

	proj := p.factory(uri)
	proj.SetFile(uri)
	proj.SetVersion(hdr.Release)
	proj.SetPersistenceVersion(hdr.PersistenceVersion)

	if migrates {
		err = p.loadCombined(ctx, a, proj)
	} else {
		err = p.direct.Load(ctx, a, proj)
	}
	if err != nil {
		return nil, err
	}

	p.record(types.ProjectRecord{
		URI:                uri,
		PersistenceVersion: hdr.PersistenceVersion,
		Release:            hdr.Release,
		Layout:             layout,
		Operation:          types.OpLoad,
	})
	return proj, nil
}

func (p *Persister) loadCombined(ctx context.Context, a *archive.Archive, proj types.Project) error {
	tmp, stats, err := p.migrator.ToFile(ctx, a)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := p.scratch.Remove(tmp); rerr != nil {
			p.log.Warn("failed to remove combined document", "combined", tmp, "error", rerr)
		}
	}()
	strippedTotal.WithLabelValues("U+FFFF").Add(float64(stats.NonChars))
	strippedTotal.WithLabelValues("backspace").Add(float64(stats.Backspaces))

	if err := types.CheckCancelled(ctx); err != nil {
		return err
	}
	return p.combined.Load(ctx, tmp, proj)
}

// Save writes proj to path as a unified-layout archive: a descriptor entry
// first, then one entry per member whose type is in Config.SaveTypes.
// Members of other types are not re-serialized. Errors wrap
// types.ErrSaveSetup or types.ErrSaveFailure as described by
// safesave.Coordinator.Save.
func (p *Persister) Save(ctx context.Context, proj types.Project, path string) (err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "zargo.Persister.Save",
		trace.WithAttributes(attribute.String("path", path)))
	defer func() {
		status := statusOf(err, errors.Is(err, types.ErrCancelled))
		savesTotal.WithLabelValues(status).Inc()
		durationHistogram.WithLabelValues(types.OpSave, status).Observe(time.Since(start).Seconds())
		if err != nil && status == statusError {
			span.RecordError(err)
			span.SetStatus(codes.Error, "save failed")
		}
		span.End()
	}()

	uri, err := p.location(path)
	if err != nil {
		return err
	}
	base := archiveBase(path)
	plan, err := p.plan(proj, base)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("zargo.members", len(plan)))

	proj.SetFile(uri)
	proj.SetVersion(p.cfg.Release)
	proj.SetPersistenceVersion(types.PersistenceVersion)
	hdr := types.Header{PersistenceVersion: types.PersistenceVersion, Release: p.cfg.Release}

	err = p.saver.Save(ctx, path, func(w io.Writer) error {
		return p.writeArchive(ctx, w, base, hdr, plan)
	})
	if err != nil {
		return err
	}

	p.record(types.ProjectRecord{
		URI:                uri,
		PersistenceVersion: hdr.PersistenceVersion,
		Release:            hdr.Release,
		Layout:             hdr.Layout().String(),
		Operation:          types.OpSave,
	})
	return nil
}

// planned is one member Save writes.
type planned struct {
	member types.Member
	name   string
	pers   types.MemberFilePersister
}

// plan selects the members to write and resolves their persisters and
// entry names before anything touches the disk.
func (p *Persister) plan(proj types.Project, base string) ([]planned, error) {
	used := map[string]bool{descriptor.Name(base + ".zargo"): true}
	var out []planned
	for _, m := range proj.Members() {
		if !p.cfg.SavesType(m.Type()) {
			p.log.Debug("member type not re-serialized", "type", m.Type(), "member", m.ZipName())
			continue
		}
		pers, err := p.reg.Lookup(m.Type())
		if err != nil {
			return nil, err
		}
		name := entryName(base, m, used)
		if !archive.IsSafe(name) || strings.HasSuffix(name, "/") {
			return nil, fmt.Errorf("%w: member %s", types.ErrUnsafeEntry, archive.Quote(name))
		}
		used[name] = true
		out = append(out, planned{member: m, name: name, pers: pers})
	}
	return out, nil
}

func (p *Persister) writeArchive(ctx context.Context, w io.Writer, base string, hdr types.Header, plan []planned) error {
	zw := zip.NewWriter(w)

	refs := make([]types.MemberRef, 0, len(plan))
	for _, pl := range plan {
		refs = append(refs, types.MemberRef{Type: strings.ToLower(pl.member.Type()), Name: pl.name})
	}
	dw, err := zw.CreateHeader(&zip.FileHeader{Name: descriptor.Name(base + ".zargo"), Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return err
	}
	if err := descriptor.Write(dw, hdr, refs); err != nil {
		return fmt.Errorf("writing descriptor: %w", err)
	}

	for _, pl := range plan {
		if err := types.CheckCancelled(ctx); err != nil {
			return err
		}
		ew, err := zw.CreateHeader(&zip.FileHeader{Name: pl.name, Method: zip.Deflate, Modified: time.Now()})
		if err != nil {
			return err
		}
		if err := pl.pers.Save(pl.member, ew); err != nil {
			return fmt.Errorf("writing member %s: %w", archive.Quote(pl.name), err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

// location returns the canonical file URL of path.
func (p *Persister) location(path string) (string, error) {
	u, err := archive.FileURL(path)
	if err != nil {
		return "", err
	}
	if err := archive.ValidateURL(u); err != nil {
		return "", err
	}
	return u.String(), nil
}

// record stores rec in the location registry. Failures are logged; they
// never undo a completed load or save.
func (p *Persister) record(rec types.ProjectRecord) {
	if p.registry == nil {
		return
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := p.registry.SetProjectURI(rec); err != nil {
		p.log.Warn("failed to record project location", "uri", rec.URI, "error", err)
	}
}

// archiveBase returns the target file name without its extension, or
// fallbackBase when that cannot name an entry.
func archiveBase(path string) string {
	name := filepath.Base(path)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" || !archive.IsSafe(base) || strings.Contains(base, "/") {
		return fallbackBase
	}
	return base
}

// entryName picks the in-archive name of m. Members without a name of
// their own, or named only by an extension, are named after the archive.
// Clashes get a numeric suffix.
func entryName(base string, m types.Member, used map[string]bool) string {
	name := strings.TrimSpace(m.ZipName())
	switch {
	case name == "":
		name = base + "." + strings.ToLower(m.Type())
	case strings.HasPrefix(name, "."):
		name = base + name
	}
	if !used[name] {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 2; ; i++ {
		candidate := stem + "_" + strconv.Itoa(i) + ext
		if !used[candidate] {
			return candidate
		}
	}
}
