package zargo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/zargo/internal/member"
	"github.com/mesh-intelligence/zargo/internal/migrate"
	"github.com/mesh-intelligence/zargo/internal/project"
	"github.com/mesh-intelligence/zargo/internal/testutil"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

type memRegistry struct {
	mu      sync.Mutex
	records []types.ProjectRecord
}

func (r *memRegistry) SetProjectURI(rec types.ProjectRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

var errBrokenPipe = errors.New("broken pipe")

// failingPersister writes half of a member and then fails for the member
// named failOn.
type failingPersister struct {
	member.RawPersister
	failOn string
}

func (f failingPersister) Save(m types.Member, w io.Writer) error {
	if m.ZipName() == f.failOn {
		io.WriteString(w, "<pgml")
		return errBrokenPipe
	}
	return f.RawPersister.Save(m, w)
}

func allTypesConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.SaveTypes = []string{types.MemberModel, types.MemberDiagram, types.MemberTodo, types.MemberProfile}
	return cfg
}

func newPersister(t *testing.T, cfg types.Config, reg *member.Registry, opts ...Option) *Persister {
	t.Helper()
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	p, err := New(cfg, reg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func sampleProject() *project.Project {
	p := project.New("")
	p.AddMember(&member.Document{Kind: types.MemberModel, Name: "demo.xmi", Body: []byte("<XMI/>")})
	p.AddMember(&member.Document{Kind: types.MemberDiagram, Name: "demo_a.pgml", Body: []byte("<pgml name=\"a\"/>")})
	p.AddMember(&member.Document{Kind: types.MemberDiagram, Name: "demo_b.pgml", Body: []byte("<pgml name=\"b\"/>")})
	p.AddMember(&member.Document{Kind: types.MemberTodo, Name: "demo.todo", Body: []byte("<todo/>")})
	return p
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "demo.zargo")
	reg := &memRegistry{}
	p := newPersister(t, allTypesConfig(), member.RawRegistry(), WithLocationRegistry(reg))

	saved := sampleProject()
	require.NoError(t, p.Save(context.Background(), saved, target))
	assert.Equal(t, types.PersistenceVersion, saved.PersistenceVersion())
	assert.Equal(t, types.DefaultRelease, saved.Release())

	loaded, err := p.Load(context.Background(), target)
	require.NoError(t, err)
	lp := loaded.(*project.Project)

	assert.Equal(t, saved.CountByType(), lp.CountByType())
	assert.Equal(t, types.PersistenceVersion, lp.PersistenceVersion())
	assert.Equal(t, types.DefaultRelease, lp.Release())
	assert.True(t, lp.PostLoaded())
	assert.True(t, strings.HasPrefix(lp.File(), "file:///"))

	require.Len(t, reg.records, 2)
	assert.Equal(t, types.OpSave, reg.records[0].Operation)
	assert.Equal(t, types.OpLoad, reg.records[1].Operation)
	assert.Equal(t, "unified", reg.records[1].Layout)
	assert.Equal(t, lp.File(), reg.records[1].URI)
}

func TestSaveWritesModelOnlyByDefault(t *testing.T) {
	target := filepath.Join(t.TempDir(), "demo.zargo")
	p := newPersister(t, types.DefaultConfig(), member.RawRegistry())

	require.NoError(t, p.Save(context.Background(), sampleProject(), target))

	names, bodies := testutil.ReadZip(t, target)
	assert.Equal(t, []string{"demo.argo", "demo.xmi"}, names)
	assert.Contains(t, bodies["demo.argo"], `<argo version="6" release="0.35">`)
	assert.Contains(t, bodies["demo.argo"], `<member type="xmi" name="demo.xmi" />`)
	assert.NotContains(t, bodies["demo.argo"], "pgml")
	assert.Equal(t, "<XMI/>", bodies["demo.xmi"])
}

func TestSaveNamesBareMembersAfterArchive(t *testing.T) {
	target := filepath.Join(t.TempDir(), "model.zargo")
	p := newPersister(t, allTypesConfig(), member.RawRegistry())

	proj := project.New("")
	proj.AddMember(&member.Document{Kind: types.MemberModel, Name: ".xmi", Body: []byte("<XMI/>")})
	proj.AddMember(&member.Document{Kind: types.MemberDiagram, Name: ".pgml", Body: []byte("<pgml/>")})
	proj.AddMember(&member.Document{Kind: types.MemberDiagram, Name: ".pgml", Body: []byte("<pgml/>")})
	proj.AddMember(&member.Document{Kind: types.MemberTodo, Body: []byte("<todo/>")})
	require.NoError(t, p.Save(context.Background(), proj, target))

	names, _ := testutil.ReadZip(t, target)
	assert.Equal(t, []string{"model.argo", "model.xmi", "model.pgml", "model_2.pgml", "model.todo"}, names)
}

func TestLoadLegacyArchiveMigrates(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteZip(t, dir, "demo.zargo", testutil.Legacy()...)
	reg := &memRegistry{}
	scratch := migrate.NewScratch()
	p := newPersister(t, types.DefaultConfig(), member.RawRegistry(), WithLocationRegistry(reg), WithScratch(scratch))

	loaded, err := p.Load(context.Background(), path)
	require.NoError(t, err)
	lp := loaded.(*project.Project)

	assert.Equal(t, map[string]int{"xmi": 1, "pgml": 2, "todo": 1, "profile": 1}, lp.CountByType())
	assert.Equal(t, 4, lp.PersistenceVersion())
	assert.Equal(t, "0.20", lp.Release())
	assert.Equal(t, ".xmi", lp.Members()[0].ZipName())
	assert.Empty(t, scratch.Pending())
	require.Len(t, reg.records, 1)
	assert.Equal(t, "legacy", reg.records[0].Layout)
}

func TestLoadLegacyArchiveWithEmptyEntry(t *testing.T) {
	entries := append(testutil.Legacy(), testutil.Entry{Name: "empty.pgml", Body: ""})
	path := testutil.WriteZip(t, t.TempDir(), "demo.zargo", entries...)
	p := newPersister(t, types.DefaultConfig(), member.RawRegistry())

	loaded, err := p.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.(*project.Project).CountByType()["pgml"])
}

func TestMigrationGating(t *testing.T) {
	p := newPersister(t, types.DefaultConfig(), member.RawRegistry())
	assert.True(t, p.Migrates(types.Header{PersistenceVersion: 1}))
	assert.True(t, p.Migrates(types.Header{PersistenceVersion: types.UnifiedVersion - 1}))
	assert.False(t, p.Migrates(types.Header{PersistenceVersion: types.UnifiedVersion}))
	assert.False(t, p.Migrates(types.Header{PersistenceVersion: types.PersistenceVersion}))

	cfg := types.DefaultConfig()
	cfg.ModelVersion = "1.4"
	legacy := newPersister(t, cfg, member.RawRegistry())
	assert.True(t, legacy.Migrates(types.Header{PersistenceVersion: types.PersistenceVersion}))
}

func TestLoadUnifiedArchiveUnderLegacyModel(t *testing.T) {
	target := filepath.Join(t.TempDir(), "demo.zargo")
	saver := newPersister(t, allTypesConfig(), member.RawRegistry())
	require.NoError(t, saver.Save(context.Background(), sampleProject(), target))

	cfg := types.DefaultConfig()
	cfg.ModelVersion = "1.4"
	p := newPersister(t, cfg, member.RawRegistry())
	loaded, err := p.Load(context.Background(), target)
	require.NoError(t, err)

	lp := loaded.(*project.Project)
	assert.Equal(t, map[string]int{"xmi": 1, "pgml": 2, "todo": 1}, lp.CountByType())
	assert.Equal(t, "demo.xmi", lp.Members()[0].ZipName())
	assert.Equal(t, `<pgml name="b"/>`, string(lp.Members()[2].(*member.Document).Body))
}

func TestSaveRollbackThroughPersister(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "demo.zargo")
	good := newPersister(t, allTypesConfig(), member.RawRegistry())
	require.NoError(t, good.Save(context.Background(), sampleProject(), target))
	require.NoError(t, good.Save(context.Background(), sampleProject(), target))

	before, err := os.ReadFile(target)
	require.NoError(t, err)
	backup, err := os.ReadFile(target + "~")
	require.NoError(t, err)
	entriesBefore, err := os.ReadDir(dir)
	require.NoError(t, err)

	reg, err := member.NewRegistry(map[string]types.MemberFilePersister{
		types.MemberModel:   member.RawPersister{Tag: types.MemberModel},
		types.MemberDiagram: failingPersister{RawPersister: member.RawPersister{Tag: types.MemberDiagram}, failOn: "demo_b.pgml"},
		types.MemberTodo:    member.RawPersister{Tag: types.MemberTodo},
	})
	require.NoError(t, err)
	bad := newPersister(t, allTypesConfig(), reg)

	rollbacks := promtest.ToFloat64(rollbacksTotal)
	proj := project.New("")
	proj.AddMember(&member.Document{Kind: types.MemberModel, Name: "demo.xmi", Body: []byte("<XMI>changed</XMI>")})
	proj.AddMember(&member.Document{Kind: types.MemberDiagram, Name: "demo_b.pgml", Body: []byte("<pgml/>")})
	proj.AddMember(&member.Document{Kind: types.MemberTodo, Name: "demo.todo", Body: []byte("<todo/>")})

	err = bad.Save(context.Background(), proj, target)
	require.ErrorIs(t, err, types.ErrSaveFailure)
	assert.ErrorIs(t, err, errBrokenPipe)

	after, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after))
	backupAfter, err := os.ReadFile(target + "~")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(backup, backupAfter))
	entriesAfter, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, len(entriesBefore), len(entriesAfter))
	assert.Equal(t, rollbacks+1, promtest.ToFloat64(rollbacksTotal))
}

func TestSaveCommitKeepsPreviousGeneration(t *testing.T) {
	target := filepath.Join(t.TempDir(), "demo.zargo")
	p := newPersister(t, allTypesConfig(), member.RawRegistry())
	require.NoError(t, p.Save(context.Background(), sampleProject(), target))
	first, err := os.ReadFile(target)
	require.NoError(t, err)

	proj := project.New("")
	proj.AddMember(&member.Document{Kind: types.MemberModel, Name: "demo.xmi", Body: []byte("<XMI>v2</XMI>")})
	require.NoError(t, p.Save(context.Background(), proj, target))

	backup, err := os.ReadFile(target + "~")
	require.NoError(t, err)
	assert.Equal(t, first, backup)
	_, bodies := testutil.ReadZip(t, target)
	assert.Equal(t, "<XMI>v2</XMI>", bodies["demo.xmi"])
}

func TestSaveRejectsMissingPersisterBeforeWriting(t *testing.T) {
	target := filepath.Join(t.TempDir(), "demo.zargo")
	require.NoError(t, os.WriteFile(target, []byte("previous"), 0o644))

	cfg := types.DefaultConfig()
	cfg.SaveTypes = []string{types.MemberModel, "uml2"}
	p := newPersister(t, cfg, member.RawRegistry())
	proj := project.New("")
	proj.AddMember(&member.Document{Kind: "uml2", Name: "demo.uml2"})

	err := p.Save(context.Background(), proj, target)
	require.ErrorIs(t, err, types.ErrNoPersister)
	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(b))
}

func TestLoadCancelled(t *testing.T) {
	path := testutil.WriteZip(t, t.TempDir(), "demo.zargo", testutil.Legacy()...)
	p := newPersister(t, types.DefaultConfig(), member.RawRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proj, err := p.Load(ctx, path)
	assert.Nil(t, proj)
	assert.ErrorIs(t, err, types.ErrCancelled)
}

func TestLoadRejectsCorruptArchives(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.zargo")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	garbage := filepath.Join(dir, "garbage.zargo")
	require.NoError(t, os.WriteFile(garbage, []byte("not a zip"), 0o644))
	noDescriptor := testutil.WriteZip(t, dir, "nodesc.zargo", testutil.Entry{Name: "demo.xmi", Body: "<XMI/>"})

	p := newPersister(t, types.DefaultConfig(), member.RawRegistry())
	for _, path := range []string{empty, garbage, noDescriptor, filepath.Join(dir, "missing.zargo")} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := p.Load(context.Background(), path)
			assert.ErrorIs(t, err, types.ErrCorruptArchive)
		})
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.ProbeWindow = 0
	_, err := New(cfg, member.RawRegistry())
	assert.ErrorIs(t, err, types.ErrProbeWindowInvalid)

	_, err = New(types.DefaultConfig(), nil)
	assert.Error(t, err)
}
