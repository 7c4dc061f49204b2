package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/zargo/internal/testutil"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

type env struct {
	configDir string
	dataDir   string
	work      string
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	e := env{
		configDir: filepath.Join(root, "config"),
		dataDir:   filepath.Join(root, "data"),
		work:      filepath.Join(root, "work"),
	}
	require.NoError(t, os.MkdirAll(e.work, 0o755))
	t.Setenv("ZARGO_CONFIG_DIR", "")
	t.Setenv("ZARGO_DATA_DIR", "")
	return e
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), args...)
}

func (e env) runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir, "--log-level", "error"}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "zargo v"+Version)
	assert.Contains(t, out, fmt.Sprintf("persistence version: %d", types.PersistenceVersion))
	_, err = os.Stat(e.configDir)
	assert.True(t, os.IsNotExist(err), "version must not create the config directory")
}

func TestInitWritesConfigOnce(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote ")
	assert.Contains(t, out, "zargo initialized")

	data, err := os.ReadFile(filepath.Join(e.configDir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "model_version:")
	assert.Contains(t, string(data), "log_level: info")

	out, err = e.run(t, "init")
	require.NoError(t, err)
	assert.NotContains(t, out, "wrote ")
}

func TestInspectLegacyArchive(t *testing.T) {
	e := newEnv(t)
	path := testutil.WriteZip(t, e.work, "demo.zargo", testutil.Legacy()...)

	out, err := e.run(t, "--json", "inspect", path)
	require.NoError(t, err)

	var rep inspectReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 4, rep.PersistenceVersion)
	assert.Equal(t, "0.20", rep.Release)
	assert.Equal(t, "legacy", rep.Layout)
	assert.True(t, rep.Migrates)
	assert.Equal(t, 2, rep.Entries["pgml"])
	assert.Equal(t, 1, rep.Entries["xmi"])
}

func TestCombineToFile(t *testing.T) {
	e := newEnv(t)
	path := testutil.WriteZip(t, e.work, "demo.zargo", testutil.Legacy()...)
	output := filepath.Join(e.work, "demo.uml")

	_, err := e.run(t, "combine", path, "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `<?xml version = "1.0" encoding = "UTF-8" ?>`))
	assert.True(t, strings.HasSuffix(string(data), "</uml>\n"))
}

func TestResaveThenHistory(t *testing.T) {
	e := newEnv(t)
	src := testutil.WriteZip(t, e.work, "old.zargo", testutil.Legacy()...)
	dst := filepath.Join(e.work, "new.zargo")

	out, err := e.run(t, "resave", "--all-members", src, dst)
	require.NoError(t, err)
	assert.Contains(t, out, "saved "+dst)

	names, _ := testutil.ReadZip(t, dst)
	assert.Equal(t, "new.argo", names[0])
	assert.Len(t, names, 6)

	out, err = e.run(t, "--json", "load", dst)
	require.NoError(t, err)
	var members []memberInfo
	require.NoError(t, json.Unmarshal([]byte(out), &members))
	require.Len(t, members, 5)
	assert.Equal(t, "xmi", members[0].Type)
	assert.Equal(t, "new.xmi", members[0].Name)

	out, err = e.run(t, "--json", "history")
	require.NoError(t, err)
	var recs []types.ProjectRecord
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	uris := []string{recs[0].URI, recs[1].URI}
	assert.Contains(t, strings.Join(uris, " "), "old.zargo")
	assert.Contains(t, strings.Join(uris, " "), "new.zargo")
}

func TestExitCodes(t *testing.T) {
	e := newEnv(t)
	garbage := filepath.Join(e.work, "garbage.zargo")
	require.NoError(t, os.WriteFile(garbage, []byte("not a zip"), 0o644))

	_, err := e.run(t, "load", garbage)
	require.ErrorIs(t, err, types.ErrCorruptArchive)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = e.run(t, "load")
	require.ErrorIs(t, err, errUsage)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = e.run(t, "--log-level", "loud", "inspect", garbage)
	assert.ErrorIs(t, err, errUsage)

	src := testutil.WriteZip(t, e.work, "demo.zargo", testutil.Legacy()...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.runContext(t, ctx, "load", src)
	require.ErrorIs(t, err, types.ErrCancelled)
	assert.Equal(t, exitCancelled, exitCode(err))
	assert.Empty(t, scratch.Pending())

	assert.Equal(t, exitSuccess, exitCode(nil))
	assert.Equal(t, exitSysError, exitCode(errors.New("disk on fire")))
}

func TestEnvironmentOverridesConfig(t *testing.T) {
	e := newEnv(t)
	t.Setenv("ZARGO_ENCODING", "no-such-charset")
	_, err := e.run(t, "history")
	assert.ErrorIs(t, err, errUsage)
	assert.ErrorIs(t, err, types.ErrEncodingUnknown)
}
