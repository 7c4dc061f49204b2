package descriptor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/zargo/internal/testutil"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

func TestProbe(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    types.Header
		wantErr error
	}{
		{
			name: "version and release attributes",
			doc:  `<?xml version="1.0"?><argo version="6" release="0.34"><member type="xmi" name="a.xmi"/></argo>`,
			want: types.Header{PersistenceVersion: 6, Release: "0.34"},
		},
		{
			name: "release from documentation",
			doc:  testutil.LegacyDescriptor,
			want: types.Header{PersistenceVersion: 4, Release: "0.20"},
		},
		{
			name: "missing version is oldest",
			doc:  "<argo>\n<documentation><version>0.9</version></documentation>\n</argo>",
			want: types.Header{PersistenceVersion: types.OldestVersion, Release: "0.9"},
		},
		{
			name: "no documentation gives empty release",
			doc:  `<argo version="5"><member type="xmi" name="a.xmi"/><documentation><version>x</version></documentation></argo>`,
			want: types.Header{PersistenceVersion: 5},
		},
		{
			name: "latin1 declared encoding",
			doc:  "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n<argo version=\"3\" release=\"caf\xe9\"/>",
			want: types.Header{PersistenceVersion: 3, Release: "café"},
		},
		{
			name:    "non integer version",
			doc:     `<argo version="six"/>`,
			wantErr: types.ErrCorruptArchive,
		},
		{
			name:    "no element at all",
			doc:     `<?xml version="1.0"?>`,
			wantErr: types.ErrCorruptArchive,
		},
		{
			name:    "empty",
			doc:     "",
			wantErr: types.ErrCorruptArchive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Probe(strings.NewReader(tt.doc), types.DefaultProbeWindow)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProbeIsBounded(t *testing.T) {
	padding := strings.Repeat("<!-- filler -->\n", 100)

	_, err := Probe(strings.NewReader(padding+`<argo version="6"/>`), 256)
	assert.ErrorIs(t, err, types.ErrCorruptArchive)

	got, err := Probe(strings.NewReader(padding+`<argo version="6"/>`), len(padding)+64)
	require.NoError(t, err)
	assert.Equal(t, 6, got.PersistenceVersion)

	// A large document past the header is never needed.
	big := `<argo version="6"><documentation><version>1.0</version></documentation>` + strings.Repeat("<member type=\"pgml\" name=\"d.pgml\"/>", 10000) + "</argo>"
	got, err = Probe(strings.NewReader(big), 512)
	require.NoError(t, err)
	assert.Equal(t, types.Header{PersistenceVersion: 6, Release: "1.0"}, got)
}

func TestReadManifest(t *testing.T) {
	doc := `<?xml version="1.0"?>
<!DOCTYPE argo SYSTEM "argo.dtd" >
<argo version="6">
  <documentation><version>0.34</version></documentation>
  <member type="xmi" name="demo.xmi" />
  <member type='pgml' name='demo_Class Diagram.pgml' />
  <nested><member type="todo" name="ignored.todo"/></nested>
  <member type="todo" name="demo.todo" />
</argo>`
	refs, err := ReadManifest(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []types.MemberRef{
		{Type: "xmi", Name: "demo.xmi"},
		{Type: "pgml", Name: "demo_Class Diagram.pgml"},
		{Type: "todo", Name: "demo.todo"},
	}, refs)

	refs, err = ReadManifest(strings.NewReader(testutil.LegacyDescriptor))
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = ReadManifest(strings.NewReader(`<argo><member type="../x" name="a"/></argo>`))
	assert.ErrorIs(t, err, types.ErrCorruptArchive)

	_, err = ReadManifest(strings.NewReader(`<argo><member name="a"/></argo>`))
	assert.ErrorIs(t, err, types.ErrCorruptArchive)

	_, err = ReadManifest(strings.NewReader(`<argo><member type="xmi" name="a"/>`))
	assert.ErrorIs(t, err, types.ErrCorruptArchive)
}

func TestWriteRoundTrip(t *testing.T) {
	hdr := types.Header{PersistenceVersion: types.PersistenceVersion, Release: `0.35 "beta"`}
	refs := []types.MemberRef{
		{Type: "xmi", Name: "demo.xmi"},
		{Type: "pgml", Name: "demo <main>.pgml"},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, hdr, refs))

	got, err := Probe(bytes.NewReader(buf.Bytes()), types.DefaultProbeWindow)
	require.NoError(t, err)
	assert.Equal(t, hdr, got)

	gotRefs, err := ReadManifest(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, refs, gotRefs)
}

func TestName(t *testing.T) {
	assert.Equal(t, "model.argo", Name("model.zargo"))
	assert.Equal(t, "model.v2.argo", Name("model.v2.zargo"))
	assert.Equal(t, "model.argo", Name("model"))
	assert.Equal(t, ".hidden.argo", Name(".hidden"))
}
