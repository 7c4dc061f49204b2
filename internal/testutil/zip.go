// Package testutil builds archive fixtures for tests.
package testutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Entry is one fixture archive entry. Names ending in "/" are written as
// directory entries and Body is ignored.
type Entry struct {
	Name string
	Body string
}

// WriteZip writes entries, in order, to a new zip file under dir and
// returns its path.
func WriteZip(t testing.TB, dir, name string, entries ...Entry) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			t.Fatalf("create entry %q: %v", e.Name, err)
		}
		if len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/' {
			continue
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("write entry %q: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

// ReadZip returns the entry names and contents of a zip file, in order.
func ReadZip(t testing.TB, path string) ([]string, map[string]string) {
	t.Helper()
	rc, err := zip.OpenReader(path)
	if rc == nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer rc.Close()

	var names []string
	bodies := make(map[string]string)
	for _, f := range rc.File {
		names = append(names, f.Name)
		r, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %q: %v", f.Name, err)
		}
		b, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("read entry %q: %v", f.Name, err)
		}
		bodies[f.Name] = string(b)
	}
	return names, bodies
}

// Legacy returns the entries of a legacy-layout archive: descriptor, model,
// two diagrams, a to-do list and a profile configuration.
func Legacy() []Entry {
	return []Entry{
		{Name: "demo.argo", Body: LegacyDescriptor},
		{Name: "demo.xmi", Body: "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<XMI xmi.version=\"1.2\">\n  <XMI.content/>\n</XMI>\n"},
		{Name: "demo_Class.pgml", Body: "<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n<!DOCTYPE pgml SYSTEM \"pgml.dtd\">\n<pgml name=\"Class\">\n</pgml>\n"},
		{Name: "demo_Use.pgml", Body: "<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n<!DOCTYPE pgml SYSTEM \"pgml.dtd\">\n<pgml name=\"Use\">\n</pgml>\n"},
		{Name: "demo.todo", Body: "<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n<!DOCTYPE todo SYSTEM \"todo.dtd\" >\n<todo>\n</todo>\n"},
		{Name: "demo.profile", Body: "<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n<!DOCTYPE profile SYSTEM \"profile.dtd\" >\n<profile>\n</profile>\n"},
	}
}

// LegacyDescriptor is a version 4 descriptor with no member manifest.
const LegacyDescriptor = `<?xml version="1.0" encoding="UTF-8" ?>
<!DOCTYPE argo SYSTEM "argo.dtd" >
<argo version="4">
  <documentation>
    <authorname>a</authorname>
    <version>0.20</version>
  </documentation>
  <searchpath href="PROJECT_DIR" />
</argo>
`
