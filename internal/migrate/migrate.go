// Package migrate turns a legacy-layout archive, which stores one
// descriptor plus free-standing model, diagram, to-do and profile entries
// with no manifest, into one combined unified-format document.
//
// The combined document is
//
//	<?xml version = "1.0" encoding = "UTF-8" ?>
//	<uml version="N">
//	<argo ...> descriptor body, manifest injected before </argo>
//	profile, model, diagrams in archive order, to-do
//	</uml>
//
// To-do content comes last so every model element and figure it refers to
// already exists when the document is read top to bottom.
package migrate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/mesh-intelligence/zargo/internal/archive"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

const (
	combinedProlog = `<?xml version = "1.0" encoding = "UTF-8" ?>`
	combinedClose  = "</uml>"
	argoOpen       = "<argo"
	argoClose      = "</argo>"
	memberOpen     = "<member"
	prologOpen     = "<?xml"
	doctypeOpen    = "<!DOCTYPE"
	tempPrefix     = "combinedzargo_"
	tempSuffix     = ".uml"
)

var versionAttr = regexp.MustCompile(`\bversion\s*=\s*["']([^"']*)["']`)

var tracer = otel.Tracer("zargo/migrate")

// Stats describes one combine run.
type Stats struct {
	Diagrams   int
	Todo       bool
	Profile    bool
	Injected   bool
	NonChars   int
	Backspaces int
}

// Migrator builds combined documents. It holds no per-run state and may be
// reused.
type Migrator struct {
	enc     encoding.Encoding
	utf8    bool
	log     *slog.Logger
	scratch *Scratch
	tempDir string
}

// Option configures a Migrator.
type Option func(*Migrator) error

// WithEncoding sets the charset legacy entries are decoded from.
func WithEncoding(name string) Option {
	return func(m *Migrator) error {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return fmt.Errorf("%w: %q", types.ErrEncodingUnknown, name)
		}
		canonical, _ := htmlindex.Name(enc)
		m.enc = enc
		m.utf8 = canonical == "utf-8"
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Migrator) error {
		if l != nil {
			m.log = l
		}
		return nil
	}
}

// WithScratch tracks combined document files in s.
func WithScratch(s *Scratch) Option {
	return func(m *Migrator) error {
		if s != nil {
			m.scratch = s
		}
		return nil
	}
}

// WithTempDir sets where ToFile creates combined documents.
func WithTempDir(dir string) Option {
	return func(m *Migrator) error {
		m.tempDir = dir
		return nil
	}
}

// New creates a Migrator decoding UTF-8 unless configured otherwise.
func New(opts ...Option) (*Migrator, error) {
	m := &Migrator{utf8: true, log: slog.Default()}
	for _, o := range opts {
		if err := o(m); err != nil {
			return nil, err
		}
	}
	if m.scratch == nil {
		m.scratch = NewScratch()
	}
	m.log = m.log.With("component", "migrate")
	return m, nil
}

// ToFile writes the combined document of a into a new temp file and
// returns its path. The file is tracked in the migrator's Scratch. On
// failure it is removed; on cancellation it is left for Scratch.RemoveAll.
func (m *Migrator) ToFile(ctx context.Context, a *archive.Archive) (string, Stats, error) {
	dir := m.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, tempPrefix+uuid.NewString()+tempSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", Stats{}, fmt.Errorf("creating combined document: %w", err)
	}
	m.scratch.Track(path)
	m.log.Info("combining legacy entries into unified document", "archive", a.Path(), "combined", path)

	stats, err := m.Combine(ctx, a, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing combined document: %w", cerr)
	}
	if err != nil {
		if !errors.Is(err, types.ErrCancelled) {
			if rerr := m.scratch.Remove(path); rerr != nil {
				m.log.Warn("failed to remove combined document", "path", path, "error", rerr)
			}
		}
		return "", stats, err
	}
	return path, stats, nil
}

// Combine streams the combined document of a into w. A missing descriptor
// or model entry wraps types.ErrCorruptArchive; zero diagrams is valid.
func (m *Migrator) Combine(ctx context.Context, a *archive.Archive, w io.Writer) (stats Stats, err error) {
	ctx, span := tracer.Start(ctx, "migrate.Combine")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// Pre-scan: the manifest is injected before the entries it names are
	// streamed, so the entry set is counted first. Zero-length member
	// entries are left out so every manifest line gets a section.
	descName, ok := a.First(types.DescriptorExt)
	if !ok {
		return stats, fmt.Errorf("%w: no .%s entry", types.ErrCorruptArchive, types.DescriptorExt)
	}
	models := m.withContent(a, types.MemberModel)
	if len(models) == 0 {
		return stats, fmt.Errorf("%w: no non-empty .%s entry", types.ErrCorruptArchive, types.MemberModel)
	}
	modelName := models[0]
	diagrams := m.withContent(a, types.MemberDiagram)
	todoName, hasTodo := first(m.withContent(a, types.MemberTodo))
	profileName, hasProfile := first(m.withContent(a, types.MemberProfile))
	stats.Diagrams = len(diagrams)
	stats.Todo = hasTodo
	stats.Profile = hasProfile
	span.SetAttributes(
		attribute.Int("zargo.diagrams", len(diagrams)),
		attribute.Bool("zargo.todo", hasTodo),
		attribute.Bool("zargo.profile", hasProfile),
	)

	if err := types.CheckCancelled(ctx); err != nil {
		return stats, err
	}

	bw := bufio.NewWriter(w)
	sw := &stripWriter{w: bw}

	if _, err := fmt.Fprintln(bw, combinedProlog); err != nil {
		return stats, err
	}
	injected, err := m.copyDescriptor(a, descName, sw, stats)
	if err != nil {
		return stats, err
	}
	stats.Injected = injected
	m.logStripped(sw, descName, &stats)

	if err := types.CheckCancelled(ctx); err != nil {
		return stats, err
	}

	if hasProfile {
		if err := m.copyMember(a, profileName, true, sw, &stats); err != nil {
			return stats, err
		}
	}
	if err := m.copyMember(a, modelName, false, sw, &stats); err != nil {
		return stats, err
	}
	for _, name := range diagrams {
		if err := m.copyMember(a, name, true, sw, &stats); err != nil {
			return stats, err
		}
	}

	if err := types.CheckCancelled(ctx); err != nil {
		return stats, err
	}

	if hasTodo {
		if err := m.copyMember(a, todoName, true, sw, &stats); err != nil {
			return stats, err
		}
	}

	if _, err := fmt.Fprintln(bw, combinedClose); err != nil {
		return stats, err
	}
	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("writing combined document: %w", err)
	}
	m.log.Info("completed combining entries", "diagrams", stats.Diagrams, "todo", stats.Todo, "profile", stats.Profile)
	return stats, nil
}

// withContent returns the entries with ext whose recorded size is not
// zero, in archive order.
func (m *Migrator) withContent(a *archive.Archive, ext string) []string {
	var names []string
	for _, name := range a.Entries(ext) {
		if size, _ := a.Size(name); size == 0 {
			m.log.Warn("skipping empty entry", "entry", name)
			continue
		}
		names = append(names, name)
	}
	return names
}

func first(names []string) (string, bool) {
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}

// copyDescriptor copies the descriptor from its <argo root line on,
// wrapped in <uml version="N">, injecting member records before </argo>
// when the descriptor declares none.
func (m *Migrator) copyDescriptor(a *archive.Archive, name string, sw *stripWriter, stats Stats) (bool, error) {
	rc, err := a.OpenEntry(name)
	if err != nil {
		return false, err
	}
	defer rc.Close()
	r := bufio.NewReader(m.decode(rc))

	var rootLine string
	for {
		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, fmt.Errorf("%w: no <argo> root in %s", types.ErrCorruptArchive, archive.Quote(name))
			}
			return false, fmt.Errorf("%w: reading %s: %w", types.ErrCorruptArchive, archive.Quote(name), err)
		}
		if strings.HasPrefix(strings.TrimSpace(line), argoOpen) {
			rootLine = line
			break
		}
	}

	version := strconv.Itoa(types.OldestVersion)
	if sub := versionAttr.FindStringSubmatch(rootLine); sub != nil {
		version = sub[1]
	}
	if _, err := fmt.Fprintf(sw, "<uml version=\"%s\">\n%s\n", version, rootLine); err != nil {
		return false, err
	}

	members := 0
	injected := false
	for {
		line, err := readLine(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("%w: reading %s: %w", types.ErrCorruptArchive, archive.Quote(name), err)
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, memberOpen) {
			members++
		}
		if trimmed == argoClose && members == 0 {
			m.log.Info("inserting member records")
			if err := writeManifest(sw, stats); err != nil {
				return false, err
			}
			injected = true
		}
		if _, err := fmt.Fprintln(sw, line); err != nil {
			return false, err
		}
	}
	m.log.Info("descriptor copied", "members", members)
	if members == 0 && !injected {
		return false, fmt.Errorf("%w: %s has no separate </argo> line", types.ErrCorruptArchive, archive.Quote(name))
	}
	return injected, nil
}

// writeManifest writes member records in the fixed order model, diagrams,
// to-do, profile.
func writeManifest(w io.Writer, stats Stats) error {
	lines := []string{memberLine(types.MemberModel)}
	for i := 0; i < stats.Diagrams; i++ {
		lines = append(lines, memberLine(types.MemberDiagram))
	}
	if stats.Todo {
		lines = append(lines, memberLine(types.MemberTodo))
	}
	if stats.Profile {
		lines = append(lines, memberLine(types.MemberProfile))
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func memberLine(tag string) string {
	return fmt.Sprintf("<member type='%s' name='.%s' />", tag, tag)
}

// copyMember appends one member entry. An XML prolog first line is
// dropped; with doctype set, a DOCTYPE line right after it is dropped too.
// Any other first line is kept. A member with nothing left after those
// lines wraps types.ErrCorruptArchive, since the manifest already names it.
func (m *Migrator) copyMember(a *archive.Archive, name string, doctype bool, sw *stripWriter, stats *Stats) error {
	rc, err := a.OpenEntry(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	r := bufio.NewReader(m.decode(rc))

	noContent := fmt.Errorf("%w: member entry %s has no content", types.ErrCorruptArchive, archive.Quote(name))
	head, err := readLine(r)
	if errors.Is(err, io.EOF) {
		return noContent
	}
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", types.ErrCorruptArchive, archive.Quote(name), err)
	}

	wrote := false
	if strings.HasPrefix(strings.TrimSpace(head), prologOpen) {
		if doctype {
			next, err := readLine(r)
			switch {
			case errors.Is(err, io.EOF):
			case err != nil:
				return fmt.Errorf("%w: reading %s: %w", types.ErrCorruptArchive, archive.Quote(name), err)
			case !strings.HasPrefix(strings.TrimSpace(next), doctypeOpen):
				if _, err := fmt.Fprintln(sw, next); err != nil {
					return err
				}
				wrote = true
			}
		}
	} else {
		if _, err := fmt.Fprintln(sw, head); err != nil {
			return err
		}
		wrote = true
	}

	n, err := io.Copy(sw, r)
	if err != nil {
		return fmt.Errorf("%w: copying %s: %w", types.ErrCorruptArchive, archive.Quote(name), err)
	}
	if !wrote && n == 0 {
		return noContent
	}
	if err := sw.endLine(); err != nil {
		return err
	}
	m.logStripped(sw, name, stats)
	return nil
}

// logStripped reports control characters removed since the last call.
func (m *Migrator) logStripped(sw *stripWriter, name string, stats *Stats) {
	nonChars, backspaces := sw.counts()
	newNon := nonChars - stats.NonChars
	newBack := backspaces - stats.Backspaces
	if newNon > 0 {
		m.log.Info("stripping out 0xFFFF", "entry", name, "count", newNon)
	}
	if newBack > 0 {
		m.log.Info("stripping out 0x8", "entry", name, "count", newBack)
	}
	stats.NonChars = nonChars
	stats.Backspaces = backspaces
}

func (m *Migrator) decode(r io.Reader) io.Reader {
	if m.utf8 || m.enc == nil {
		return r
	}
	return m.enc.NewDecoder().Reader(r)
}

// readLine returns the next line without its terminator. io.EOF is only
// returned when no bytes remain.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}
