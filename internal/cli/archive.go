package cli

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/zargo/internal/archive"
	"github.com/mesh-intelligence/zargo/internal/migrate"
	"github.com/mesh-intelligence/zargo/internal/project"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// inspectReport is the output of "zargo inspect".
type inspectReport struct {
	Path               string         `json:"path"`
	PersistenceVersion int            `json:"persistence_version"`
	Release            string         `json:"release"`
	Layout             string         `json:"layout"`
	Migrates           bool           `json:"migrates"`
	Entries            map[string]int `json:"entries"`
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the header, layout and entry counts of an archive",
		Args:  exactArgs(1),
		RunE:  runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	p, closeFn, err := openPersister(settings.config)
	if err != nil {
		return err
	}
	defer closeFn()

	hdr, err := p.Probe(args[0])
	if err != nil {
		return err
	}
	a, err := archive.Open(args[0], archive.WithLogger(settings.logger))
	if err != nil {
		return err
	}
	defer a.Close()

	rep := inspectReport{
		Path:               args[0],
		PersistenceVersion: hdr.PersistenceVersion,
		Release:            hdr.Release,
		Layout:             hdr.Layout().String(),
		Migrates:           p.Migrates(hdr),
		Entries:            make(map[string]int),
	}
	for _, name := range a.Entries("") {
		rep.Entries[strings.ToLower(archive.Ext(name))]++
	}

	out := cmd.OutOrStdout()
	if flags.jsonMode {
		return writeJSON(out, rep)
	}
	fmt.Fprintf(out, "path:     %s\nversion:  %d\nrelease:  %s\nlayout:   %s\nmigrates: %t\n",
		rep.Path, rep.PersistenceVersion, rep.Release, rep.Layout, rep.Migrates)
	exts := make([]string, 0, len(rep.Entries))
	for ext := range rep.Entries {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		fmt.Fprintf(out, "  .%-8s %d\n", ext, rep.Entries[ext])
	}
	return nil
}

func newCombineCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "combine <file>",
		Short: "Write the combined document of a legacy archive",
		Long:  "Stitch the descriptor, model, diagram, to-do and profile entries of an archive into one document, as a legacy load does.",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCombine(cmd, args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func runCombine(cmd *cobra.Command, path, output string) (err error) {
	cfg := settings.config
	m, err := migrate.New(
		migrate.WithEncoding(cfg.Encoding),
		migrate.WithLogger(settings.logger),
		migrate.WithScratch(scratch),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	a, err := archive.Open(path, archive.WithLogger(settings.logger))
	if err != nil {
		return err
	}
	defer a.Close()

	w := bufio.NewWriter(cmd.OutOrStdout())
	if output != "" {
		f, cerr := os.Create(output)
		if cerr != nil {
			return cerr
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = cerr
			}
		}()
		w = bufio.NewWriter(f)
	}
	stats, err := m.Combine(cmd.Context(), a, w)
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	settings.logger.Info("combined", "diagrams", stats.Diagrams, "todo", stats.Todo, "profile", stats.Profile, "injected", stats.Injected)
	return nil
}

// memberInfo describes one loaded member.
type memberInfo struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Load an archive and list its members",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, closeFn, err := openPersister(settings.config)
			if err != nil {
				return err
			}
			defer closeFn()

			proj, err := p.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printMembers(cmd, proj)
		},
	}
}

func printMembers(cmd *cobra.Command, proj types.Project) error {
	var infos []memberInfo
	for _, m := range proj.Members() {
		info := memberInfo{Type: m.Type(), Name: m.ZipName()}
		if d, ok := m.(interface{ Len() int }); ok {
			info.Bytes = d.Len()
		}
		infos = append(infos, info)
	}
	out := cmd.OutOrStdout()
	if flags.jsonMode {
		return writeJSON(out, infos)
	}
	if p, ok := proj.(*project.Project); ok {
		fmt.Fprintf(out, "version %d, release %s\n", p.PersistenceVersion(), p.Release())
	}
	for _, info := range infos {
		fmt.Fprintf(out, "%-8s %-40s %d\n", info.Type, archive.Quote(info.Name), info.Bytes)
	}
	return nil
}

func newResaveCmd() *cobra.Command {
	var allMembers bool
	cmd := &cobra.Command{
		Use:   "resave <source> <target>",
		Short: "Load an archive and save it in the unified layout",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := settings.config
			if allMembers {
				cfg.SaveTypes = []string{types.MemberModel, types.MemberDiagram, types.MemberTodo, types.MemberProfile}
			}
			p, closeFn, err := openPersister(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			proj, err := p.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := p.Save(cmd.Context(), proj, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&allMembers, "all-members", false, "rewrite every member type, not only the configured save types")
	return cmd
}
