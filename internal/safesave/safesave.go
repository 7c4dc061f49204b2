// Package safesave writes a file so that a failed write never destroys
// the previous good version.
//
// A save moves through four states. START copies the existing target to a
// temporary working file next to it. WRITING truncates the target and
// writes the new content. COMMIT turns the working file into the backup
// generation "<target>~". ROLLBACK deletes the half-written target and
// renames the working file back over it.
package safesave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

// BackupSuffix marks the confirmed previous generation of a file.
const BackupSuffix = "~"

const workingSuffix = ".saving"

// State names the phase a save is in.
type State int

// Save phases.
const (
	StateStart State = iota
	StateWriting
	StateCommit
	StateRollback
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateWriting:
		return "writing"
	case StateCommit:
		return "commit"
	case StateRollback:
		return "rollback"
	}
	return "unknown"
}

// WriteFunc writes the complete new content of the target to w. It must
// not close w.
type WriteFunc func(w io.Writer) error

// Coordinator runs saves.
type Coordinator struct {
	enabled    bool
	log        *slog.Logger
	onRollback func(target string, cause error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSafeSaves turns the working copy and rollback on or off.
func WithSafeSaves(enabled bool) Option {
	return func(c *Coordinator) { c.enabled = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// OnRollback registers fn to run after every rollback.
func OnRollback(fn func(target string, cause error)) Option {
	return func(c *Coordinator) { c.onRollback = fn }
}

// New returns a Coordinator with safe saves enabled.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{enabled: true, log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "safesave")
	return c
}

// Save writes target through write.
//
// Failing to create the working file wraps types.ErrSaveSetup and leaves
// target untouched. A write failure wraps types.ErrSaveFailure; with safe
// saves on, target is then absent if it did not exist before, or
// byte-identical to its previous content. On success the previous content,
// if any, is kept at target+BackupSuffix.
func (c *Coordinator) Save(ctx context.Context, target string, write WriteFunc) error {
	if err := types.CheckCancelled(ctx); err != nil {
		return err
	}
	log := c.log.With("target", target)

	working := ""
	if c.enabled {
		var err error
		working, err = c.start(target)
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrSaveSetup, err)
		}
	}

	log.Debug("save state", "state", StateWriting)
	if err := writeTarget(target, write); err != nil {
		if !c.enabled {
			return fmt.Errorf("%w: %w", types.ErrSaveFailure, err)
		}
		log.Warn("save failed, rolling back", "state", StateRollback, "error", err)
		if rerr := c.rollback(target, working); rerr != nil {
			log.Error("rollback failed", "working", working, "error", rerr)
			err = errors.Join(err, rerr)
		}
		if c.onRollback != nil {
			c.onRollback(target, err)
		}
		return fmt.Errorf("%w: %w", types.ErrSaveFailure, err)
	}

	if c.enabled {
		c.commit(log, target, working)
	}
	log.Info("saved")
	return nil
}

// start copies target to a new working file beside it. It returns "" when
// target does not exist yet.
func (c *Coordinator) start(target string) (string, error) {
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", target)
	}

	dir, base := filepath.Split(target)
	working := filepath.Join(dir, "."+base+"."+uuid.NewString()+workingSuffix)
	if err := copyFile(working, target, info.Mode().Perm()); err != nil {
		os.Remove(working)
		return "", fmt.Errorf("creating working copy: %w", err)
	}
	c.log.Debug("save state", "state", StateStart, "working", working)
	return working, nil
}

// commit promotes the working file to the backup generation. Problems are
// logged; the new content is already in place.
func (c *Coordinator) commit(log *slog.Logger, target, working string) {
	log.Debug("save state", "state", StateCommit)
	if working == "" {
		return
	}
	backup := target + BackupSuffix
	if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove old backup", "backup", backup, "error", err)
	}
	if err := os.Rename(working, backup); err != nil {
		log.Warn("failed to promote backup", "backup", backup, "error", err)
	}
	if err := os.Remove(working); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove working file", "working", working, "error", err)
	}
}

// rollback restores target from the working file, or removes it when
// there was nothing before. The working file is renamed over target, so
// target never goes missing while it is restored.
func (c *Coordinator) rollback(target, working string) error {
	if working == "" {
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing partial %s: %w", target, err)
		}
		return nil
	}
	if err := os.Rename(working, target); err != nil {
		return fmt.Errorf("restoring %s: %w", target, err)
	}
	return nil
}

// writeTarget truncates target and writes it, syncing before close.
func writeTarget(target string, write WriteFunc) (err error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return err
	}
	return f.Sync()
}

func copyFile(dst, src string, perm os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
