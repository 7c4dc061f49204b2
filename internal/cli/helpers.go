package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesh-intelligence/zargo/internal/member"
	"github.com/mesh-intelligence/zargo/internal/zargo"
	"github.com/mesh-intelligence/zargo/pkg/sqlite"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// openPersister builds a persister over the raw member registry and
// attaches the project history. A history that cannot be opened is
// logged and skipped. The caller must call the returned close function.
func openPersister(cfg types.Config) (*zargo.Persister, func(), error) {
	log := settings.logger
	opts := []zargo.Option{zargo.WithLogger(log), zargo.WithScratch(scratch)}

	history := sqlite.NewBackend()
	attached := false
	if err := history.Attach(cfg); err != nil {
		log.Warn("project history unavailable", "data_dir", cfg.DataDir, "error", err)
	} else {
		attached = true
		opts = append(opts, zargo.WithLocationRegistry(history))
	}

	p, err := zargo.New(cfg, member.RawRegistry(), opts...)
	if err != nil {
		if attached {
			history.Detach()
		}
		return nil, nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	closeFn := func() {
		if err := p.Close(); err != nil {
			log.Warn("failed to remove temporary files", "error", err)
		}
		if attached {
			if err := history.Detach(); err != nil {
				log.Warn("failed to close project history", "error", err)
			}
		}
	}
	return p, closeFn, nil
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
