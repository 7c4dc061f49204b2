// Package sqlite provides the public constructor for the SQLite project
// location registry while keeping its implementation internal.
package sqlite

import (
	"github.com/mesh-intelligence/zargo/internal/sqlite"
	"github.com/mesh-intelligence/zargo/pkg/types"
)

// NewBackend creates a detached registry. Call Attach with a Config first.
//
// Example:
//
//	history := sqlite.NewBackend()
//	cfg := types.DefaultConfig()
//	cfg.DataDir = dataDir
//	if err := history.Attach(cfg); err != nil {
//	    return err
//	}
//	defer history.Detach()
func NewBackend() types.ProjectHistory {
	return sqlite.NewBackend()
}
