package types

import (
	"errors"
	"time"
)

// Registry operations recorded for a project location.
const (
	OpLoad = "load"
	OpSave = "save"
)

// ProjectRecord is one entry of the project location registry: the
// canonical source location of a project plus what was last seen there.
type ProjectRecord struct {
	// RecordID is a UUID v7, generated on first registration.
	RecordID string `json:"record_id"`
	// URI is the file URL of the archive.
	URI                string `json:"uri"`
	PersistenceVersion int    `json:"persistence_version"`
	Release            string `json:"release"`
	Layout             string `json:"layout"`
	// Operation is OpLoad or OpSave.
	Operation string    `json:"operation"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocationRegistry records canonical project source locations after every
// successful load and save.
type LocationRegistry interface {
	SetProjectURI(rec ProjectRecord) error
}

// Registry lifecycle errors.
var (
	ErrRegistryDetached = errors.New("registry is detached")
	ErrAlreadyAttached  = errors.New("registry is already attached")
)

// ProjectHistory is a LocationRegistry with a lifecycle and a query for
// the most recently seen projects.
type ProjectHistory interface {
	LocationRegistry
	// Attach opens the registry stored under config.DataDir.
	Attach(config Config) error
	// Detach releases the registry. It is idempotent.
	Detach() error
	// Recent returns up to limit records, newest first; limit <= 0
	// returns all.
	Recent(limit int) ([]ProjectRecord, error)
}
