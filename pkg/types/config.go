package types

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Config holds the persistence settings shared by the loader, the legacy
// migrator and the save coordinator.
type Config struct {
	// DataDir holds the location registry database.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// SafeSaves keeps the previous archive recoverable while a save is in
	// progress and leaves a "~" backup after a successful save.
	SafeSaves bool `json:"safe_saves" yaml:"safe_saves"`

	// Encoding is the charset legacy archive entries are decoded from.
	Encoding string `json:"encoding" yaml:"encoding"`

	// ModelVersion is the active model-representation version. Major
	// version 1 is the legacy representation, which always loads through
	// the combined document.
	ModelVersion string `json:"model_version" yaml:"model_version"`

	// ProbeWindow bounds how many descriptor bytes the version probe reads.
	ProbeWindow int `json:"probe_window" yaml:"probe_window"`

	// SaveTypes lists the member type tags Save re-serializes.
	SaveTypes []string `json:"save_types" yaml:"save_types"`

	// Release is the release tag written into saved descriptors.
	Release string `json:"release" yaml:"release"`

	// TempDir receives combined documents. Empty means os.TempDir().
	TempDir string `json:"temp_dir,omitempty" yaml:"temp_dir,omitempty"`
}

// Defaults.
const (
	DefaultEncoding     = "UTF-8"
	DefaultModelVersion = "2.4"
	DefaultProbeWindow  = 64 * 1024
	DefaultRelease      = "0.35"
	legacyModelMajor    = "1"
)

// Config validation errors.
var (
	ErrEncodingUnknown    = errors.New("unknown encoding")
	ErrModelVersionEmpty  = errors.New("model version must not be empty")
	ErrProbeWindowInvalid = errors.New("probe window must be positive")
	ErrSaveTypesEmpty     = errors.New("save types must not be empty")
	ErrSaveTypeInvalid    = errors.New("save type must not be blank")
)

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SafeSaves:    true,
		Encoding:     DefaultEncoding,
		ModelVersion: DefaultModelVersion,
		ProbeWindow:  DefaultProbeWindow,
		SaveTypes:    []string{MemberModel},
		Release:      DefaultRelease,
	}
}

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if _, err := htmlindex.Get(c.Encoding); err != nil {
		return ErrEncodingUnknown
	}
	if strings.TrimSpace(c.ModelVersion) == "" {
		return ErrModelVersionEmpty
	}
	if c.ProbeWindow <= 0 {
		return ErrProbeWindowInvalid
	}
	if len(c.SaveTypes) == 0 {
		return ErrSaveTypesEmpty
	}
	for _, t := range c.SaveTypes {
		if strings.TrimSpace(t) == "" {
			return ErrSaveTypeInvalid
		}
	}
	return nil
}

// LegacyModel reports whether the active model representation is the
// legacy one.
func (c Config) LegacyModel() bool {
	major, _, _ := strings.Cut(strings.TrimSpace(c.ModelVersion), ".")
	return major == legacyModelMajor
}

// SavesType reports whether Save re-serializes members of the given type.
func (c Config) SavesType(tag string) bool {
	for _, t := range c.SaveTypes {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}
