package kvstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
	"go.uber.org/zap"
)

// Options configures Create and Open. Path is always required; for
// Create, MaxKeyLength must also be set (DefaultOptions supplies a
// reasonable value). The store itself never reads the environment or a
// config file directly — only LoadConfigFile, a caller-invoked helper,
// does.
type Options struct {
	Path string

	// MaxKeyLength is the longest key, in bytes, the file's index slots
	// can hold; it is fixed for the lifetime of the file and must be in
	// [1,252]. For Open, leave it zero to accept whatever the file's
	// header already records, or set it to require an exact match.
	MaxKeyLength uint8

	// InitialSize, if larger than the header size, reserves that many
	// bytes for the index region up front so early inserts don't force
	// index-growth relocations.
	InitialSize int64

	// ValueCRCEnabled controls whether value frames carry a trailing
	// CRC-32/IEEE of the payload.
	ValueCRCEnabled bool

	// AllowInPlaceShrink permits an Update to shrink a value within its
	// existing envelope instead of relocating it, even when
	// ValueCRCEnabled is false. When ValueCRCEnabled is true, shrinking
	// in place is always allowed regardless of this flag, since the
	// fresh CRC written alongside the shorter length already proves the
	// frame's new boundary.
	AllowInPlaceShrink bool

	// PadDataToIndexEntry pads every allocation up to at least one
	// slot's worth of bytes, so that growing the index by relocating
	// data records never has to split a record that's smaller than the
	// slot it displaces. Defaults to true; only disable it if the index
	// region is never expected to grow.
	PadDataToIndexEntry bool

	// Logger receives structured logs for store lifecycle and recovery
	// events. If nil, a production zap logger is used.
	Logger *zap.SugaredLogger
}

func (o Options) logger() *zap.SugaredLogger {
	return newLogger(o.Logger)
}

// DefaultOptions returns the recommended defaults for path, with
// ValueCRCEnabled and PadDataToIndexEntry on.
func DefaultOptions(path string) Options {
	return Options{
		Path:                path,
		MaxKeyLength:        64,
		ValueCRCEnabled:     true,
		PadDataToIndexEntry: true,
	}
}

// configFile mirrors the subset of Options worth persisting in an
// on-disk JSONC config file.
type configFile struct {
	MaxKeyLength        *uint8 `json:"max_key_length,omitempty"`
	InitialSize         *int64 `json:"initial_size,omitempty"`
	ValueCRCEnabled     *bool  `json:"value_crc_enabled,omitempty"`
	AllowInPlaceShrink  *bool  `json:"allow_in_place_shrink,omitempty"`
	PadDataToIndexEntry *bool  `json:"pad_data_to_index_entry,omitempty"`
}

// LoadConfigFile reads a JSONC (JSON-with-comments, trailing commas
// allowed) config file at path and overlays its fields onto base. A
// missing file is not an error: base is returned unchanged.
func LoadConfigFile(path string, base Options) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("kvstore: read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return base, fmt.Errorf("kvstore: invalid jsonc config %s: %w", path, err)
	}

	var cf configFile
	if err := json.Unmarshal(standardized, &cf); err != nil {
		return base, fmt.Errorf("kvstore: invalid config %s: %w", path, err)
	}

	if cf.MaxKeyLength != nil {
		base.MaxKeyLength = *cf.MaxKeyLength
	}
	if cf.InitialSize != nil {
		base.InitialSize = *cf.InitialSize
	}
	if cf.ValueCRCEnabled != nil {
		base.ValueCRCEnabled = *cf.ValueCRCEnabled
	}
	if cf.AllowInPlaceShrink != nil {
		base.AllowInPlaceShrink = *cf.AllowInPlaceShrink
	}
	if cf.PadDataToIndexEntry != nil {
		base.PadDataToIndexEntry = *cf.PadDataToIndexEntry
	}

	return base, nil
}
