package sqlstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/hupe1980/sqldir/config"
	"github.com/hupe1980/sqldir/internal/codec"
	"github.com/hupe1980/sqldir/store"
)

// FetchMode selects how an input reads its payload.
type FetchMode int

const (
	// FetchPerBuffer selects one buffer-sized range per refill.
	FetchPerBuffer FetchMode = iota
	// FetchOnOpen reads the whole payload when the input opens.
	FetchOnOpen
)

func (m FetchMode) String() string {
	if m == FetchOnOpen {
		return "onopen"
	}
	return "perbuffer"
}

// ParseFetchMode parses "perbuffer" or "onopen".
func ParseFetchMode(s string) (FetchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "perbuffer", "per_buffer":
		return FetchPerBuffer, nil
	case "onopen", "on_open":
		return FetchOnOpen, nil
	default:
		return 0, fmt.Errorf("unknown fetch mode %q", s)
	}
}

// DeleteMode selects what DeleteFile does with the row.
type DeleteMode int

const (
	// DeleteActual removes the row.
	DeleteActual DeleteMode = iota
	// DeleteMark flags the row; DeleteMarkedDeleted removes it later.
	DeleteMark
)

func (m DeleteMode) String() string {
	if m == DeleteMark {
		return "mark"
	}
	return "actual"
}

// ParseDeleteMode parses "actual" or "mark".
func ParseDeleteMode(s string) (DeleteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "actual":
		return DeleteActual, nil
	case "mark", "markdeleted":
		return DeleteMark, nil
	default:
		return 0, fmt.Errorf("unknown delete mode %q", s)
	}
}

// FileConfig configures the streams and storage of one file type.
type FileConfig struct {
	store.BufferConfig
	FetchMode  FetchMode
	DeleteMode DeleteMode
	// Codec compresses the payload as one block. A compressed file is held
	// on the heap in full when it is written and while an input is open, so
	// spilling does not bound its memory. The write is charged against the
	// directory's memory budget and fails once the budget is exhausted.
	// Reserve codecs for small file types.
	Codec codec.Codec
}

// DefaultFileConfig returns the configuration used for unmatched files.
func DefaultFileConfig() FileConfig {
	return FileConfig{BufferConfig: store.DefaultBufferConfig()}
}

func (c FileConfig) normalize() FileConfig {
	c.BufferConfig = c.BufferConfig.WithDefaults()
	// Compressed payloads cannot be range-read.
	if c.Codec != codec.None {
		c.FetchMode = FetchOnOpen
	}
	return c
}

type fileRule struct {
	pattern string
	cfg     FileConfig
}

// FileConfigs maps file names to FileConfig by doublestar glob.
// The longest matching pattern wins.
type FileConfigs struct {
	def   FileConfig
	rules []fileRule
}

// NewFileConfigs returns configs that yield def for every file.
func NewFileConfigs(def FileConfig) *FileConfigs {
	return &FileConfigs{def: def.normalize()}
}

// Default returns the configuration of unmatched files.
func (c *FileConfigs) Default() FileConfig { return c.def }

// Add registers cfg for files matching pattern.
func (c *FileConfigs) Add(pattern string, cfg FileConfig) error {
	if _, err := doublestar.Match(pattern, ""); err != nil {
		return config.Errorf(config.KeyFiles, "invalid file pattern").WithValue(pattern).WithCause(err)
	}
	c.rules = append(c.rules, fileRule{pattern: pattern, cfg: cfg.normalize()})
	sort.SliceStable(c.rules, func(i, j int) bool {
		return len(c.rules[i].pattern) > len(c.rules[j].pattern)
	})
	return nil
}

// For returns the configuration of the named file.
func (c *FileConfigs) For(name string) FileConfig {
	for _, r := range c.rules {
		if ok, _ := doublestar.Match(r.pattern, name); ok {
			return r.cfg
		}
	}
	return c.def
}

// FileConfigsFromSettings reads the default configuration from the store.*
// keys and per-pattern overrides from store.files.<pattern>.<field>.
func FileConfigsFromSettings(s *config.Settings) (*FileConfigs, error) {
	def, err := fileConfigFrom(s.Sub("store"), DefaultFileConfig(), "store.")
	if err != nil {
		return nil, err
	}
	configs := NewFileConfigs(def)

	byPattern := map[string]*config.Settings{}
	files := s.Sub(config.KeyFiles)
	for _, key := range files.Keys() {
		i := strings.LastIndexByte(key, '.')
		if i <= 0 {
			return nil, config.Errorf(config.KeyFiles+"."+key, "expected <pattern>.<field>")
		}
		pattern, field := key[:i], key[i+1:]
		if byPattern[pattern] == nil {
			byPattern[pattern] = config.New()
		}
		v, _ := files.Get(key)
		byPattern[pattern].Set(field, v)
	}
	patterns := make([]string, 0, len(byPattern))
	for p := range byPattern {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		cfg, err := fileConfigFrom(byPattern[pattern], configs.def, config.KeyFiles+"."+pattern+".")
		if err != nil {
			return nil, err
		}
		if err := configs.Add(pattern, cfg); err != nil {
			return nil, err
		}
	}
	return configs, nil
}

// fileConfigFrom overlays the fields present in s onto base. prefix is only
// used to name keys in errors.
func fileConfigFrom(s *config.Settings, base FileConfig, prefix string) (FileConfig, error) {
	cfg := base
	size, err := s.GetBytes("bufferSize", 0)
	if err != nil {
		return cfg, qualify(err, prefix)
	}
	if size > 0 {
		cfg.InputBufferSize, cfg.OutputBufferSize = int(size), int(size)
	}
	in, err := s.GetBytes("inputBufferSize", int64(cfg.InputBufferSize))
	if err != nil {
		return cfg, qualify(err, prefix)
	}
	out, err := s.GetBytes("outputBufferSize", int64(cfg.OutputBufferSize))
	if err != nil {
		return cfg, qualify(err, prefix)
	}
	cfg.InputBufferSize, cfg.OutputBufferSize = int(in), int(out)
	if cfg.SpillThreshold, err = s.GetBytes("spillThreshold", cfg.SpillThreshold); err != nil {
		return cfg, qualify(err, prefix)
	}

	parse := func(field string, fn func(string) error) error {
		v, ok := s.Get(field)
		if !ok {
			return nil
		}
		if err := fn(v); err != nil {
			return config.Errorf(prefix+field, "invalid value").WithValue(v).WithCause(err)
		}
		return nil
	}
	if err := parse("outputMode", func(v string) (err error) {
		cfg.OutputMode, err = store.ParseOutputMode(v)
		return err
	}); err != nil {
		return cfg, err
	}
	if err := parse("fetchMode", func(v string) (err error) {
		cfg.FetchMode, err = ParseFetchMode(v)
		return err
	}); err != nil {
		return cfg, err
	}
	if err := parse("deleteMode", func(v string) (err error) {
		cfg.DeleteMode, err = ParseDeleteMode(v)
		return err
	}); err != nil {
		return cfg, err
	}
	if err := parse("codec", func(v string) (err error) {
		cfg.Codec, err = codec.ByName(v)
		return err
	}); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func qualify(err error, prefix string) error {
	var cerr *config.Error
	if errors.As(err, &cerr) {
		cerr.Key = prefix + cerr.Key
	}
	return err
}
