package merge

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/sqldir/config"
)

// Built-in policy names.
const (
	NameLogByteSize = "logbytesize"
	NameLogDoc      = "logdoc"
	NameTiered      = "tiered"
	NameLeveled     = "leveled"
)

// Settings keys read below the merge prefix.
const (
	KeyType            = "type"
	KeyMergeFactor     = "mergeFactor"
	KeyMinMergeMB      = "minMergeMB"
	KeyMaxMergeMB      = "maxMergeMB"
	KeyMinMergeDocs    = "minMergeDocs"
	KeyMaxMergeDocs    = "maxMergeDocs"
	KeySegmentsPerTier = "segmentsPerTier"
	KeyL0Threshold     = "l0Threshold"
	KeyLevelRatio      = "levelRatio"
	KeyBaseMB          = "baseMB"
	KeyMaxLevels       = "maxLevels"
)

// Defaults are backend-provided settings applied below the configured ones.
// They may include KeyType.
type Defaults map[string]string

// Suggester is implemented by directories that contribute merge defaults.
type Suggester interface {
	MergeDefaults() Defaults
}

// Configurable is implemented by pluggable policies that read settings.
type Configurable interface {
	Configure(s *config.Settings) error
}

type factory func(s *config.Settings) (Policy, error)

// Registry resolves merge policies by name: built-in algorithms first, then
// registered pluggable constructors. Names are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]factory
	plugins  map[string]func() Policy
}

// NewRegistry returns a registry without built-in policies.
func NewRegistry() *Registry {
	return &Registry{
		builtins: make(map[string]factory),
		plugins:  make(map[string]func() Policy),
	}
}

// DefaultRegistry returns a new registry holding the built-in policies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.builtins[NameLogByteSize] = newLogByteSize
	r.builtins[NameLogDoc] = newLogDoc
	r.builtins[NameTiered] = newTiered
	r.builtins[NameLeveled] = newLeveled
	return r
}

// Register adds a pluggable policy. If the value returned by ctor implements
// Configurable it receives the merge settings. Built-in names cannot be
// shadowed.
func (r *Registry) Register(name string, ctor func() Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[strings.ToLower(name)] = ctor
}

// Names returns every resolvable name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Collect(maps.Keys(r.builtins))
	for name := range r.plugins {
		if _, ok := r.builtins[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// New resolves the policy configured in s (keys without the "merge."
// prefix) on top of defaults. Without a type, logbytesize is used. Unknown
// names and invalid values are configuration errors.
func (r *Registry) New(s *config.Settings, defaults Defaults) (Policy, error) {
	s = config.FromMap(defaults).Merge(s)
	name := strings.ToLower(strings.TrimSpace(s.GetString(KeyType, NameLogByteSize)))

	r.mu.RLock()
	builtin, isBuiltin := r.builtins[name]
	plugin, isPlugin := r.plugins[name]
	r.mu.RUnlock()

	switch {
	case isBuiltin:
		p, err := builtin(s)
		if err != nil {
			return nil, qualify(err)
		}
		return p, nil
	case isPlugin:
		p := plugin()
		if c, ok := p.(Configurable); ok {
			if err := c.Configure(s); err != nil {
				return nil, qualify(err)
			}
		}
		return p, nil
	default:
		return nil, config.Errorf(config.KeyMerge+"."+KeyType, "unknown merge policy").WithValue(name)
	}
}

func newLogByteSize(s *config.Settings) (Policy, error) {
	p := NewLogByteSize()
	var err error
	if p.MergeFactor, err = s.GetInt(KeyMergeFactor, p.MergeFactor); err != nil {
		return nil, err
	}
	if p.MinMergeMB, err = s.GetFloat(KeyMinMergeMB, p.MinMergeMB); err != nil {
		return nil, err
	}
	if p.MaxMergeMB, err = s.GetFloat(KeyMaxMergeMB, p.MaxMergeMB); err != nil {
		return nil, err
	}
	if p.MaxMergeDocs, err = s.GetInt64(KeyMaxMergeDocs, p.MaxMergeDocs); err != nil {
		return nil, err
	}
	return p, p.validate()
}

func newLogDoc(s *config.Settings) (Policy, error) {
	p := NewLogDoc()
	var err error
	if p.MergeFactor, err = s.GetInt(KeyMergeFactor, p.MergeFactor); err != nil {
		return nil, err
	}
	if p.MinMergeDocs, err = s.GetInt64(KeyMinMergeDocs, p.MinMergeDocs); err != nil {
		return nil, err
	}
	if p.MaxMergeDocs, err = s.GetInt64(KeyMaxMergeDocs, p.MaxMergeDocs); err != nil {
		return nil, err
	}
	return p, p.validate()
}

func newTiered(s *config.Settings) (Policy, error) {
	p := NewTiered()
	var err error
	if p.SegmentsPerTier, err = s.GetInt(KeySegmentsPerTier, p.SegmentsPerTier); err != nil {
		return nil, err
	}
	if p.MaxMergeMB, err = s.GetFloat(KeyMaxMergeMB, p.MaxMergeMB); err != nil {
		return nil, err
	}
	return p, p.validate()
}

func newLeveled(s *config.Settings) (Policy, error) {
	p := NewLeveled()
	var err error
	if p.L0Threshold, err = s.GetInt(KeyL0Threshold, p.L0Threshold); err != nil {
		return nil, err
	}
	if p.LevelRatio, err = s.GetInt(KeyLevelRatio, p.LevelRatio); err != nil {
		return nil, err
	}
	if p.BaseMB, err = s.GetFloat(KeyBaseMB, p.BaseMB); err != nil {
		return nil, err
	}
	if p.MaxLevels, err = s.GetInt(KeyMaxLevels, p.MaxLevels); err != nil {
		return nil, err
	}
	return p, p.validate()
}

// qualify turns err into a configuration error keyed below "merge.".
func qualify(err error) error {
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		return config.Errorf(config.KeyMerge, "invalid merge policy").WithCause(err)
	}
	if !strings.HasPrefix(cerr.Key, config.KeyMerge+".") {
		cerr.Key = config.KeyMerge + "." + cerr.Key
	}
	return err
}
