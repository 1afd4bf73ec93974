package retention

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
	NameKeepAll        = "keepall"
	NameKeepLastN      = "keeplastn"
	NameKeepNoneOnInit = "keepnoneoninit"
	NameExpirationTime = "expirationtime"
	NameKeepLastCommit = "keeplastcommit"
)

// Settings keys read below the retention prefix.
const (
	KeyType                    = "type"
	KeyNumToKeep               = "numToKeep"
	KeyExpirationTimeInSeconds = "expirationTimeInSeconds"
)

// Factory builds a policy from the retention settings (keys without the
// "retention." prefix).
type Factory func(s *config.Settings) (Policy, error)

// Suggestion is the policy a backend prefers when none is configured.
// Settings pre-populate the policy parameters; configured keys win.
type Suggestion struct {
	Type     string
	Settings map[string]string
}

// Suggester is implemented by directories that prefer a retention policy.
type Suggester interface {
	SuggestRetention() Suggestion
}

// Registry maps policy names to factories. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a new registry holding the built-in policies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameKeepAll, func(*config.Settings) (Policy, error) { return KeepAll{}, nil })
	r.Register(NameKeepLastCommit, func(*config.Settings) (Policy, error) { return KeepLastCommit{}, nil })
	r.Register(NameKeepNoneOnInit, func(*config.Settings) (Policy, error) { return KeepNoneOnInit{}, nil })
	r.Register(NameKeepLastN, newKeepLastN)
	r.Register(NameExpirationTime, newExpirationTime)
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

// New resolves the policy for s. The type is taken from s, then from the
// suggestion, then defaults to keeplastcommit. An unknown type or invalid
// parameter is a configuration error.
func (r *Registry) New(s *config.Settings, suggested Suggestion) (Policy, error) {
	name := strings.TrimSpace(s.GetString(KeyType, ""))
	params := s
	if name == "" {
		name = suggested.Type
		params = config.FromMap(suggested.Settings).Merge(s)
	}
	if name == "" {
		name = NameKeepLastCommit
	}

	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, config.Errorf(config.KeyRetention+"."+KeyType, "unknown retention policy").WithValue(name)
	}
	p, err := f(params)
	if err != nil {
		return nil, qualify(err)
	}
	return p, nil
}

func newKeepLastN(s *config.Settings) (Policy, error) {
	n, err := s.GetInt(KeyNumToKeep, 1)
	if err != nil {
		return nil, err
	}
	p, err := NewKeepLastN(n)
	if err != nil {
		return nil, config.Errorf(KeyNumToKeep, "invalid value").WithValue(s.GetString(KeyNumToKeep, "")).WithCause(err)
	}
	return p, nil
}

func newExpirationTime(s *config.Settings) (Policy, error) {
	if !s.Has(KeyExpirationTimeInSeconds) {
		return nil, config.Errorf(KeyExpirationTimeInSeconds, "required by %s", NameExpirationTime)
	}
	ttl, err := s.GetDuration(KeyExpirationTimeInSeconds, 0)
	if err != nil {
		return nil, err
	}
	p, err := NewExpirationTime(ttl)
	if err != nil {
		return nil, config.Errorf(KeyExpirationTimeInSeconds, "invalid value").WithValue(s.GetString(KeyExpirationTimeInSeconds, "")).WithCause(err)
	}
	return p, nil
}

// qualify prefixes the key of a configuration error with "retention.".
// Errors that are not configuration errors become one.
func qualify(err error) error {
	var cerr *config.Error
	if !errors.As(err, &cerr) {
		return config.Errorf(config.KeyRetention, "invalid policy").WithCause(err)
	}
	if !strings.HasPrefix(cerr.Key, config.KeyRetention+".") {
		cerr.Key = config.KeyRetention + "." + cerr.Key
	}
	return err
}
