package config

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Settings is a flat set of dotted configuration keys.
//
// Nested configuration (YAML documents, per-file-type overrides) is flattened
// into keys such as "retention.numToKeep" or "store.files.*.cfs.codec".
// Settings is not safe for concurrent mutation; build it once and share it
// read-only.
type Settings struct {
	values map[string]string
}

// New creates an empty Settings.
func New() *Settings {
	return &Settings{values: make(map[string]string)}
}

// FromMap creates Settings from a flat key/value map.
func FromMap(m map[string]string) *Settings {
	s := New()
	maps.Copy(s.values, m)
	return s
}

// Set stores value under key and returns s for chaining.
func (s *Settings) Set(key, value string) *Settings {
	s.values[key] = value
	return s
}

// Get returns the raw value for key.
func (s *Settings) Get(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is set.
func (s *Settings) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Len returns the number of keys.
func (s *Settings) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

// Keys returns all keys in sorted order.
func (s *Settings) Keys() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.values))
}

// Clone returns an independent copy.
func (s *Settings) Clone() *Settings {
	c := New()
	if s != nil {
		maps.Copy(c.values, s.values)
	}
	return c
}

// Merge returns a copy of s overlaid with every key of other.
func (s *Settings) Merge(other *Settings) *Settings {
	c := s.Clone()
	if other != nil {
		maps.Copy(c.values, other.values)
	}
	return c
}

// Sub returns the keys below prefix with the prefix (and its dot) stripped.
func (s *Settings) Sub(prefix string) *Settings {
	sub := New()
	if s == nil {
		return sub
	}
	p := strings.TrimSuffix(prefix, ".") + "."
	for k, v := range s.values {
		if rest, ok := strings.CutPrefix(k, p); ok && rest != "" {
			sub.values[rest] = v
		}
	}
	return sub
}

// GetString returns the value for key or def.
func (s *Settings) GetString(key, def string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// GetInt returns key parsed as int, def if unset.
func (s *Settings) GetInt(key string, def int) (int, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, Errorf(key, "not an integer").WithValue(v).WithCause(err)
	}
	return n, nil
}

// GetInt64 returns key parsed as int64, def if unset.
func (s *Settings) GetInt64(key string, def int64) (int64, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, Errorf(key, "not an integer").WithValue(v).WithCause(err)
	}
	return n, nil
}

// GetFloat returns key parsed as float64, def if unset.
func (s *Settings) GetFloat(key string, def float64) (float64, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, Errorf(key, "not a number").WithValue(v).WithCause(err)
	}
	return f, nil
}

// GetBool returns key parsed as bool, def if unset.
func (s *Settings) GetBool(key string, def bool) (bool, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, Errorf(key, "not a boolean").WithValue(v).WithCause(err)
	}
	return b, nil
}

// GetDuration returns key parsed as a duration, def if unset.
// Plain integers are read as seconds.
func (s *Settings) GetDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, Errorf(key, "not a duration").WithValue(v).WithCause(err)
	}
	return d, nil
}

// GetBytes returns key parsed as a byte size, def if unset.
// Accepted suffixes are KB, MB and GB (powers of 1024); plain integers are bytes.
func (s *Settings) GetBytes(key string, def int64) (int64, error) {
	v, ok := s.Get(key)
	if !ok {
		return def, nil
	}
	n, err := parseBytes(v)
	if err != nil {
		return 0, Errorf(key, "not a byte size").WithValue(v).WithCause(err)
	}
	return n, nil
}

func parseBytes(v string) (int64, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if rest, ok := strings.CutSuffix(v, u.suffix); ok {
			v, mult = strings.TrimSpace(rest), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
