package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqldir/config"
)

func TestRegistry_BuiltinOverrides(t *testing.T) {
	reg := DefaultRegistry()

	p, err := reg.New(config.FromMap(map[string]string{
		KeyType:         "LogByteSize",
		KeyMaxMergeMB:   "512",
		KeyMinMergeMB:   "2.5",
		KeyMergeFactor:  "7",
		KeyMaxMergeDocs: "100000",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, &LogByteSize{MergeFactor: 7, MinMergeMB: 2.5, MaxMergeMB: 512, MaxMergeDocs: 100000}, p)

	p, err = reg.New(config.FromMap(map[string]string{
		KeyType:         "logdoc",
		KeyMinMergeDocs: "50",
		KeyMaxMergeDocs: "5000",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, &LogDoc{MergeFactor: 10, MinMergeDocs: 50, MaxMergeDocs: 5000}, p)

	p, err = reg.New(config.FromMap(map[string]string{KeyType: "tiered", KeySegmentsPerTier: "4"}), nil)
	require.NoError(t, err)
	assert.Equal(t, &Tiered{SegmentsPerTier: 4, MaxMergeMB: 2048}, p)

	p, err = reg.New(config.FromMap(map[string]string{KeyType: "leveled", KeyBaseMB: "64", KeyMaxLevels: "5"}), nil)
	require.NoError(t, err)
	assert.Equal(t, &Leveled{L0Threshold: 4, LevelRatio: 10, BaseMB: 64, MaxLevels: 5}, p)
}

func TestRegistry_DefaultsAndOverrides(t *testing.T) {
	reg := DefaultRegistry()

	p, err := reg.New(config.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, NewLogByteSize(), p)

	defaults := Defaults{KeyMaxMergeMB: "256", KeyMergeFactor: "5"}
	p, err = reg.New(config.New(), defaults)
	require.NoError(t, err)
	assert.Equal(t, 256.0, p.(*LogByteSize).MaxMergeMB)
	assert.Equal(t, 5, p.(*LogByteSize).MergeFactor)

	p, err = reg.New(config.New().Set(KeyMaxMergeMB, "1024"), defaults)
	require.NoError(t, err)
	assert.Equal(t, 1024.0, p.(*LogByteSize).MaxMergeMB, "explicit settings win")
	assert.Equal(t, 5, p.(*LogByteSize).MergeFactor)

	p, err = reg.New(config.New(), Defaults{KeyType: NameTiered})
	require.NoError(t, err)
	assert.IsType(t, &Tiered{}, p)
}

func TestRegistry_ConfigurationErrors(t *testing.T) {
	reg := DefaultRegistry()
	tests := map[string]struct {
		settings map[string]string
		key      string
	}{
		"unknown":            {map[string]string{KeyType: "balanced"}, "merge.type"},
		"not a number":       {map[string]string{KeyMaxMergeMB: "big"}, "merge.maxMergeMB"},
		"factor too small":   {map[string]string{KeyMergeFactor: "1"}, "merge"},
		"negative docs":      {map[string]string{KeyType: "logdoc", KeyMaxMergeDocs: "-1"}, "merge"},
		"tier too small":     {map[string]string{KeyType: "tiered", KeySegmentsPerTier: "1"}, "merge"},
		"levels not integer": {map[string]string{KeyType: "leveled", KeyMaxLevels: "x"}, "merge.maxLevels"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := reg.New(config.FromMap(tt.settings), nil)
			require.ErrorIs(t, err, config.ErrConfiguration)

			var cerr *config.Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.key, cerr.Key)
		})
	}
}

type everything struct {
	threshold int
}

func (p *everything) FindMerges(segments []SegmentInfo) *Specification {
	if len(segments) < p.threshold {
		return nil
	}
	return &Specification{Merges: []OneMerge{{Segments: segments}}}
}

func (p *everything) Configure(s *config.Settings) error {
	n, err := s.GetInt("threshold", 2)
	if err != nil {
		return err
	}
	if n < 1 {
		return errors.New("threshold must be positive")
	}
	p.threshold = n
	return nil
}

func TestRegistry_Pluggable(t *testing.T) {
	reg := DefaultRegistry()
	reg.Register("Everything", func() Policy { return &everything{} })
	assert.Equal(t, []string{"everything", NameLeveled, NameLogByteSize, NameLogDoc, NameTiered}, reg.Names())

	p, err := reg.New(config.FromMap(map[string]string{KeyType: "everything", "threshold": "3"}), nil)
	require.NoError(t, err)
	assert.Equal(t, &everything{threshold: 3}, p)

	_, err = reg.New(config.FromMap(map[string]string{KeyType: "everything", "threshold": "0"}), nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)

	// Built-ins resolve before pluggables of the same name.
	reg.Register(NameTiered, func() Policy { return &everything{} })
	p, err = reg.New(config.New().Set(KeyType, NameTiered), nil)
	require.NoError(t, err)
	assert.IsType(t, &Tiered{}, p)

	_, err = DefaultRegistry().New(config.New().Set(KeyType, "everything"), nil)
	assert.ErrorIs(t, err, config.ErrConfiguration, "registries are independent")
}
