package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqldir/config"
	"github.com/hupe1980/sqldir/internal/codec"
	"github.com/hupe1980/sqldir/store"
)

func TestFileConfigs_LongestPatternWins(t *testing.T) {
	configs := NewFileConfigs(DefaultFileConfig())

	cfs := DefaultFileConfig()
	cfs.Codec = codec.LZ4
	require.NoError(t, configs.Add("*.cfs", cfs))

	first := DefaultFileConfig()
	first.DeleteMode = DeleteMark
	require.NoError(t, configs.Add("_0.cfs", first))

	assert.Equal(t, DeleteMark, configs.For("_0.cfs").DeleteMode)
	assert.Equal(t, codec.None, configs.For("_0.cfs").Codec)
	assert.Equal(t, codec.LZ4, configs.For("_1.cfs").Codec)
	assert.Equal(t, FetchOnOpen, configs.For("_1.cfs").FetchMode, "compressed files are fetched whole")
	assert.Equal(t, configs.Default(), configs.For("segments_1"))
}

func TestFileConfigsFromSettings(t *testing.T) {
	s := config.FromMap(map[string]string{
		"store.bufferSize":                  "4KB",
		"store.spillThreshold":              "2MB",
		"store.fetchMode":                   "onOpen",
		"store.files.*.cfs.codec":           "zstd",
		"store.files.*.cfs.deleteMode":      "mark",
		"store.files.segments_*.outputMode": "ram",
		"store.files.*.fdt.inputBufferSize": "64KB",
	})
	configs, err := FileConfigsFromSettings(s)
	require.NoError(t, err)

	def := configs.Default()
	assert.Equal(t, 4096, def.InputBufferSize)
	assert.Equal(t, 4096, def.OutputBufferSize)
	assert.Equal(t, int64(2<<20), def.SpillThreshold)
	assert.Equal(t, FetchOnOpen, def.FetchMode)

	cfs := configs.For("_3.cfs")
	assert.Equal(t, codec.Zstd, cfs.Codec)
	assert.Equal(t, DeleteMark, cfs.DeleteMode)
	assert.Equal(t, 4096, cfs.OutputBufferSize, "overrides inherit the defaults")

	assert.Equal(t, store.RAMOnly, configs.For("segments_7").OutputMode)
	assert.Equal(t, 64<<10, configs.For("_3.fdt").InputBufferSize)
	assert.Equal(t, 4096, configs.For("_3.fdt").OutputBufferSize)
}

func TestFileConfigsFromSettings_Invalid(t *testing.T) {
	for name, kv := range map[string][2]string{
		"codec":      {"store.files.*.cfs.codec", "snappy"},
		"bufferSize": {"store.bufferSize", "lots"},
		"fetchMode":  {"store.fetchMode", "sometimes"},
		"noField":    {"store.files.cfs", "x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FileConfigsFromSettings(config.New().Set(kv[0], kv[1]))
			require.ErrorIs(t, err, config.ErrConfiguration)

			var cerr *config.Error
			require.ErrorAs(t, err, &cerr)
			assert.Contains(t, cerr.Key, "store.")
		})
	}
}

func TestParseModes(t *testing.T) {
	m, err := ParseFetchMode("PerBuffer")
	require.NoError(t, err)
	assert.Equal(t, FetchPerBuffer, m)

	d, err := ParseDeleteMode("actual")
	require.NoError(t, err)
	assert.Equal(t, DeleteActual, d)

	_, err = ParseDeleteMode("later")
	assert.Error(t, err)
}
