package config

// Recognized keys.
const (
	KeyDialect                = "store.dialect"
	KeyTable                  = "store.table"
	KeyAutoCreate             = "store.autoCreate"
	KeyBufferSize             = "store.bufferSize"
	KeySpillThreshold         = "store.spillThreshold"
	KeyOutputMode             = "store.outputMode"
	KeyFetchMode              = "store.fetchMode"
	KeyDeleteMode             = "store.deleteMode"
	KeyCodec                  = "store.codec"
	KeyFiles                  = "store.files"
	KeyDeleteMarkDeletedDelta = "store.deleteMarkDeletedDelta"
	KeyBlockCacheBytes        = "store.blockCacheBytes"
	KeyMemoryLimitBytes       = "store.memoryLimitBytes"
	KeyIOLimitBytesPerSec     = "store.ioLimitBytesPerSec"

	KeyRetention = "retention"
	KeyMerge     = "merge"
)
