// Package codec compresses whole file payloads for file types that are
// stored compressed.
//
// Changing the codec of a file type is a breaking change: payloads written
// with one codec are not readable with another.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression algorithm.
type Codec uint8

const (
	// None stores payloads as-is.
	None Codec = 0
	// LZ4 is fast block compression, good for hot data.
	LZ4 Codec = 1
	// Zstd has the better ratio, good for cold data.
	Zstd Codec = 2
)

// ErrCorrupt is returned when a compressed payload cannot be decoded.
var ErrCorrupt = errors.New("codec: corrupt payload")

// Header: [UncompressedSize uint64][CompressedSize uint64][Data...]
// CompressedSize == 0 means the data is stored raw.
const headerSize = 16

// ByName returns a codec by its configuration name.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown codec %q", name)
	}
}

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode compresses data. None returns data unchanged. Payloads that do not
// shrink by at least 10% are stored raw behind the header.
func (c Codec) Encode(data []byte) ([]byte, error) {
	var compressed []byte
	switch c {
	case None:
		return data, nil
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case Zstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown codec %d", c)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		compressed = nil
	}
	out := make([]byte, headerSize, headerSize+max(len(compressed), len(data)))
	binary.LittleEndian.PutUint64(out[0:], uint64(len(data)))
	binary.LittleEndian.PutUint64(out[8:], uint64(len(compressed)))
	if compressed == nil {
		return append(out, data...), nil
	}
	return append(out, compressed...), nil
}

// Decode reverses Encode.
func (c Codec) Decode(payload []byte) ([]byte, error) {
	if c == None {
		return payload, nil
	}
	if len(payload) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(payload))
	}
	size := binary.LittleEndian.Uint64(payload[0:])
	compressedSize := binary.LittleEndian.Uint64(payload[8:])
	body := payload[headerSize:]

	if compressedSize == 0 {
		if uint64(len(body)) < size {
			return nil, fmt.Errorf("%w: raw body truncated", ErrCorrupt)
		}
		return body[:size], nil
	}
	if uint64(len(body)) < compressedSize {
		return nil, fmt.Errorf("%w: compressed body truncated", ErrCorrupt)
	}
	body = body[:compressedSize]
	result := make([]byte, size)

	switch c {
	case LZ4:
		n, err := lz4.UncompressBlock(body, result)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint64(n) != size {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return result, nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(body, result[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint64(len(decoded)) != size {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unknown codec %d", c)
	}
}
