// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm used for a stored
// transcript. The value is written into the file header (1 byte), so
// these are format constants.
type Codec uint8

const (
	// CodecNone stores the transcript uncompressed. Also the fallback
	// when compression does not shrink the data.
	CodecNone Codec = 0

	// CodecLZ4 uses LZ4 block compression. Fast with a modest ratio.
	CodecLZ4 Codec = 1

	// CodecZstd uses zstd at the default level. Best ratio for HTML
	// transcripts and the default choice.
	CodecZstd Codec = 2
)

// String returns the codec's configuration name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec from its configuration name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression codec: %q", name)
	}
}

// zstdEncoder and zstdDecoder are reused across calls. Both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// compress compresses data with the given codec. Returns the possibly
// smaller payload and the codec actually used: incompressible data
// falls back to CodecNone rather than growing.
func compress(data []byte, codec Codec) ([]byte, Codec, error) {
	switch codec {
	case CodecNone:
		return data, CodecNone, nil

	case CodecLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return data, CodecNone, nil
		}
		return destination[:written], CodecLZ4, nil

	case CodecZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return data, CodecNone, nil
		}
		return compressed, CodecZstd, nil

	default:
		return nil, 0, fmt.Errorf("unsupported compression codec: %d", codec)
	}
}

// decompress reverses compress. The uncompressed size comes from the
// file header and must match exactly.
func decompress(payload []byte, codec Codec, uncompressedSize int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(payload) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d",
				len(payload), uncompressedSize)
		}
		return payload, nil

	case CodecLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil

	case CodecZstd:
		result, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression codec: %d", codec)
	}
}
