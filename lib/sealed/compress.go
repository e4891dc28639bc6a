// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the payload compression recorded in an envelope's
// protected header. The values are wire constants.
type Compression string

const (
	// CompressionNone stores the payload as-is.
	CompressionNone Compression = ""

	// CompressionZstd applies zstd at the default level. Best ratio
	// for the JSON payloads vault documents carry.
	CompressionZstd Compression = "zstd"

	// CompressionLZ4 applies LZ4 block compression, prefixed with the
	// uncompressed length as a uvarint.
	CompressionLZ4 Compression = "lz4"
)

// maxPlaintextSize bounds decompressed payloads so a hostile envelope
// cannot claim an unbounded uncompressed size.
const maxPlaintextSize = 64 << 20

// errIncompressible reports that compression would not shrink the
// payload. The envelope is then written uncompressed.
var errIncompressible = errors.New("sealed: payload is incompressible")

// ParseCompression parses a compression name. "none" and the empty
// string both mean no compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case string(CompressionZstd):
		return CompressionZstd, nil
	case string(CompressionLZ4):
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("sealed: unknown compression %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("sealed: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPlaintextSize))
	if err != nil {
		panic("sealed: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns data compressed with algorithm and the algorithm
// actually applied, which is CompressionNone when the payload does not
// shrink.
func compress(data []byte, algorithm Compression) ([]byte, Compression, error) {
	var (
		compressed []byte
		err        error
	)
	switch algorithm {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			err = errIncompressible
		}
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	default:
		return nil, "", fmt.Errorf("sealed: unsupported compression %q", algorithm)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, "", err
	}
	return compressed, algorithm, nil
}

func decompress(data []byte, algorithm Compression) ([]byte, error) {
	switch algorithm {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		plaintext, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("sealed: zstd decompress: %w", err)
		}
		return plaintext, nil
	case CompressionLZ4:
		return decompressLZ4(data)
	default:
		return nil, fmt.Errorf("sealed: unsupported compression %q", algorithm)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, binary.MaxVarintLen64+lz4.CompressBlockBound(len(data)))
	prefix := binary.PutUvarint(destination, uint64(len(data)))

	written, err := lz4.CompressBlock(data, destination[prefix:], nil)
	if err != nil {
		return nil, fmt.Errorf("sealed: lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || prefix+written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:prefix+written], nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	size, prefix := binary.Uvarint(data)
	if prefix <= 0 {
		return nil, fmt.Errorf("sealed: lz4 payload has no length prefix")
	}
	if size > maxPlaintextSize {
		return nil, fmt.Errorf("sealed: lz4 payload claims %d bytes, limit is %d", size, maxPlaintextSize)
	}
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(data[prefix:], destination)
	if err != nil {
		return nil, fmt.Errorf("sealed: lz4 decompress: %w", err)
	}
	if uint64(read) != size {
		return nil, fmt.Errorf("sealed: lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}
