package persist

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how the vector payload is stored.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

const (
	codecByteNone byte = 0
	codecByteLZ4  byte = 1
	codecByteZstd byte = 2
)

// ParseCodec maps a config value to a Codec. An empty value means none.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecZstd, CodecLZ4:
		return Codec(s), nil
	default:
		return "", fmt.Errorf("unknown codec: %s (supported: none, zstd, lz4)", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxRawBytes))
}

// lz4MaxRatio is the best ratio an lz4 block can reach.
const lz4MaxRatio = 255

// checkRatio rejects headers whose decoded size cannot come from a payload of the stored size.
func checkRatio(codec byte, rawLen, payloadLen uint64) error {
	switch codec {
	case codecByteNone:
		if rawLen != payloadLen {
			return fmt.Errorf("payload is %d bytes, expected %d", payloadLen, rawLen)
		}
	case codecByteLZ4:
		if rawLen > payloadLen*lz4MaxRatio+lz4MaxRatio {
			return fmt.Errorf("lz4 payload of %d bytes cannot hold %d", payloadLen, rawLen)
		}
	}
	return nil
}

// compress returns the stored payload and the codec byte actually used.
// Incompressible lz4 input falls back to raw storage.
func compress(raw []byte, codec Codec) ([]byte, byte, error) {
	if len(raw) == 0 {
		return raw, codecByteNone, nil
	}
	switch codec {
	case CodecZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, 0, fmt.Errorf("zstd encoder: %w", err)
		}
		out := enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
		zstdEncoderPool.Put(enc)
		return out, codecByteZstd, nil
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return raw, codecByteNone, nil
		}
		return buf[:n], codecByteLZ4, nil
	default:
		return raw, codecByteNone, nil
	}
}

func decompress(stored []byte, codec byte, rawLen int) ([]byte, error) {
	switch codec {
	case codecByteNone:
		if len(stored) != rawLen {
			return nil, fmt.Errorf("payload is %d bytes, expected %d", len(stored), rawLen)
		}
		return stored, nil
	case codecByteZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, make([]byte, 0, min(rawLen, len(stored)*8)))
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("decoded %d bytes, expected %d", len(out), rawLen)
		}
		return out, nil
	case codecByteLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decode: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("decoded %d bytes, expected %d", n, rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown codec byte %d", codec)
	}
}
