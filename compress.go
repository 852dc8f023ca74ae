package telemdb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

type CompressAlgorithm uint8

const (
	CompSnappy CompressAlgorithm = iota // default
	CompNone
	CompLz4
	CompZstd
	CompGzip
)

func (a CompressAlgorithm) String() string {
	switch a {
	case CompSnappy:
		return "snappy"
	case CompNone:
		return "none"
	case CompLz4:
		return "lz4"
	case CompZstd:
		return "zstd"
	case CompGzip:
		return "gzip"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseCompressAlgorithm parses the String form of a CompressAlgorithm.
func ParseCompressAlgorithm(name string) (CompressAlgorithm, error) {
	for _, a := range []CompressAlgorithm{CompSnappy, CompNone, CompLz4, CompZstd, CompGzip} {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "unknown compression %q", name)
}

type Compressor func([]byte) ([]byte, error)
type DeCompressor func([]byte) ([]byte, error)

var (
	SnappyCompress Compressor = func(in []byte) ([]byte, error) {
		return snappy.Encode(nil, in), nil
	}
	SnappyDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	Lz4Compress Compressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			return nil, errors.Wrap(err, "lz4 write")
		}
		if err := writer.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4 close")
		}
		return buf.Bytes(), nil
	}

	Lz4DeCompress DeCompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use of EncodeAll / DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic("zstd encoder: " + err.Error())
	}
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic("zstd decoder: " + err.Error())
	}
}

var (
	ZstdCompress Compressor = func(in []byte) ([]byte, error) {
		return zstdEncoder.EncodeAll(in, nil), nil
	}
	ZstdDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return zstdDecoder.DecodeAll(in, nil)
	}
)

var (
	GzipCompress Compressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		writer := gzip.NewWriter(buf)
		if _, err := writer.Write(in); err != nil {
			return nil, errors.Wrap(err, "gzip write")
		}
		if err := writer.Close(); err != nil {
			return nil, errors.Wrap(err, "gzip close")
		}
		return buf.Bytes(), nil
	}
	GzipDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		reader, err := gzip.NewReader(bytes.NewReader(in))
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	}
)

var (
	noneCompress   Compressor   = func(in []byte) ([]byte, error) { return in, nil }
	noneDeCompress DeCompressor = func(in []byte) ([]byte, error) { return in, nil }
)

// Codec returns the Compressor and DeCompressor of the algorithm.
func (a CompressAlgorithm) Codec() (Compressor, DeCompressor, error) {
	switch a {
	case CompSnappy:
		return SnappyCompress, SnappyDeCompress, nil
	case CompNone:
		return noneCompress, noneDeCompress, nil
	case CompLz4:
		return Lz4Compress, Lz4DeCompress, nil
	case CompZstd:
		return ZstdCompress, ZstdDeCompress, nil
	case CompGzip:
		return GzipCompress, GzipDeCompress, nil
	default:
		return nil, nil, errors.Wrapf(ErrInvalidArgument, "unsupported compression %s", a)
	}
}
