package telemdb

import (
	"context"
	"encoding/base64"

	"github.com/pkg/errors"
)

// CompressingStore compresses values written to, and decompresses values read
// from, an inner Store. A stored value is the standard base64 encoding of the
// algorithm tag byte followed by the compressed bytes, so values stay valid
// strings for any backend and record which algorithm wrote them.
type CompressingStore struct {
	Store
	algo     CompressAlgorithm
	compress Compressor
}

func NewCompressingStore(inner Store, algo CompressAlgorithm) (*CompressingStore, error) {
	compress, _, err := algo.Codec()
	if err != nil {
		return nil, err
	}
	return &CompressingStore{Store: inner, algo: algo, compress: compress}, nil
}

func (s *CompressingStore) Inner() Store { return s.Store }

func (s *CompressingStore) Read(ctx context.Context, key Key) (string, error) {
	value, err := s.Store.Read(ctx, key)
	if err != nil {
		return "", err
	}
	return DecodeCompressed(value)
}

func (s *CompressingStore) Write(ctx context.Context, key Key, value string) error {
	encoded, err := EncodeCompressed(s.algo, s.compress, value)
	if err != nil {
		return storeErr("write", key, err)
	}
	return s.Store.Write(ctx, key, encoded)
}

// EncodeCompressed compresses value with compress and returns its
// base64 text encoding tagged with algo.
func EncodeCompressed(algo CompressAlgorithm, compress Compressor, value string) (string, error) {
	body := []byte(value)
	if len(body) == 0 {
		algo, compress = CompNone, noneCompress
	}
	out, err := compress(body)
	if err != nil {
		return "", errors.Wrapf(err, "compressing with %s", algo)
	}
	tagged := make([]byte, 1+len(out))
	tagged[0] = byte(algo)
	copy(tagged[1:], out)
	return base64.StdEncoding.EncodeToString(tagged), nil
}

// DecodeCompressed reverses EncodeCompressed, using the algorithm recorded
// in the encoded value.
func DecodeCompressed(encoded string) (string, error) {
	tagged, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", formatErr(err, "compressed value is not base64")
	} else if len(tagged) == 0 {
		return "", formatErr(nil, "compressed value has no algorithm tag")
	}
	algo := CompressAlgorithm(tagged[0])

	_, decompress, err := algo.Codec()
	if err != nil {
		return "", formatErr(err, "compressed value tag")
	}
	out, err := decompress(tagged[1:])
	if err != nil {
		return "", formatErr(err, "decompressing with %s", algo)
	}
	return string(out), nil
}
