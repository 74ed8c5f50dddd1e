package memo

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"

	"github.com/golang/snappy"

	"github.com/goforj/memo/memocore"
)

// CompressionCodec represents a value compression algorithm.
type CompressionCodec = memocore.CompressionCodec

const (
	CompressionNone   = memocore.CompressionNone
	CompressionGzip   = memocore.CompressionGzip
	CompressionSnappy = memocore.CompressionSnappy
)

var (
	compressMagic = []byte("MCP1")

	ErrValueTooLarge      = errors.New("memo: value exceeds max size")
	ErrUnsupportedCodec   = errors.New("memo: unsupported compression codec")
	ErrCorruptCompression = errors.New("memo: corrupt compressed payload")
)

// Stored layout: magic, one codec byte ('g', 's' or 'n'), payload.
// Values without the magic prefix are returned untouched on read, so an
// uncompressed value that happens to start with the magic is stored with
// the 'n' codec byte.
func encodeValue(codec CompressionCodec, max int, value []byte) ([]byte, error) {
	if max > 0 && len(value) > max {
		return nil, ErrValueTooLarge
	}
	var out []byte
	switch codec {
	case CompressionNone, "":
		if !bytes.HasPrefix(value, compressMagic) {
			return value, nil
		}
		out = make([]byte, 0, len(compressMagic)+1+len(value))
		out = append(out, compressMagic...)
		out = append(out, 'n')
		out = append(out, value...)
	case CompressionGzip:
		var buf bytes.Buffer
		buf.Write(compressMagic)
		_ = buf.WriteByte('g')
		zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if _, err := zw.Write(value); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		out = buf.Bytes()
	case CompressionSnappy:
		encoded := snappy.Encode(nil, value)
		out = make([]byte, 0, len(compressMagic)+1+len(encoded))
		out = append(out, compressMagic...)
		out = append(out, 's')
		out = append(out, encoded...)
	default:
		return nil, ErrUnsupportedCodec
	}
	if max > 0 && len(out) > max {
		return nil, ErrValueTooLarge
	}
	return out, nil
}

func decodeValue(in []byte) ([]byte, error) {
	if len(in) < len(compressMagic)+1 {
		return in, nil
	}
	if !bytes.Equal(in[:len(compressMagic)], compressMagic) {
		return in, nil
	}
	codec := in[len(compressMagic)]
	payload := in[len(compressMagic)+1:]
	switch codec {
	case 'n':
		return payload, nil
	case 'g':
		gr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, ErrCorruptCompression
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, ErrCorruptCompression
		}
		return out, nil
	case 's':
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, ErrCorruptCompression
		}
		return out, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}
