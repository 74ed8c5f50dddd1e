package memocore

import (
	"fmt"
	"strings"
)

// CompressionCodec selects how stored values are compressed.
type CompressionCodec string

const (
	CompressionNone   CompressionCodec = "none"
	CompressionGzip   CompressionCodec = "gzip"
	CompressionSnappy CompressionCodec = "snappy"
)

// ParseCompression maps a configuration string onto a codec. Empty means none.
func ParseCompression(name string) (CompressionCodec, error) {
	switch CompressionCodec(strings.ToLower(strings.TrimSpace(name))) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip:
		return CompressionGzip, nil
	case CompressionSnappy:
		return CompressionSnappy, nil
	default:
		return "", fmt.Errorf("unknown compression codec %q", name)
	}
}
