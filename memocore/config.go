package memocore

// BaseConfig contains shared, backend-agnostic store configuration.
type BaseConfig struct {
	Prefix        string
	Compression   CompressionCodec
	MaxValueBytes int
	EncryptionKey []byte
}
