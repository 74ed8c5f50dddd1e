package memo

import "github.com/google/uuid"

// IDGenerator produces keys for values stored without an explicit key.
type IDGenerator interface {
	NewID() string
}

// IDFunc adapts a function to the IDGenerator interface.
type IDFunc func() string

// NewID implements IDGenerator.
func (f IDFunc) NewID() string { return f() }

// UUIDGenerator issues random (version 4) UUIDs.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string { return uuid.NewString() }
