package memo

import "github.com/goforj/memo/memocore"

// Driver identifies a backing store.
type Driver = memocore.Driver

// Store is the backing key-value contract used by Cache.
type Store = memocore.Store

const (
	DriverFile   = memocore.DriverFile
	DriverMemory = memocore.DriverMemory
	DriverDynamo = memocore.DriverDynamo
	DriverSQL    = memocore.DriverSQL
	DriverRedis  = memocore.DriverRedis
	DriverNATS   = memocore.DriverNATS
)
