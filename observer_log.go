package memo

import (
	"context"
	"log"
	"time"
)

// LogObserver writes one line per cache operation. Successful operations are
// only logged when Verbose is set; failures are always logged.
type LogObserver struct {
	Logger  *log.Logger
	Verbose bool
}

// NewLogObserver returns a LogObserver writing to logger, or to the standard logger when nil.
func NewLogObserver(logger *log.Logger, verbose bool) *LogObserver {
	if logger == nil {
		logger = log.Default()
	}
	return &LogObserver{Logger: logger, Verbose: verbose}
}

// OnCacheOp implements Observer.
func (o *LogObserver) OnCacheOp(_ context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	if o == nil || o.Logger == nil {
		return
	}
	if err != nil {
		o.Logger.Printf("memo op=%s key=%q driver=%s dur=%s err=%v", op, key, driver, dur, err)
		return
	}
	if o.Verbose {
		o.Logger.Printf("memo op=%s key=%q driver=%s hit=%t dur=%s", op, key, driver, hit, dur)
	}
}
