package memo

import (
	"context"
	"time"
)

// Observer receives events for cache operations.
// It is called from Cache methods after each operation completes.
type Observer interface {
	OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver)

// OnCacheOp implements Observer.
func (f ObserverFunc) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	if f == nil {
		return
	}
	f(ctx, op, key, hit, err, dur, driver)
}

// MultiObserver fans each event out to every non-nil observer in order.
type MultiObserver []Observer

// OnCacheOp implements Observer.
func (m MultiObserver) OnCacheOp(ctx context.Context, op string, key string, hit bool, err error, dur time.Duration, driver Driver) {
	for _, o := range m {
		if o != nil {
			o.OnCacheOp(ctx, op, key, hit, err, dur, driver)
		}
	}
}
