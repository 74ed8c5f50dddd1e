// Package memotest provides reusable store contract tests for memo.Store implementations.
//
// Example pattern:
//
//	func TestRedisStoreContract(t *testing.T) {
//		store, err := memo.NewRedisStore(ctx, client, memo.WithPrefix("test"))
//		if err != nil {
//			t.Fatalf("new redis store: %v", err)
//		}
//
//		// Namespace keys per test and tune TTL waits for backend semantics as needed.
//		memotest.RunStoreContract(t, store, memotest.Options{
//			CaseName: t.Name(),
//			TTL:      time.Second,
//			TTLWait:  1500 * time.Millisecond,
//		})
//	}
package memotest
