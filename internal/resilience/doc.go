// Package resilience groups the fault tolerance helpers used around the
// counter store backends.
//
//   - circuitbreaker: gobreaker-based StoreBreaker, which fails closed with a
//     storage error while a backend is down
//   - retry: exponential backoff with jitter, used to bound optimistic
//     transaction retries
//
// Usage Example:
//
//	store := circuitbreaker.NewStoreBreaker(redisStore, circuitbreaker.StoreConfig("redis"))
//
//	err := retry.WithBackoff(ctx, retry.OptimisticTxConfig(), func() error {
//	    return attemptTransaction()
//	})
package resilience
