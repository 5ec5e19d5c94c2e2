package generic

import "sync"

// Once wraps f so that it runs at most once; later calls return the
// cached value. Used for lazily built singletons such as the job store.
func Once[T any](f func() T) func() T {
	var (
		once sync.Once
		v    T
	)
	return func() T {
		once.Do(func() { v = f() })
		return v
	}
}
