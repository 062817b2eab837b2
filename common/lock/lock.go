package lock

import "context"

// Locker provides per-key mutual exclusion
// Lock blocks until the key is free or ctx is done. The returned function
// releases the lock and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
