// Package capacity models a downstream resource with a fixed per-interval
// throughput budget.
//
// A Resource grants as much of a request as its current window allows.
// Single operations need one unit; batch operations ask for the batch's
// remaining units and are granted min(requested, available). A partially
// granted batch keeps the units it received and the call returns an error
// matching errors.ErrPartialCapacity, so the caller retries the remainder.
// When nothing is available the call returns errors.ErrInsufficientCapacity
// and the batch is untouched.
//
// The window never refills on its own. ResetWindow sets used capacity back
// to zero; callers drive it from a periodic task:
//
//	res, _ := capacity.New("orders", 100)
//	sched.Every("reset-orders", time.Second, func(ctx context.Context) error {
//		return res.ResetWindow(ctx)
//	})
//
// Windows are pluggable. NewMemoryWindow keeps the counter in process;
// NewRedisWindow shares one budget between processes through a Lua script.
//
// Writer drives batches to completion against a Resource, splitting them
// into bounded sub-batches and retrying partial grants with backoff. It
// satisfies the queue Handler interface.
package capacity
