package capacity

import (
	"context"
	"sync"
)

// Window stores the used capacity for the current interval.
//
// Reserve grants min(n, max-used) units atomically and returns the grant.
// Reset sets used back to zero. Implementations must keep 0 <= used <= max.
type Window interface {
	Reserve(ctx context.Context, n int) (int, error)
	Reset(ctx context.Context) error
	Used(ctx context.Context) (int, error)
	Max() int
}

// MemoryWindow is an in-process Window guarded by a mutex.
type MemoryWindow struct {
	mu   sync.Mutex
	max  int
	used int
}

// NewMemoryWindow creates a window with max units per interval.
func NewMemoryWindow(max int) *MemoryWindow {
	return &MemoryWindow{max: max}
}

// Reserve grants up to n units.
func (w *MemoryWindow) Reserve(_ context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	granted := w.max - w.used
	if granted > n {
		granted = n
	}
	if granted < 0 {
		granted = 0
	}
	w.used += granted
	return granted, nil
}

// Reset clears the used counter.
func (w *MemoryWindow) Reset(_ context.Context) error {
	w.mu.Lock()
	w.used = 0
	w.mu.Unlock()
	return nil
}

// Used returns the units consumed in the current interval.
func (w *MemoryWindow) Used(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.used, nil
}

// Max returns the per-interval budget.
func (w *MemoryWindow) Max() int {
	return w.max
}
