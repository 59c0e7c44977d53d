// Package batch defines the units of work that flow through capflow: an Item
// with a stable key, and a Batch that tracks how much of a request a
// downstream resource has fulfilled so far.
package batch

import "fmt"

// Item is a unit of work with a stable identity and an opaque payload.
// Items are treated as immutable once submitted.
type Item struct {
	Key     string
	Payload interface{}
}

// Batch is an ordered group of items submitted together in one round trip.
// Each item accounts for one unit of requested capacity.
//
// A Batch is owned by whichever goroutine is driving it and is not safe for
// concurrent mutation.
type Batch struct {
	items     []Item
	requested int
	fulfilled int
}

// New creates a batch over items. The item slice is copied.
func New(items ...Item) *Batch {
	cp := make([]Item, len(items))
	copy(cp, items)
	return &Batch{
		items:     cp,
		requested: len(cp),
	}
}

// Items returns the items of the batch in submission order.
func (b *Batch) Items() []Item {
	return b.items
}

// Len returns the number of items in the batch.
func (b *Batch) Len() int {
	return len(b.items)
}

// Requested returns the number of capacity units the batch needs.
func (b *Batch) Requested() int {
	return b.requested
}

// Fulfilled returns the number of units granted so far.
func (b *Batch) Fulfilled() int {
	return b.fulfilled
}

// Remaining returns the units still outstanding.
func (b *Batch) Remaining() int {
	return b.requested - b.fulfilled
}

// Complete reports whether every requested unit has been fulfilled.
func (b *Batch) Complete() bool {
	return b.fulfilled == b.requested
}

// Fulfill records n more granted units, clamped to the remainder, and
// returns how many were applied.
func (b *Batch) Fulfill(n int) int {
	if n <= 0 {
		return 0
	}
	if rem := b.Remaining(); n > rem {
		n = rem
	}
	b.fulfilled += n
	return n
}

// Keys returns the item keys in order.
func (b *Batch) Keys() []string {
	keys := make([]string, len(b.items))
	for i, it := range b.items {
		keys[i] = it.Key
	}
	return keys
}

func (b *Batch) String() string {
	return fmt.Sprintf("batch(%d/%d)", b.fulfilled, b.requested)
}

// Split chunks items into consecutive groups of at most size, preserving order.
// A non-positive size yields a single chunk.
func Split(items []Item, size int) [][]Item {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]Item{items}
	}

	chunks := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
