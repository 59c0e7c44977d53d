package capacity_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/pkg/batch"
	"github.com/vnykmshr/capflow/pkg/capacity"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
)

func Example() {
	ctx := context.Background()
	res, _ := capacity.NewWithConfig(capacity.Config{
		Name:     "orders",
		Capacity: 2,
		Logger:   logging.Discard(),
	})

	b := batch.New(
		batch.Item{Key: "a"},
		batch.Item{Key: "b"},
		batch.Item{Key: "c"},
	)

	err := res.PerformBatch(ctx, b)
	fmt.Println(errors.Is(err, cferrors.ErrPartialCapacity), b.Fulfilled())

	_ = res.ResetWindow(ctx)
	err = res.PerformBatch(ctx, b)
	fmt.Println(err, b.Complete())

	// Output:
	// true 2
	// <nil> true
}

func ExampleWriter() {
	ctx := context.Background()
	res, _ := capacity.New("orders", 100)
	w, _ := capacity.NewWriter(res, capacity.WriterConfig{MaxBatch: 10, Logger: logging.Discard()})

	items := make([]batch.Item, 42)
	for i := range items {
		items[i] = batch.Item{Key: fmt.Sprint(i)}
	}

	b := batch.New(items...)
	_ = w.HandleBatch(ctx, b)
	fmt.Println(b.Fulfilled(), w.Written())

	// Output:
	// 42 42
}
