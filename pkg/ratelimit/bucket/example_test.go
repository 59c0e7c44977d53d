package bucket_test

import (
	"fmt"

	"github.com/vnykmshr/capflow/pkg/ratelimit/bucket"
)

func Example() {
	l, err := bucket.New(1, 3)
	if err != nil {
		panic(err)
	}

	allowed := 0
	for i := 0; i < 5; i++ {
		if l.Allow() {
			allowed++
		}
	}
	fmt.Println("allowed:", allowed)
	// Output: allowed: 3
}
