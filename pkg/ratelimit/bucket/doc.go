/*
Package bucket provides a token bucket limiter driven by an injectable clock.

capflow producers use it to pace submissions: Rate tokens are added per
second up to Burst, and each submitted item takes one.

	l, err := bucket.New(500, 50) // 500 items/s, bursts of 50
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := l.Wait(ctx); err != nil {
			return err
		}
		q.Submit(item)
	}

Wait lets the balance go negative and sleeps until the debt is repaid, so
concurrent waiters are served in arrival order. A wait abandoned through its
context returns its tokens.
*/
package bucket
