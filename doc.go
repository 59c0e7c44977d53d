/*
Package capflow moves bursts of submitted items into a capacity-limited
resource in batches, scaling its worker roster with demand.

Capacity (pkg/capacity):
  - Resource: grants a fixed number of units per interval window
  - Window: in-memory or Redis-backed used counter, shareable across processes
  - Writer: splits batches and retries partial grants with backoff

Scheduling (pkg/scheduling):
  - queue: bounded backlog feeding a self-scaling pool of batch workers
  - scheduler: one-time, interval and cron tasks such as window resets

Supporting packages:
  - batch: items, batches and fulfillment counting
  - ratelimit/bucket: token bucket for pacing producers
  - metrics: Prometheus collectors shared by every component

Example usage:

	import (
		"github.com/vnykmshr/capflow/pkg/batch"
		"github.com/vnykmshr/capflow/pkg/capacity"
		"github.com/vnykmshr/capflow/pkg/scheduling/queue"
	)

	res, _ := capacity.New("table", 100)
	w, _ := capacity.NewWriter(res, capacity.WriterConfig{MaxBatch: 25})
	q, _ := queue.New(1000, 25, w)

	ticket, _ := q.Submit(batch.Item{Key: "a"})
	worker, _ := ticket.Wait(ctx)

The cmd/capflow binary wires these together into a producer simulation.
*/
package capflow
