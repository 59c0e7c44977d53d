package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/capflow/internal/logging"
	"github.com/vnykmshr/capflow/pkg/batch"
	"github.com/vnykmshr/capflow/pkg/clock"
	cfcontext "github.com/vnykmshr/capflow/pkg/common/context"
	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
	"github.com/vnykmshr/capflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/capflow/pkg/scheduling/queue"
)

// Policy decides what a producer does with a submission rejected with
// ErrQueueFull.
type Policy string

const (
	// PolicyRetry waits RetryDelay and submits the same item again.
	PolicyRetry Policy = "retry"
	// PolicyDrop counts the item as dropped and moves on.
	PolicyDrop Policy = "drop"
)

// Submitter accepts items. queue.BatchQueue satisfies it.
type Submitter interface {
	Submit(item batch.Item) (*queue.Ticket, error)
}

// Event is the payload of every generated item.
type Event struct {
	Producer int
	Group    int
	Seq      int
}

// ProducerConfig describes the simulated load.
type ProducerConfig struct {
	Count      int           // Concurrent producers
	Groups     int           // Groups emitted by each producer
	GroupSize  int           // Items per group, submitted back to back
	Pause      time.Duration // Pause between groups
	OnFull     Policy
	RetryDelay time.Duration

	// Rate caps submissions per second across all producers, 0 = unpaced.
	Rate  float64
	Burst int

	Clock  clock.Clock
	Logger *log.Logger
}

// Totals counts what happened to generated items.
type Totals struct {
	Generated int64 `json:"generated"`
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Dropped   int64 `json:"dropped"`
	Assigned  int64 `json:"assigned"`
	Failed    int64 `json:"failed"`
}

type counters struct {
	generated, submitted, rejected, dropped atomic.Int64
}

// Produce runs cfg.Count producers against q and returns the tickets of
// every accepted item. Producers stop early, without error, when ctx ends.
func Produce(ctx context.Context, q Submitter, cfg ProducerConfig) ([]*queue.Ticket, Totals, error) {
	if cfg.OnFull != PolicyRetry && cfg.OnFull != PolicyDrop {
		return nil, Totals{}, cferrors.NewValidationError("sim", "OnFull", cfg.OnFull, "unknown policy").
			WithHint("use \"retry\" or \"drop\"")
	}

	c := clock.OrSystem(cfg.Clock)
	logger := logging.Component(cfg.Logger, "producer")

	var limiter bucket.Limiter
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		var err error
		limiter, err = bucket.NewWithConfig(bucket.Config{
			Rate:          bucket.Limit(cfg.Rate),
			Burst:         burst,
			Clock:         c,
			InitialTokens: -1,
		})
		if err != nil {
			return nil, Totals{}, err
		}
	}

	var (
		mu      sync.Mutex
		tickets []*queue.Ticket
		cnt     counters
	)

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < cfg.Count; p++ {
		p := p
		g.Go(func() error {
			own, err := produceOne(gctx, q, p, cfg, c, limiter, &cnt)

			mu.Lock()
			tickets = append(tickets, own...)
			mu.Unlock()

			if err != nil && !cfcontext.IsCanceled(ctx) {
				return fmt.Errorf("producer %d: %w", p, err)
			}
			logger.Debug("producer finished", "producer", p, "accepted", len(own))
			return nil
		})
	}

	err := g.Wait()
	totals := Totals{
		Generated: cnt.generated.Load(),
		Submitted: cnt.submitted.Load(),
		Rejected:  cnt.rejected.Load(),
		Dropped:   cnt.dropped.Load(),
	}
	return tickets, totals, err
}

func produceOne(ctx context.Context, q Submitter, p int, cfg ProducerConfig, c clock.Clock, limiter bucket.Limiter, cnt *counters) ([]*queue.Ticket, error) {
	tickets := make([]*queue.Ticket, 0, cfg.Groups*cfg.GroupSize)

	for g := 0; g < cfg.Groups; g++ {
		for i := 0; i < cfg.GroupSize; i++ {
			if ctx.Err() != nil {
				return tickets, ctx.Err()
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return tickets, err
				}
			}

			item := batch.Item{
				Key:     fmt.Sprintf("p%d/g%d/%d", p, g, i),
				Payload: Event{Producer: p, Group: g, Seq: i},
			}
			cnt.generated.Add(1)

			t, err := submit(ctx, q, item, cfg, c, cnt)
			if err != nil {
				return tickets, err
			}
			if t != nil {
				tickets = append(tickets, t)
			}
		}

		if err := cfcontext.Sleep(ctx, c, cfg.Pause); err != nil {
			return tickets, err
		}
	}
	return tickets, nil
}

// submit applies the QueueFull policy. A nil ticket with a nil error means
// the item was dropped.
func submit(ctx context.Context, q Submitter, item batch.Item, cfg ProducerConfig, c clock.Clock, cnt *counters) (*queue.Ticket, error) {
	for {
		t, err := q.Submit(item)
		if err == nil {
			cnt.submitted.Add(1)
			return t, nil
		}
		if !errors.Is(err, cferrors.ErrQueueFull) {
			return nil, err
		}

		cnt.rejected.Add(1)
		if cfg.OnFull == PolicyDrop {
			cnt.dropped.Add(1)
			return nil, nil
		}
		if err := cfcontext.Sleep(ctx, c, cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

// Await waits for every ticket to resolve and counts assignments and
// failures. It stops early with ctx.Err() when ctx ends.
func Await(ctx context.Context, tickets []*queue.Ticket) (assigned, failed int64, err error) {
	for _, t := range tickets {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return assigned, failed, ctx.Err()
		}
		if t.Err() != nil {
			failed++
		} else {
			assigned++
		}
	}
	return assigned, failed, nil
}
