package queue

import (
	"fmt"
	"time"
)

// State is an observational label derived from backlog and scaling pressure.
type State int

const (
	// Idle means the backlog is empty.
	Idle State = iota
	// Draining means items are waiting but the scale up counter is below threshold.
	Draining
	// ScalingUp means the consecutive assignment counter exceeds the threshold.
	ScalingUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case ScalingUp:
		return "scaling_up"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state label in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a label produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "draining":
		*s = Draining
	case "scaling_up":
		*s = ScalingUp
	default:
		return fmt.Errorf("unknown queue state %q", text)
	}
	return nil
}

// Stats is a point-in-time snapshot of a queue.
type Stats struct {
	Name     string `json:"name"`
	State    State  `json:"state"`
	Backlog  int    `json:"backlog"`
	Capacity int    `json:"capacity"`
	Workers  int    `json:"workers"`
	Busy     int    `json:"busy"`
	Retiring int    `json:"retiring"`

	Submitted     int64 `json:"submitted"`
	Rejected      int64 `json:"rejected"`
	Assignments   int64 `json:"assignments"`
	ScaleUps      int64 `json:"scale_ups"`
	ScaleDowns    int64 `json:"scale_downs"`
	HandlerErrors int64 `json:"handler_errors"`

	Consecutive int       `json:"consecutive"`
	LastScaleUp time.Time `json:"last_scale_up"`
	Closed      bool      `json:"closed"`
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Name:          q.config.Name,
		State:         q.stateLocked(),
		Backlog:       len(q.backlog),
		Capacity:      q.config.Capacity,
		Workers:       len(q.roster),
		Busy:          q.busy,
		Retiring:      q.retiring,
		Submitted:     q.submitted,
		Rejected:      q.rejected,
		Assignments:   q.assignments,
		ScaleUps:      q.scaleUps,
		ScaleDowns:    q.scaleDowns,
		HandlerErrors: q.handlerErrors,
		Consecutive:   q.consecutive,
		LastScaleUp:   q.lastScaleUp,
		Closed:        q.closed,
	}
}

func (q *Queue) stateLocked() State {
	switch {
	case len(q.backlog) == 0:
		return Idle
	case q.consecutive > q.config.ScaleUpThreshold:
		return ScalingUp
	default:
		return Draining
	}
}

// LogStats writes a snapshot at info level. It is meant to run as a
// periodic scheduler task.
func (q *Queue) LogStats() {
	s := q.Stats()
	q.logger.Info("queue stats",
		"state", s.State,
		"backlog", s.Backlog,
		"workers", s.Workers,
		"busy", s.Busy,
		"assignments", s.Assignments,
		"rejected", s.Rejected,
	)
}
