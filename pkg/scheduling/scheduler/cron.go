package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	cferrors "github.com/vnykmshr/capflow/pkg/common/errors"
)

// cronParser accepts five or six fields (seconds optional) and descriptors
// such as @hourly or @every 1s.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression.
//
// Examples:
//
//	"*/5 * * * * *"  - every 5 seconds
//	"0 */2 * * *"    - every 2 hours
//	"30 14 * * 1-5"  - 2:30 PM on weekdays
//	"@every 1s"      - every second
//	"@daily"         - every day at midnight
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, cferrors.NewValidationError("scheduler", "cron", expr, "cannot be empty").
			WithHint("use a cron expression such as \"@every 1s\"")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, cferrors.NewValidationError("scheduler", "cron", expr, err.Error()).
			WithHint("use five or six fields, or a descriptor such as @every 1s")
	}
	return schedule, nil
}

// ValidateCronExpression validates a cron expression without scheduling it.
func ValidateCronExpression(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// NextRuns returns the next n activation times of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}

	runs := make([]time.Time, 0, n)
	next := from
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		runs = append(runs, next)
	}
	return runs, nil
}
