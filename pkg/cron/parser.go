// Package cron parses standard five-field cron expressions.
package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule yields activation times in a fixed location.
type Schedule struct {
	next cron.Schedule
	loc  *time.Location
}

// Parse parses expr in the named timezone. An empty timezone means UTC.
func Parse(expr, timezone string) (*Schedule, error) {
	if expr == "" {
		return nil, ErrInvalidCronExpression
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCronExpression, err)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	return &Schedule{next: sched, loc: loc}, nil
}

// Next returns the first activation strictly after from.
func (s *Schedule) Next(from time.Time) time.Time {
	return s.next.Next(from.In(s.loc))
}
