package models

import (
	"time"

	"github.com/robfig/cron/v3"
)

var sweepParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweep is a recurring re-evaluation of every active workflow of some trigger
// types, independent of each workflow's NextScheduledAt.
type Sweep struct {
	// Name identifies the sweep in logs and metrics ("daily", "hourly").
	Name string `json:"name" validate:"required"`

	// CronExpression uses the standard 5-field format, evaluated in Location.
	CronExpression string `json:"cron_expression" validate:"required"`

	TriggerTypes []TriggerType `json:"trigger_types" validate:"required,min=1"`

	// NextDueAt is the precomputed next run time.
	NextDueAt time.Time `json:"next_due_at"`

	Location *time.Location `json:"-"`

	schedule cron.Schedule
}

// NewSweep validates the cron expression and computes the first due time after now.
func NewSweep(name, cronExpression string, location *time.Location, now time.Time, triggerTypes ...TriggerType) (*Sweep, error) {
	if location == nil {
		location = time.UTC
	}

	sweep := &Sweep{
		Name:           name,
		CronExpression: cronExpression,
		TriggerTypes:   triggerTypes,
		Location:       location,
	}

	if err := sweep.Validate(); err != nil {
		return nil, err
	}

	sweep.Advance(now)

	return sweep, nil
}

// Advance moves NextDueAt to the first cron tick strictly after reference.
func (s *Sweep) Advance(reference time.Time) time.Time {
	s.NextDueAt = s.schedule.Next(reference.In(s.Location))

	return s.NextDueAt
}

// IsDue checks if the sweep should run at the given time.
func (s *Sweep) IsDue(now time.Time) bool {
	return !s.NextDueAt.IsZero() && !s.NextDueAt.After(now)
}

// Validate performs validation on the sweep fields and caches the parsed schedule.
func (s *Sweep) Validate() error {
	if s.Name == "" || s.CronExpression == "" || len(s.TriggerTypes) == 0 {
		return ErrInvalidSweep
	}

	for _, triggerType := range s.TriggerTypes {
		if !triggerType.Valid() {
			return ErrInvalidSweep
		}
	}

	schedule, err := sweepParser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.schedule = schedule

	return nil
}
