package models

import "errors"

var (
	// ErrInvalidTransition is returned when an execution state change is not allowed.
	ErrInvalidTransition = errors.New("invalid execution status transition")

	// ErrUnknownTriggerType indicates a trigger type outside the supported set.
	ErrUnknownTriggerType = errors.New("unknown trigger type")

	// ErrUnknownActionType indicates an action type outside the supported set.
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrInvalidConfig indicates a trigger or action payload that failed parsing or validation.
	ErrInvalidConfig = errors.New("invalid workflow configuration")

	// ErrInvalidSweep is returned when sweep validation fails.
	ErrInvalidSweep = errors.New("invalid sweep configuration")
)
