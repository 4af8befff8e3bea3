package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator exposes the shared validator so other packages validate with the same rules.
func Validator() *validator.Validate {
	return validate
}

// Validate checks structural fields and the closed type sets. Trigger and
// action payloads are not validated here; they degrade at parse time.
func (w *Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return err
	}

	if !w.TriggerType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTriggerType, w.TriggerType)
	}

	if !w.ActionType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, w.ActionType)
	}

	return nil
}
