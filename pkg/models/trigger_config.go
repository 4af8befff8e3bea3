package models

import (
	"encoding/json"
	"fmt"
)

// DefaultVisitCycleDays applies when a visit-cycle workflow has no usable cycle length.
const DefaultVisitCycleDays = 30

// TriggerSpec is the typed form of a workflow's trigger configuration. Each
// trigger type has exactly one concrete variant.
type TriggerSpec interface {
	TriggerType() TriggerType
}

type NewCustomerFollowupTrigger struct{}

func (NewCustomerFollowupTrigger) TriggerType() TriggerType { return TriggerNewCustomerFollowup }

type VisitCycleTrigger struct {
	VisitCycleDays int `json:"visitCycleDays" validate:"gte=1"`
}

func (VisitCycleTrigger) TriggerType() TriggerType { return TriggerVisitCycle }

type SpecificTreatmentTrigger struct {
	TreatmentID string `json:"treatmentId" validate:"required"`
}

func (SpecificTreatmentTrigger) TriggerType() TriggerType { return TriggerSpecificTreatment }

// Matches reports whether a visit for treatmentID satisfies the trigger. An
// unconfigured trigger never matches.
func (t SpecificTreatmentTrigger) Matches(treatmentID string) bool {
	return t.TreatmentID != "" && t.TreatmentID == treatmentID
}

type VisitMilestoneTrigger struct {
	VisitMilestone int `json:"visitMilestone" validate:"gte=1"`
}

func (VisitMilestoneTrigger) TriggerType() TriggerType { return TriggerVisitMilestone }

// Reached fires on exact equality only; skipping past the milestone never fires it.
func (t VisitMilestoneTrigger) Reached(totalVisits int) bool {
	return t.VisitMilestone > 0 && totalVisits == t.VisitMilestone
}

type AmountMilestoneTrigger struct {
	AmountMilestone int64 `json:"amountMilestone" validate:"gte=1"`
}

func (AmountMilestoneTrigger) TriggerType() TriggerType { return TriggerAmountMilestone }

// Crossed fires when the cumulative total reaches the milestone with this
// payment, i.e. the total before the payment was still below it.
func (t AmountMilestoneTrigger) Crossed(total, paymentAmount int64) bool {
	if t.AmountMilestone <= 0 || total < t.AmountMilestone {
		return false
	}

	return total-paymentAmount < t.AmountMilestone
}

type BirthdayTrigger struct {
	DaysBefore int `json:"daysBefore" validate:"gte=0,lte=31"`
}

func (BirthdayTrigger) TriggerType() TriggerType { return TriggerBirthday }

type FirstVisitAnniversaryTrigger struct{}

func (FirstVisitAnniversaryTrigger) TriggerType() TriggerType { return TriggerFirstVisitAnniversary }

type ChurnRiskHighTrigger struct{}

func (ChurnRiskHighTrigger) TriggerType() TriggerType { return TriggerChurnRiskHigh }

// DefaultTriggerSpec returns the value a trigger degrades to when its stored
// configuration cannot be used.
func DefaultTriggerSpec(triggerType TriggerType) (TriggerSpec, error) {
	switch triggerType {
	case TriggerNewCustomerFollowup:
		return NewCustomerFollowupTrigger{}, nil
	case TriggerVisitCycle:
		return VisitCycleTrigger{VisitCycleDays: DefaultVisitCycleDays}, nil
	case TriggerSpecificTreatment:
		return SpecificTreatmentTrigger{}, nil
	case TriggerVisitMilestone:
		return VisitMilestoneTrigger{}, nil
	case TriggerAmountMilestone:
		return AmountMilestoneTrigger{}, nil
	case TriggerBirthday:
		return BirthdayTrigger{}, nil
	case TriggerFirstVisitAnniversary:
		return FirstVisitAnniversaryTrigger{}, nil
	case TriggerChurnRiskHigh:
		return ChurnRiskHighTrigger{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerType, triggerType)
	}
}

// ParseTriggerConfig decodes raw into the variant for triggerType. On a
// malformed payload it returns the default variant together with an error
// wrapping ErrInvalidConfig, so callers can log and carry on.
func ParseTriggerConfig(triggerType TriggerType, raw json.RawMessage) (TriggerSpec, error) {
	def, err := DefaultTriggerSpec(triggerType)
	if err != nil {
		return nil, err
	}

	if isEmptyPayload(raw) {
		if schema, ok := TriggerConfigSchema(triggerType); ok && len(schema.Required) > 0 {
			return def, fmt.Errorf("%w: %s trigger has no configuration", ErrInvalidConfig, triggerType)
		}

		return def, nil
	}

	if schema, ok := TriggerConfigSchema(triggerType); ok {
		if err := validateAgainstSchema(schema, raw); err != nil {
			return def, fmt.Errorf("%w: %s trigger: %w", ErrInvalidConfig, triggerType, err)
		}
	}

	var spec TriggerSpec

	switch triggerType {
	case TriggerVisitCycle:
		spec, err = decodeSpec[VisitCycleTrigger](raw)
	case TriggerSpecificTreatment:
		spec, err = decodeSpec[SpecificTreatmentTrigger](raw)
	case TriggerVisitMilestone:
		spec, err = decodeSpec[VisitMilestoneTrigger](raw)
	case TriggerAmountMilestone:
		spec, err = decodeSpec[AmountMilestoneTrigger](raw)
	case TriggerBirthday:
		spec, err = decodeSpec[BirthdayTrigger](raw)
	default:
		return def, nil
	}

	if err != nil {
		return def, fmt.Errorf("%w: %s trigger: %w", ErrInvalidConfig, triggerType, err)
	}

	return spec, nil
}

func decodeSpec[T any](raw json.RawMessage) (T, error) {
	var spec T

	if err := json.Unmarshal(raw, &spec); err != nil {
		return spec, err
	}

	if err := validate.Struct(spec); err != nil {
		return spec, err
	}

	return spec, nil
}

func isEmptyPayload(raw json.RawMessage) bool {
	s := string(raw)

	return s == "" || s == "null" || s == "{}"
}
