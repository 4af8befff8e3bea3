package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema represents a JSON Schema for configuration validation.
type JSONSchema struct {
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []any    `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
	MinLength   *int     `json:"minLength,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
}

const sendTimePattern = `^(IMMEDIATE|([01][0-9]|2[0-3]):[0-5][0-9])$`

func ptr[T any](v T) *T { return &v }

var triggerSchemas = map[TriggerType]*JSONSchema{
	TriggerVisitCycle: {
		Type:        "object",
		Title:       "Visit cycle trigger",
		Description: "Fires when the days since a customer's last visit match the cycle",
		Properties: map[string]*Property{
			"visitCycleDays": {Type: "integer", Minimum: ptr(1.0), Default: DefaultVisitCycleDays},
		},
		Required: []string{"visitCycleDays"},
	},
	TriggerSpecificTreatment: {
		Type:  "object",
		Title: "Specific treatment trigger",
		Properties: map[string]*Property{
			"treatmentId": {Type: "string", MinLength: ptr(1)},
		},
		Required: []string{"treatmentId"},
	},
	TriggerVisitMilestone: {
		Type:  "object",
		Title: "Visit milestone trigger",
		Properties: map[string]*Property{
			"visitMilestone": {Type: "integer", Minimum: ptr(1.0)},
		},
		Required: []string{"visitMilestone"},
	},
	TriggerAmountMilestone: {
		Type:  "object",
		Title: "Amount milestone trigger",
		Properties: map[string]*Property{
			"amountMilestone": {Type: "integer", Minimum: ptr(1.0)},
		},
		Required: []string{"amountMilestone"},
	},
	TriggerBirthday: {
		Type:  "object",
		Title: "Birthday trigger",
		Properties: map[string]*Property{
			"daysBefore": {Type: "integer", Minimum: ptr(0.0), Maximum: ptr(31.0), Default: 0},
		},
	},
}

var actionSchemas = map[ActionType]*JSONSchema{
	ActionMessageOnly: {
		Type:  "object",
		Title: "Message action",
		Properties: map[string]*Property{
			"templateId": {Type: "string", MinLength: ptr(1)},
			"sendTime":   {Type: "string", Pattern: sendTimePattern, Default: SendImmediately},
		},
		Required: []string{"templateId"},
	},
	ActionCouponMessage: {
		Type:  "object",
		Title: "Coupon message action",
		Properties: map[string]*Property{
			"templateId": {Type: "string", MinLength: ptr(1)},
			"couponCode": {Type: "string", MinLength: ptr(1)},
			"sendTime":   {Type: "string", Pattern: sendTimePattern, Default: SendImmediately},
		},
		Required: []string{"templateId", "couponCode"},
	},
	ActionSystemNotification: {
		Type:  "object",
		Title: "Staff notification action",
		Properties: map[string]*Property{
			"title":   {Type: "string"},
			"content": {Type: "string"},
			"level": {
				Type: "string",
				Enum: []any{string(NotificationInfo), string(NotificationWarning), string(NotificationUrgent)},
			},
		},
	},
}

// TriggerConfigSchema returns the schema for a trigger type that takes configuration.
func TriggerConfigSchema(triggerType TriggerType) (*JSONSchema, bool) {
	schema, ok := triggerSchemas[triggerType]

	return schema, ok
}

// ActionConfigSchema returns the schema for an action type.
func ActionConfigSchema(actionType ActionType) (*JSONSchema, bool) {
	schema, ok := actionSchemas[actionType]

	return schema, ok
}

func validateAgainstSchema(schema *JSONSchema, raw json.RawMessage) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
