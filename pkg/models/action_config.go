package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SendImmediately is the send time meaning "dispatch now".
const SendImmediately = "IMMEDIATE"

// NotificationLevel grades staff notifications.
type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "INFO"
	NotificationWarning NotificationLevel = "WARNING"
	NotificationUrgent  NotificationLevel = "URGENT"
)

// ActionSpec is the typed form of a workflow's action configuration.
type ActionSpec interface {
	ActionType() ActionType
}

type MessageAction struct {
	TemplateID string `json:"templateId" validate:"required"`
	SendTime   string `json:"sendTime"`
}

func (MessageAction) ActionType() ActionType { return ActionMessageOnly }

type CouponMessageAction struct {
	TemplateID string `json:"templateId" validate:"required"`
	CouponCode string `json:"couponCode" validate:"required"`
	SendTime   string `json:"sendTime"`
}

func (CouponMessageAction) ActionType() ActionType { return ActionCouponMessage }

type NotificationAction struct {
	Title   string            `json:"title"`
	Content string            `json:"content"`
	Level   NotificationLevel `json:"level" validate:"omitempty,oneof=INFO WARNING URGENT"`
}

func (NotificationAction) ActionType() ActionType { return ActionSystemNotification }

// ParseActionConfig decodes raw into the variant for actionType. Unlike
// triggers, an unusable action payload fails the action batch, so the error
// must be honoured by the caller; the returned spec is still the default.
func ParseActionConfig(actionType ActionType, raw json.RawMessage) (ActionSpec, error) {
	if !actionType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}

	if schema, ok := ActionConfigSchema(actionType); ok && !isEmptyPayload(raw) {
		if err := validateAgainstSchema(schema, raw); err != nil {
			return defaultActionSpec(actionType), fmt.Errorf("%w: %s action: %w", ErrInvalidConfig, actionType, err)
		}
	}

	if isEmptyPayload(raw) {
		raw = json.RawMessage(`{}`)
	}

	var (
		spec ActionSpec
		err  error
	)

	switch actionType {
	case ActionMessageOnly:
		spec, err = decodeSpec[MessageAction](raw)
	case ActionCouponMessage:
		spec, err = decodeSpec[CouponMessageAction](raw)
	case ActionSystemNotification:
		var notification NotificationAction

		notification, err = decodeSpec[NotificationAction](raw)
		if notification.Level == "" {
			notification.Level = NotificationInfo
		}

		spec = notification
	}

	if err != nil {
		return defaultActionSpec(actionType), fmt.Errorf("%w: %s action: %w", ErrInvalidConfig, actionType, err)
	}

	return spec, nil
}

func defaultActionSpec(actionType ActionType) ActionSpec {
	switch actionType {
	case ActionCouponMessage:
		return CouponMessageAction{SendTime: SendImmediately}
	case ActionSystemNotification:
		return NotificationAction{Level: NotificationInfo}
	default:
		return MessageAction{SendTime: SendImmediately}
	}
}

// ResolveSendTime turns a configured send time into an instant. "IMMEDIATE",
// blank values and clock times already past today resolve to now.
func ResolveSendTime(sendTime string, now time.Time) time.Time {
	if sendTime == "" || sendTime == SendImmediately {
		return now
	}

	clock, err := time.Parse("15:04", sendTime)
	if err != nil {
		return now
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if at.Before(now) {
		return now
	}

	return at
}
