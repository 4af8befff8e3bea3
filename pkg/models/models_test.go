package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflow() *Workflow {
	return &Workflow{
		ID:          "wf-1",
		ShopID:      "shop-1",
		StaffID:     "staff-1",
		Title:       "Birthday greeting",
		TriggerType: TriggerBirthday,
		ActionType:  ActionMessageOnly,
		IsActive:    true,
	}
}

// Workflow Model Tests

func TestWorkflow_CanExecute(t *testing.T) {
	workflow := newTestWorkflow()
	assert.True(t, workflow.CanExecute())

	workflow.IsActive = false
	assert.False(t, workflow.CanExecute())

	workflow.IsActive = true
	deletedAt := time.Now()
	workflow.DeletedAt = &deletedAt
	assert.False(t, workflow.CanExecute())
}

func TestWorkflow_RecordExecution_CountsAttempts(t *testing.T) {
	workflow := newTestWorkflow()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	outcomes := []bool{true, false, true, true, false}
	for _, success := range outcomes {
		workflow.RecordExecution(success, now)
	}

	assert.Equal(t, int64(len(outcomes)), workflow.ExecutionCount)
	assert.Equal(t, int64(3), workflow.SuccessCount)
	assert.Equal(t, int64(2), workflow.FailureCount)
	assert.Equal(t, workflow.ExecutionCount, workflow.SuccessCount+workflow.FailureCount)
	require.NotNil(t, workflow.LastExecutedAt)
	assert.Equal(t, now, *workflow.LastExecutedAt)
}

func TestWorkflow_ScheduleNext(t *testing.T) {
	from := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		triggerType TriggerType
		want        time.Duration
	}{
		{TriggerVisitCycle, 24 * time.Hour},
		{TriggerBirthday, 24 * time.Hour},
		{TriggerChurnRiskHigh, 7 * 24 * time.Hour},
		{TriggerFirstVisitAnniversary, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(string(tt.triggerType), func(t *testing.T) {
			workflow := newTestWorkflow()
			workflow.TriggerType = tt.triggerType

			next := workflow.ScheduleNext(from)

			assert.Equal(t, from.Add(tt.want), next)
			require.NotNil(t, workflow.NextScheduledAt)
			assert.True(t, workflow.IsDue(from.Add(tt.want)))
			assert.False(t, workflow.IsDue(from))
		})
	}
}

func TestWorkflow_ScheduleNext_EventDrivenNeverDue(t *testing.T) {
	from := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	for _, triggerType := range []TriggerType{
		TriggerNewCustomerFollowup,
		TriggerSpecificTreatment,
		TriggerVisitMilestone,
		TriggerAmountMilestone,
	} {
		t.Run(string(triggerType), func(t *testing.T) {
			workflow := newTestWorkflow()
			workflow.TriggerType = triggerType
			workflow.NextScheduledAt = &from

			assert.True(t, workflow.ScheduleNext(from).IsZero())
			assert.Nil(t, workflow.NextScheduledAt)
			assert.False(t, workflow.IsDue(from.Add(365*24*time.Hour)))
			assert.False(t, triggerType.TimeDriven())
		})
	}
}

func TestWorkflow_Clone_IsIndependent(t *testing.T) {
	workflow := newTestWorkflow()
	workflow.Filters.TagIDs = []string{"vip"}
	workflow.TriggerConfig = json.RawMessage(`{"daysBefore":1}`)

	clone := workflow.Clone()
	clone.Filters.TagIDs[0] = "changed"
	clone.RecordExecution(true, time.Now())

	assert.Equal(t, "vip", workflow.Filters.TagIDs[0])
	assert.Zero(t, workflow.ExecutionCount)
	assert.Nil(t, workflow.LastExecutedAt)
}

func TestWorkflow_Validate(t *testing.T) {
	assert.NoError(t, newTestWorkflow().Validate())

	missingShop := newTestWorkflow()
	missingShop.ShopID = ""

	err := missingShop.Validate()
	require.Error(t, err)

	var validationErrors validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrors))
	assert.Equal(t, "ShopID", validationErrors[0].Field())

	badTrigger := newTestWorkflow()
	badTrigger.TriggerType = "weekly-digest"
	assert.ErrorIs(t, badTrigger.Validate(), ErrUnknownTriggerType)

	badAction := newTestWorkflow()
	badAction.ActionType = "EMAIL"
	assert.ErrorIs(t, badAction.Validate(), ErrUnknownActionType)
}

// Execution Model Tests

func TestWorkflowExecution_Lifecycle(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	execution := NewWorkflowExecution("exec-1", newTestWorkflow(), SourceSweep, started)

	assert.Equal(t, ExecutionStatusScheduled, execution.Status)
	assert.Equal(t, TriggerBirthday, execution.TriggerType)
	assert.Equal(t, ActionMessageOnly, execution.ActionType)

	require.NoError(t, execution.Transition(ExecutionStatusRunning))
	require.NoError(t, execution.Complete(3, 2, 1, started.Add(time.Second)))

	assert.Equal(t, ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 3, execution.TargetCount)
	assert.Equal(t, 2, execution.SuccessCount)
	assert.Equal(t, 1, execution.FailureCount)
	assert.True(t, execution.Status.IsTerminal())

	// terminal states are final
	assert.ErrorIs(t, execution.Fail("late", started), ErrInvalidTransition)
	assert.ErrorIs(t, execution.Transition(ExecutionStatusRunning), ErrInvalidTransition)
}

func TestWorkflowExecution_CannotSkipRunning(t *testing.T) {
	execution := NewWorkflowExecution("exec-1", newTestWorkflow(), SourceEvent, time.Now())

	err := execution.Complete(1, 1, 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ExecutionStatusScheduled, execution.Status)

	require.NoError(t, execution.Fail("storage down", time.Now()))
	require.NotNil(t, execution.ErrorMessage)
	assert.Equal(t, "storage down", *execution.ErrorMessage)
}

// Trigger Config Tests

func TestParseTriggerConfig_Variants(t *testing.T) {
	spec, err := ParseTriggerConfig(TriggerVisitCycle, json.RawMessage(`{"visitCycleDays":45}`))
	require.NoError(t, err)
	assert.Equal(t, VisitCycleTrigger{VisitCycleDays: 45}, spec)

	spec, err = ParseTriggerConfig(TriggerSpecificTreatment, json.RawMessage(`{"treatmentId":"t-9"}`))
	require.NoError(t, err)
	assert.Equal(t, SpecificTreatmentTrigger{TreatmentID: "t-9"}, spec)

	spec, err = ParseTriggerConfig(TriggerAmountMilestone, json.RawMessage(`{"amountMilestone":100000}`))
	require.NoError(t, err)
	assert.Equal(t, AmountMilestoneTrigger{AmountMilestone: 100000}, spec)

	spec, err = ParseTriggerConfig(TriggerBirthday, nil)
	require.NoError(t, err)
	assert.Equal(t, BirthdayTrigger{}, spec)

	spec, err = ParseTriggerConfig(TriggerChurnRiskHigh, json.RawMessage(`{"ignored":true}`))
	require.NoError(t, err)
	assert.Equal(t, ChurnRiskHighTrigger{}, spec)
}

func TestParseTriggerConfig_DegradesToDefault(t *testing.T) {
	tests := []struct {
		name string
		tt   TriggerType
		raw  string
		want TriggerSpec
	}{
		{"malformed json", TriggerVisitCycle, `{"visitCycleDays":`, VisitCycleTrigger{VisitCycleDays: DefaultVisitCycleDays}},
		{"wrong type", TriggerVisitMilestone, `{"visitMilestone":"ten"}`, VisitMilestoneTrigger{}},
		{"below minimum", TriggerVisitCycle, `{"visitCycleDays":0}`, VisitCycleTrigger{VisitCycleDays: DefaultVisitCycleDays}},
		{"missing required", TriggerSpecificTreatment, `{}`, SpecificTreatmentTrigger{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseTriggerConfig(tt.tt, json.RawMessage(tt.raw))
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Equal(t, tt.want, spec)
		})
	}
}

func TestParseTriggerConfig_UnknownType(t *testing.T) {
	spec, err := ParseTriggerConfig("weekly", nil)
	assert.ErrorIs(t, err, ErrUnknownTriggerType)
	assert.Nil(t, spec)
}

func TestVisitMilestoneTrigger_ExactEquality(t *testing.T) {
	trigger := VisitMilestoneTrigger{VisitMilestone: 10}

	assert.False(t, trigger.Reached(9))
	assert.True(t, trigger.Reached(10))
	assert.False(t, trigger.Reached(11))
	assert.False(t, VisitMilestoneTrigger{}.Reached(0))
}

func TestAmountMilestoneTrigger_FiresOncePerCrossing(t *testing.T) {
	trigger := AmountMilestoneTrigger{AmountMilestone: 1000}

	assert.False(t, trigger.Crossed(900, 300), "below milestone")
	assert.True(t, trigger.Crossed(1200, 300), "crossed with this payment")
	assert.True(t, trigger.Crossed(1000, 1000), "first payment reaches it exactly")
	assert.False(t, trigger.Crossed(1500, 300), "already above before this payment")
	assert.False(t, AmountMilestoneTrigger{}.Crossed(5000, 5000), "unconfigured")
}

func TestSpecificTreatmentTrigger_Matches(t *testing.T) {
	assert.True(t, SpecificTreatmentTrigger{TreatmentID: "t1"}.Matches("t1"))
	assert.False(t, SpecificTreatmentTrigger{TreatmentID: "t1"}.Matches("t2"))
	assert.False(t, SpecificTreatmentTrigger{}.Matches(""))
}

// Action Config Tests

func TestParseActionConfig(t *testing.T) {
	spec, err := ParseActionConfig(ActionMessageOnly, json.RawMessage(`{"templateId":"tpl-1","sendTime":"10:30"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageAction{TemplateID: "tpl-1", SendTime: "10:30"}, spec)

	spec, err = ParseActionConfig(ActionCouponMessage, json.RawMessage(`{"templateId":"tpl-1","couponCode":"WELCOME10"}`))
	require.NoError(t, err)
	assert.Equal(t, CouponMessageAction{TemplateID: "tpl-1", CouponCode: "WELCOME10"}, spec)

	spec, err = ParseActionConfig(ActionSystemNotification, nil)
	require.NoError(t, err)
	assert.Equal(t, NotificationAction{Level: NotificationInfo}, spec)
}

func TestParseActionConfig_Invalid(t *testing.T) {
	_, err := ParseActionConfig(ActionMessageOnly, json.RawMessage(`{"sendTime":"IMMEDIATE"}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseActionConfig(ActionMessageOnly, json.RawMessage(`{"templateId":"tpl","sendTime":"25:00"}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseActionConfig(ActionCouponMessage, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseActionConfig(ActionSystemNotification, json.RawMessage(`{"level":"LOUD"}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseActionConfig("EMAIL", nil)
	assert.ErrorIs(t, err, ErrUnknownActionType)
}

func TestResolveSendTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)

	assert.Equal(t, now, ResolveSendTime(SendImmediately, now))
	assert.Equal(t, now, ResolveSendTime("", now))
	assert.Equal(t, now, ResolveSendTime("08:00", now))
	assert.Equal(t, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC), ResolveSendTime("18:00", now))
	assert.Equal(t, now, ResolveSendTime("garbage", now))
}

// Sweep Tests

func TestNewSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	sweep, err := NewSweep("daily", "0 9 * * *", time.UTC, now, TriggerBirthday, TriggerFirstVisitAnniversary)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), sweep.NextDueAt)
	assert.False(t, sweep.IsDue(now))
	assert.True(t, sweep.IsDue(sweep.NextDueAt))

	next := sweep.Advance(sweep.NextDueAt)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestNewSweep_Location(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) // 09:00 KST

	sweep, err := NewSweep("daily", "0 9 * * *", seoul, now, TriggerBirthday)
	require.NoError(t, err)

	assert.True(t, sweep.NextDueAt.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestSweep_Validate(t *testing.T) {
	_, err := NewSweep("", "0 9 * * *", nil, time.Now(), TriggerBirthday)
	assert.ErrorIs(t, err, ErrInvalidSweep)

	_, err = NewSweep("daily", "0 9 * * *", nil, time.Now())
	assert.ErrorIs(t, err, ErrInvalidSweep)

	_, err = NewSweep("daily", "not a cron", nil, time.Now(), TriggerBirthday)
	assert.Error(t, err)

	_, err = NewSweep("daily", "0 9 * * *", nil, time.Now(), "weekly")
	assert.ErrorIs(t, err, ErrInvalidSweep)
}
