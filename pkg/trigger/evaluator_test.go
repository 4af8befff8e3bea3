package trigger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/marketflow/pkg/channels/gochannel"
	"github.com/dukex/marketflow/pkg/dispatch"
	"github.com/dukex/marketflow/pkg/eventbus"
	"github.com/dukex/marketflow/pkg/events"
	"github.com/dukex/marketflow/pkg/lock"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/dukex/marketflow/pkg/persistence/file"
	"github.com/dukex/marketflow/pkg/targeting"
	"github.com/dukex/marketflow/pkg/testutil"
	"github.com/dukex/marketflow/pkg/tracking"
	"github.com/dukex/marketflow/pkg/trigger"
	"github.com/dukex/marketflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)

type call struct {
	workflowID string
	customerID string
}

type recordingRunner struct {
	mu     sync.Mutex
	calls  []call
	panics map[string]bool
	err    error
}

func (r *recordingRunner) RunForTarget(_ context.Context, wf *models.Workflow, customerID string) (*models.WorkflowExecution, error) {
	if r.panics[wf.ID] {
		panic("runner exploded")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, call{wf.ID, customerID})

	return nil, r.err
}

func (r *recordingRunner) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]call(nil), r.calls...)
}

func newStore(t *testing.T, workflows ...*models.Workflow) persistence.Persistence {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	for _, wf := range workflows {
		require.NoError(t, store.WorkflowRepository().Save(context.Background(), wf))
	}

	return store
}

func withID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) { w.ID = id }
}

func TestEvaluator_VisitMilestoneFiresOnExactCount(t *testing.T) {
	ctx := context.Background()
	directory := testutil.NewDirectory().Add("shop-1", testutil.Customer{ID: "alice"})

	for i := range 9 {
		directory.AddVisit("shop-1", "alice", now.AddDate(0, 0, -30*(i+1)))
	}

	milestone := testutil.CreateTestWorkflow(testutil.WithTrigger(models.TriggerVisitMilestone, `{"visitMilestone":10}`))
	store := newStore(t, milestone)

	clock := clockwork.NewFakeClockAt(now)
	transport := testutil.NewTransport()
	executor := workflow.NewExecutor(
		store.WorkflowRepository(),
		store.DeliveryRepository(),
		tracking.NewTracker(store.ExecutionRepository(), nil, clock, testutil.Logger()),
		targeting.NewPipeline(directory, clock, time.UTC, testutil.Logger()),
		dispatch.NewDispatcher(transport, testutil.NewCoupons(), clock, testutil.Logger(), dispatch.Config{}),
		lock.NewLocal(),
		clock,
		time.UTC,
		nil,
		testutil.Logger(),
	)

	evaluator := trigger.NewEvaluator(store.WorkflowRepository(), directory, executor, testutil.Logger(), 0)

	directory.AddVisit("shop-1", "alice", now)
	assert.Equal(t, 1, evaluator.OnCustomerVisit(ctx, &events.CustomerVisit{CustomerID: "alice", ShopID: "shop-1", At: now}))

	directory.AddVisit("shop-1", "alice", now.Add(time.Hour))
	assert.Equal(t, 0, evaluator.OnCustomerVisit(ctx, &events.CustomerVisit{CustomerID: "alice", ShopID: "shop-1", At: now}))

	require.Len(t, transport.Sends, 1)
	assert.Equal(t, "alice", transport.Sends[0].CustomerID)

	executions, err := store.ExecutionRepository().GetByWorkflow(ctx, milestone.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "alice", executions[0].CustomerID)
	assert.Equal(t, models.SourceEvent, executions[0].Source)
}

func TestEvaluator_SpecificTreatment(t *testing.T) {
	ctx := context.Background()
	wf := testutil.CreateTestWorkflow(withID("wf-facial"), testutil.WithTrigger(models.TriggerSpecificTreatment, `{"treatmentId":"facial"}`))
	runner := &recordingRunner{}
	evaluator := trigger.NewEvaluator(newStore(t, wf).WorkflowRepository(), testutil.NewDirectory(), runner, testutil.Logger(), 0)

	tests := []struct {
		treatment string
		fired     int
	}{
		{"facial", 1},
		{"massage", 0},
		{"", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.fired, evaluator.OnCustomerVisit(ctx, &events.CustomerVisit{
			CustomerID: "bob", ShopID: "shop-1", TreatmentID: tt.treatment,
		}), "treatment %q", tt.treatment)
	}

	assert.Equal(t, []call{{"wf-facial", "bob"}}, runner.Calls())
}

func TestEvaluator_VisitCycle(t *testing.T) {
	ctx := context.Background()
	directory := testutil.NewDirectory().Add("shop-1",
		testutil.Customer{ID: "returning", Visits: []time.Time{now.AddDate(0, 0, -45), now}},
		testutil.Customer{ID: "frequent", Visits: []time.Time{now.AddDate(0, 0, -3), now}},
		testutil.Customer{ID: "first-timer", Visits: []time.Time{now}},
	)

	wf := testutil.CreateTestWorkflow(withID("wf-cycle"), testutil.WithTrigger(models.TriggerVisitCycle, `{"visitCycleDays":30}`))
	runner := &recordingRunner{}
	evaluator := trigger.NewEvaluator(newStore(t, wf).WorkflowRepository(), directory, runner, testutil.Logger(), 0)

	for _, customer := range []string{"returning", "frequent", "first-timer"} {
		evaluator.OnCustomerVisit(ctx, &events.CustomerVisit{CustomerID: customer, ShopID: "shop-1"})
	}

	assert.Equal(t, []call{{"wf-cycle", "returning"}}, runner.Calls())
}

func TestEvaluator_AmountMilestoneFiresOncePerCrossing(t *testing.T) {
	ctx := context.Background()
	directory := testutil.NewDirectory().Add("shop-1", testutil.Customer{ID: "carol"})

	wf := testutil.CreateTestWorkflow(withID("wf-100k"), testutil.WithTrigger(models.TriggerAmountMilestone, `{"amountMilestone":100000}`))
	runner := &recordingRunner{}
	evaluator := trigger.NewEvaluator(newStore(t, wf).WorkflowRepository(), directory, runner, testutil.Logger(), 0)

	pay := func(amount int64) int {
		directory.AddPayment("shop-1", "carol", amount)

		return evaluator.OnPaymentCompleted(ctx, &events.PaymentCompleted{CustomerID: "carol", ShopID: "shop-1", Amount: amount})
	}

	assert.Equal(t, 0, pay(40000))
	assert.Equal(t, 1, pay(70000))
	assert.Equal(t, 0, pay(5000))
	assert.Equal(t, 0, pay(100000))

	assert.Len(t, runner.Calls(), 1)
}

func TestEvaluator_RegistrationScopedToShop(t *testing.T) {
	ctx := context.Background()
	store := newStore(t,
		testutil.CreateTestWorkflow(withID("wf-a"), testutil.WithTrigger(models.TriggerNewCustomerFollowup, "")),
		testutil.CreateTestWorkflow(withID("wf-b"), testutil.WithTrigger(models.TriggerNewCustomerFollowup, "")),
		testutil.CreateTestWorkflow(withID("wf-off"), testutil.WithTrigger(models.TriggerNewCustomerFollowup, ""), testutil.Inactive()),
		testutil.CreateTestWorkflow(withID("wf-other"), testutil.WithTrigger(models.TriggerNewCustomerFollowup, ""), testutil.WithShop("shop-2")),
	)

	runner := &recordingRunner{}
	evaluator := trigger.NewEvaluator(store.WorkflowRepository(), testutil.NewDirectory(), runner, testutil.Logger(), 0)

	assert.Equal(t, 2, evaluator.OnCustomerRegistration(ctx, &events.CustomerRegistration{CustomerID: "dan", ShopID: "shop-1"}))
	assert.ElementsMatch(t, []call{{"wf-a", "dan"}, {"wf-b", "dan"}}, runner.Calls())
}

func TestEvaluator_IsolatesFailingWorkflows(t *testing.T) {
	ctx := context.Background()
	store := newStore(t,
		testutil.CreateTestWorkflow(withID("wf-panics"), testutil.WithTrigger(models.TriggerNewCustomerFollowup, "")),
		testutil.CreateTestWorkflow(withID("wf-healthy"), testutil.WithTrigger(models.TriggerNewCustomerFollowup, "")),
	)

	runner := &recordingRunner{panics: map[string]bool{"wf-panics": true}}
	evaluator := trigger.NewEvaluator(store.WorkflowRepository(), testutil.NewDirectory(), runner, testutil.Logger(), 0)

	evaluator.OnCustomerRegistration(ctx, &events.CustomerRegistration{CustomerID: "erin", ShopID: "shop-1"})

	assert.Equal(t, []call{{"wf-healthy", "erin"}}, runner.Calls())
}

func TestEvaluator_DirectoryErrorSkipsWorkflow(t *testing.T) {
	ctx := context.Background()
	directory := testutil.NewDirectory()
	directory.FailWith(errors.New("crm offline"))

	store := newStore(t,
		testutil.CreateTestWorkflow(withID("wf-milestone"), testutil.WithTrigger(models.TriggerVisitMilestone, `{"visitMilestone":3}`)),
		testutil.CreateTestWorkflow(withID("wf-treatment"), testutil.WithTrigger(models.TriggerSpecificTreatment, `{"treatmentId":"nails"}`)),
	)

	runner := &recordingRunner{}
	evaluator := trigger.NewEvaluator(store.WorkflowRepository(), directory, runner, testutil.Logger(), 0)

	assert.Equal(t, 1, evaluator.OnCustomerVisit(ctx, &events.CustomerVisit{CustomerID: "finn", ShopID: "shop-1", TreatmentID: "nails"}))
	assert.Equal(t, []call{{"wf-treatment", "finn"}}, runner.Calls())
}

func TestEvaluator_MalformedConfigNeverFires(t *testing.T) {
	ctx := context.Background()
	directory := testutil.NewDirectory().Add("shop-1", testutil.Customer{ID: "gus", Visits: []time.Time{now}})

	store := newStore(t,
		testutil.CreateTestWorkflow(withID("wf-bad"), testutil.WithTrigger(models.TriggerVisitMilestone, `{"visitMilestone":"ten"}`)),
	)

	runner := &recordingRunner{}
	evaluator := trigger.NewEvaluator(store.WorkflowRepository(), directory, runner, testutil.Logger(), 0)

	assert.Equal(t, 0, evaluator.OnCustomerVisit(ctx, &events.CustomerVisit{CustomerID: "gus", ShopID: "shop-1"}))
	assert.Empty(t, runner.Calls())
}

func TestEvaluator_StartConsumesBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newStore(t,
		testutil.CreateTestWorkflow(withID("wf-welcome"), testutil.WithTrigger(models.TriggerNewCustomerFollowup, "")),
	)

	runner := &recordingRunner{}
	evaluator := trigger.NewEvaluator(store.WorkflowRepository(), testutil.NewDirectory(), runner, testutil.Logger(), 4)

	logger := testutil.Logger()
	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	require.NoError(t, evaluator.Subscribe(bus))
	require.NoError(t, bus.Subscribe(ctx))

	evaluator.Start(ctx)

	registration := events.CustomerRegistration{CustomerID: "hana", ShopID: "shop-1", At: now}
	require.NoError(t, bus.Publish(ctx, registration.PartitionKey(), registration))

	require.Eventually(t, func() bool {
		return len(runner.Calls()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, call{"wf-welcome", "hana"}, runner.Calls()[0])

	evaluator.Stop(ctx)

	require.ErrorIs(t, evaluator.Submit(ctx, &registration), trigger.ErrStopped)
}

func TestEvaluator_SubmitRejectsUnknownEvents(t *testing.T) {
	evaluator := trigger.NewEvaluator(newStore(t).WorkflowRepository(), testutil.NewDirectory(), &recordingRunner{}, testutil.Logger(), 1)

	err := evaluator.Submit(context.Background(), &events.WorkflowExecutionStarted{})
	require.ErrorIs(t, err, events.ErrUnknownEventType)
}
