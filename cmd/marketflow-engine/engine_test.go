package main

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/marketflow/pkg/cmd"
	"github.com/dukex/marketflow/pkg/dispatch"
	"github.com/dukex/marketflow/pkg/events"
	"github.com/dukex/marketflow/pkg/inbox"
	"github.com/dukex/marketflow/pkg/lock"
	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence/file"
	"github.com/dukex/marketflow/pkg/scheduler"
	"github.com/dukex/marketflow/pkg/targeting"
	"github.com/dukex/marketflow/pkg/testutil"
	"github.com/dukex/marketflow/pkg/tracking"
	"github.com/dukex/marketflow/pkg/trigger"
	"github.com/dukex/marketflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

type engineHarness struct {
	engine    *Engine
	transport *testutil.Transport
}

// newEngine wires an engine over an in-memory bus and a file store holding
// one visit-milestone workflow that alice has just reached.
func newEngine(t *testing.T, client *redis.Client) *engineHarness {
	t.Helper()

	ctx := context.Background()
	logger := testutil.Logger()
	clock := clockwork.NewFakeClockAt(now)

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.WorkflowRepository().Save(ctx, testutil.CreateTestWorkflow(
		func(w *models.Workflow) { w.ID = "wf-milestone" },
		testutil.WithTrigger(models.TriggerVisitMilestone, `{"visitMilestone":1}`),
	)))

	directory := testutil.NewDirectory().Add("shop-1", testutil.Customer{ID: "alice"}, testutil.Customer{ID: "bob"})
	directory.AddVisit("shop-1", "alice", now)

	transport := testutil.NewTransport()

	bus, err := cmd.NewEventBus("gochannel", "", serviceName, logger)
	require.NoError(t, err)

	stack := &cmd.Stack{
		Persistence: store,
		Directory:   directory,
		Redis:       client,
		Executor: workflow.NewExecutor(
			store.WorkflowRepository(),
			store.DeliveryRepository(),
			tracking.NewTracker(store.ExecutionRepository(), bus, clock, logger),
			targeting.NewPipeline(directory, clock, time.UTC, logger),
			dispatch.NewDispatcher(transport, testutil.NewCoupons(), clock, logger, dispatch.Config{}),
			lock.NewLocal(),
			clock,
			time.UTC,
			nil,
			logger,
		),
	}
	t.Cleanup(func() { stack.Close(ctx, logger) })

	engine, err := NewEngine(logger, clock, bus, stack, scheduler.Config{}, "marketflow:test:inbox")
	require.NoError(t, err)

	return &engineHarness{engine: engine, transport: transport}
}

func TestEngine_StartStopWithoutInbox(t *testing.T) {
	ctx := context.Background()
	h := newEngine(t, nil)

	assert.Nil(t, h.engine.inbox, "no redis, no inbox")

	require.NoError(t, h.engine.Start(ctx))

	visit := events.CustomerVisit{CustomerID: "alice", ShopID: "shop-1", At: now}
	require.NoError(t, h.engine.bus.Publish(ctx, visit.PartitionKey(), visit))

	require.Eventually(t, func() bool {
		return h.transport.SendCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.engine.Stop(ctx)

	assert.Error(t, h.engine.bus.Publish(ctx, visit.PartitionKey(), visit), "bus is closed after stop")
	assert.ErrorIs(t, h.engine.evaluator.Submit(ctx, &visit), trigger.ErrStopped)
	assert.Equal(t, 1, h.transport.SendCount())
}

func TestEngine_StartRejectsSecondStart(t *testing.T) {
	ctx := context.Background()
	h := newEngine(t, nil)

	require.NoError(t, h.engine.Start(ctx))
	t.Cleanup(func() { h.engine.Stop(ctx) })

	assert.Error(t, h.engine.Start(ctx), "event handlers are registered once")
}

func TestEngine_ConsumesInbox(t *testing.T) {
	ctx := context.Background()
	client := testutil.SetupRedis(t)
	h := newEngine(t, client)

	require.NotNil(t, h.engine.inbox)
	require.NoError(t, h.engine.Start(ctx))

	producer := inbox.New(client, "marketflow:test:inbox", testutil.Logger())
	require.NoError(t, producer.Push(ctx, events.CustomerVisitEvent, events.CustomerVisit{CustomerID: "alice", ShopID: "shop-1", At: now}))

	require.Eventually(t, func() bool {
		return h.transport.SendCount() == 1
	}, 10*time.Second, 20*time.Millisecond)

	h.engine.Stop(ctx)
}
