package file

import (
	"sync"
	"testing"
	"time"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(id, shop string, tt models.TriggerType) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		ShopID:      shop,
		Title:       "Workflow " + id,
		TriggerType: tt,
		ActionType:  models.ActionMessageOnly,
		IsActive:    true,
	}
}

func TestWorkflowRepository_SaveAndGetByID(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	workflow := newWorkflow("wf-1", "shop-1", models.TriggerVisitCycle)
	workflow.TriggerConfig = []byte(`{"visitCycleDays":14}`)

	require.NoError(t, repo.Save(t.Context(), workflow))
	assert.Equal(t, int64(1), workflow.Version)
	assert.False(t, workflow.CreatedAt.IsZero())

	loaded, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "shop-1", loaded.ShopID)
	assert.Equal(t, int64(1), loaded.Version)
	assert.JSONEq(t, `{"visitCycleDays":14}`, string(loaded.TriggerConfig))
}

func TestWorkflowRepository_SaveGeneratesID(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	workflow := newWorkflow("", "shop-1", models.TriggerBirthday)
	require.NoError(t, repo.Save(t.Context(), workflow))
	assert.NotEmpty(t, workflow.ID)

	_, err := repo.GetByID(t.Context(), workflow.ID)
	assert.NoError(t, err)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	_, err := repo.GetByID(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	var wfErr *persistence.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, "missing", wfErr.WorkflowID)
}

func TestWorkflowRepository_VersionConflict(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())
	require.NoError(t, repo.Save(t.Context(), newWorkflow("wf-1", "shop-1", models.TriggerBirthday)))

	first, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	second, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)

	first.RecordExecution(true, time.Now())
	require.NoError(t, repo.Save(t.Context(), first))
	assert.Equal(t, int64(2), first.Version)

	second.RecordExecution(false, time.Now())
	err = repo.Save(t.Context(), second)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))
	assert.Equal(t, int64(1), second.Version)

	stored, err := repo.GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.SuccessCount)
	assert.Equal(t, int64(0), stored.FailureCount)
}

func TestWorkflowRepository_InsertWithStaleVersionConflicts(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())

	workflow := newWorkflow("wf-1", "shop-1", models.TriggerBirthday)
	workflow.Version = 4

	err := repo.Save(t.Context(), workflow)
	assert.True(t, persistence.IsVersionConflict(err))
}

func TestWorkflowRepository_ConcurrentSavesOnlyOneWins(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())
	require.NoError(t, repo.Save(t.Context(), newWorkflow("wf-1", "shop-1", models.TriggerBirthday)))

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			stale := newWorkflow("wf-1", "shop-1", models.TriggerBirthday)
			stale.Version = 1

			if err := repo.Save(t.Context(), stale); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestWorkflowRepository_Finders(t *testing.T) {
	repo := NewWorkflowRepository(t.TempDir())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newWorkflow("due", "shop-1", models.TriggerVisitCycle)
	due.NextScheduledAt = &past

	notYet := newWorkflow("not-yet", "shop-1", models.TriggerVisitCycle)
	notYet.NextScheduledAt = &future

	inactive := newWorkflow("inactive", "shop-1", models.TriggerVisitCycle)
	inactive.IsActive = false
	inactive.NextScheduledAt = &past

	deleted := newWorkflow("deleted", "shop-2", models.TriggerVisitCycle)
	deleted.DeletedAt = &past
	deleted.NextScheduledAt = &past

	otherShop := newWorkflow("other-shop", "shop-2", models.TriggerVisitCycle)
	birthday := newWorkflow("birthday", "shop-1", models.TriggerBirthday)

	for _, w := range []*models.Workflow{due, notYet, inactive, deleted, otherShop, birthday} {
		require.NoError(t, repo.Save(t.Context(), w))
	}

	all, err := repo.GetAll(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 6)

	scheduled, err := repo.FindScheduled(t.Context(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"due"}, ids(scheduled))

	byShop, err := repo.FindByTriggerTypeAndShop(t.Context(), models.TriggerVisitCycle, "shop-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due", "not-yet"}, ids(byShop))

	byType, err := repo.FindByTriggerType(t.Context(), models.TriggerVisitCycle)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due", "not-yet", "other-shop"}, ids(byType))
}

func ids(workflows []*models.Workflow) []string {
	out := make([]string, 0, len(workflows))
	for _, w := range workflows {
		out = append(out, w.ID)
	}

	return out
}
