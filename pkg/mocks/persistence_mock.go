package mocks

import (
	"context"
	"time"

	"github.com/dukex/marketflow/pkg/models"
	"github.com/dukex/marketflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)

	return workflows(args.Get(0)), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) FindScheduled(ctx context.Context, now time.Time) ([]*models.Workflow, error) {
	args := m.Called(ctx, now)

	return workflows(args.Get(0)), args.Error(1)
}

func (m *MockWorkflowRepository) FindByTriggerTypeAndShop(ctx context.Context, triggerType models.TriggerType, shopID string) ([]*models.Workflow, error) {
	args := m.Called(ctx, triggerType, shopID)

	return workflows(args.Get(0)), args.Error(1)
}

func (m *MockWorkflowRepository) FindByTriggerType(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	args := m.Called(ctx, triggerType)

	return workflows(args.Get(0)), args.Error(1)
}

func workflows(value any) []*models.Workflow {
	if value == nil {
		return nil
	}

	return value.([]*models.Workflow)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockExecutionRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

// MockDeliveryRepository is a mock implementation of persistence.DeliveryRepository interface.
type MockDeliveryRepository struct {
	mock.Mock
}

func (m *MockDeliveryRepository) Claim(ctx context.Context, workflowID, day string, customerIDs []string) ([]string, error) {
	args := m.Called(ctx, workflowID, day, customerIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]string), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Workflows  *MockWorkflowRepository
	Executions *MockExecutionRepository
	Deliveries *MockDeliveryRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows:  &MockWorkflowRepository{},
		Executions: &MockExecutionRepository{},
		Deliveries: &MockDeliveryRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) DeliveryRepository() persistence.DeliveryRepository {
	return m.Deliveries
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
