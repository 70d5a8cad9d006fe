package mocks

import (
	"context"
	"time"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Workflows *MockWorkflowRepository
	Runs      *MockRunRepository
	StepLogs  *MockStepLogRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows: &MockWorkflowRepository{},
		Runs:      &MockRunRepository{},
		StepLogs:  &MockStepLogRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.Workflows
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	return m.Runs
}

func (m *MockPersistence) StepLogRepository() persistence.StepLogRepository {
	return m.StepLogs
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockWorkflowRepository) FindActiveByTrigger(
	ctx context.Context,
	organizationID, pipelineID string,
	triggerType models.TriggerType,
) ([]*models.Workflow, error) {
	args := m.Called(ctx, organizationID, pipelineID, triggerType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) CreateIfAbsent(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, bool, error) {
	args := m.Called(ctx, run)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}

	return args.Get(0).(*models.WorkflowRun), args.Bool(1), args.Error(2)
}

func (m *MockRunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) CompareAndSwap(ctx context.Context, run *models.WorkflowRun, expected models.RunStatus) (bool, error) {
	args := m.Called(ctx, run, expected)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) ([]*models.WorkflowRun, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) DueWaiting(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowRun, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRun), args.Error(1)
}

// MockStepLogRepository is a mock implementation of persistence.StepLogRepository interface.
type MockStepLogRepository struct {
	mock.Mock
}

func (m *MockStepLogRepository) Append(ctx context.Context, log *models.StepLog) error {
	args := m.Called(ctx, log)

	return args.Error(0)
}

func (m *MockStepLogRepository) Update(ctx context.Context, log *models.StepLog) error {
	args := m.Called(ctx, log)

	return args.Error(0)
}

func (m *MockStepLogRepository) ListByRun(ctx context.Context, runID string) ([]*models.StepLog, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.StepLog), args.Error(1)
}

func (m *MockStepLogRepository) Latest(ctx context.Context, runID, stepID string) (*models.StepLog, error) {
	args := m.Called(ctx, runID, stepID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.StepLog), args.Error(1)
}
