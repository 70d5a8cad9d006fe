package mocks

import (
	"context"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/notify"
	"github.com/stretchr/testify/mock"
)

// MockCRMClient is a mock implementation of crm.Client interface.
type MockCRMClient struct {
	mock.Mock
}

func (m *MockCRMClient) GetEmailTemplate(ctx context.Context, organizationID, templateID string) (*models.EmailTemplate, error) {
	args := m.Called(ctx, organizationID, templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.EmailTemplate), args.Error(1)
}

func (m *MockCRMClient) GetContact(ctx context.Context, organizationID, contactID string) (*models.Contact, error) {
	args := m.Called(ctx, organizationID, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Contact), args.Error(1)
}

func (m *MockCRMClient) MoveStage(ctx context.Context, organizationID, contactID, stageID string) error {
	args := m.Called(ctx, organizationID, contactID, stageID)

	return args.Error(0)
}

func (m *MockCRMClient) AddTag(ctx context.Context, organizationID, contactID, tag string) error {
	args := m.Called(ctx, organizationID, contactID, tag)

	return args.Error(0)
}

func (m *MockCRMClient) RemoveTag(ctx context.Context, organizationID, contactID, tag string) error {
	args := m.Called(ctx, organizationID, contactID, tag)

	return args.Error(0)
}

// MockNotifier is a mock implementation of notify.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, msg *notify.Message) error {
	args := m.Called(ctx, msg)

	return args.Error(0)
}
