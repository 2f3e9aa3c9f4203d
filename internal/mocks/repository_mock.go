package mocks

import (
	"context"

	"whatif-server/internal/models"
	"whatif-server/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockMessageRepository is a mock type for the repository.MessageRepository type
type MockMessageRepository struct {
	mock.Mock
}

// Append provides a mock function with given fields: ctx, msg
func (_m *MockMessageRepository) Append(ctx context.Context, msg *models.Message) error {
	ret := _m.Called(ctx, msg)
	if rf, ok := ret.Get(0).(func(context.Context, *models.Message) error); ok {
		return rf(ctx, msg)
	}
	return ret.Error(0)
}

// ListRecent provides a mock function with given fields: ctx, conversationID, limit
func (_m *MockMessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	ret := _m.Called(ctx, conversationID, limit)

	var r0 []models.Message
	if rf, ok := ret.Get(0).(func(context.Context, string, int) []models.Message); ok {
		r0 = rf(ctx, conversationID, limit)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.Message)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, int) error); ok {
		r1 = rf(ctx, conversationID, limit)
	} else {
		r1 = ret.Error(1)
	}
	return r0, r1
}

// NewMockMessageRepository creates a new instance of MockMessageRepository.
func NewMockMessageRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockMessageRepository {
	m := &MockMessageRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ repository.MessageRepository = (*MockMessageRepository)(nil)

// MockConversationRepository is a mock type for the repository.ConversationRepository type
type MockConversationRepository struct {
	mock.Mock
}

// CheckAccess provides a mock function with given fields: ctx, conversationID, userID
func (_m *MockConversationRepository) CheckAccess(ctx context.Context, conversationID string, userID uuid.UUID) error {
	ret := _m.Called(ctx, conversationID, userID)
	return ret.Error(0)
}

// Create provides a mock function with given fields: ctx, conversationID, userID, title
func (_m *MockConversationRepository) Create(ctx context.Context, conversationID string, userID uuid.UUID, title string) error {
	ret := _m.Called(ctx, conversationID, userID, title)
	return ret.Error(0)
}

// NewMockConversationRepository creates a new instance of MockConversationRepository.
func NewMockConversationRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockConversationRepository {
	m := &MockConversationRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ repository.ConversationRepository = (*MockConversationRepository)(nil)
