package mocks

import (
	"context"

	"whatif-server/internal/models"
	"whatif-server/internal/worker"

	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock type for the worker.Dispatcher type
type MockDispatcher struct {
	mock.Mock
}

// Dispatch provides a mock function with given fields: ctx, job
func (_m *MockDispatcher) Dispatch(ctx context.Context, job models.GenerationJob) error {
	ret := _m.Called(ctx, job)
	if rf, ok := ret.Get(0).(func(context.Context, models.GenerationJob) error); ok {
		return rf(ctx, job)
	}
	return ret.Error(0)
}

// NewMockDispatcher creates a new instance of MockDispatcher.
func NewMockDispatcher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDispatcher {
	m := &MockDispatcher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ worker.Dispatcher = (*MockDispatcher)(nil)
