package mocks

import (
	"context"

	"whatif-server/internal/llm"
	"whatif-server/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockGenerator is a mock type for the llm.Generator type
type MockGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, systemPrompt, history, userMessage
func (_m *MockGenerator) Generate(ctx context.Context, systemPrompt string, history []models.Message, userMessage string) (string, error) {
	ret := _m.Called(ctx, systemPrompt, history, userMessage)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, []models.Message, string) string); ok {
		r0 = rf(ctx, systemPrompt, history, userMessage)
	} else {
		r0 = ret.String(0)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, []models.Message, string) error); ok {
		r1 = rf(ctx, systemPrompt, history, userMessage)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockGenerator creates a new instance of MockGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockGenerator {
	m := &MockGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ llm.Generator = (*MockGenerator)(nil)
