package mocks

import (
	"context"

	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
	"github.com/stretchr/testify/mock"
)

// Controller is a testify mock of capability.Controller for implementation
// tests; back Section with persistence/impl/memory.
type Controller struct {
	mock.Mock
}

func (m *Controller) Address() communicator.Address {
	args := m.Called()
	return args.Get(0).(communicator.Address)
}

func (m *Controller) Version() uint8 {
	args := m.Called()
	return args.Get(0).(uint8)
}

func (m *Controller) VersionKnown() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *Controller) Send(ctx context.Context, f frame.Frame) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *Controller) Exchange(ctx context.Context, f frame.Frame, replyID uint8, predicate communicator.Predicate) (frame.Frame, error) {
	args := m.Called(ctx, f, replyID, predicate)
	return args.Get(0).(frame.Frame), args.Error(1)
}

func (m *Controller) Section() persistence.Section {
	args := m.Called()
	return args.Get(0).(persistence.Section)
}

func (m *Controller) SendEvent(event any) {
	m.Called(event)
}
