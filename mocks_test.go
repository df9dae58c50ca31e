package zwc

import (
	"context"

	"github.com/shimmeringbee/persistence/impl/memory"
	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/frame"
	"github.com/stretchr/testify/mock"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, nodeID uint8, endpoint uint8, data []byte) error {
	args := m.Called(ctx, nodeID, endpoint, data)
	return args.Error(0)
}

func (m *mockTransport) ReadEvent(ctx context.Context) (any, error) {
	args := m.Called(ctx)
	return args.Get(0), args.Error(1)
}

// scriptedTransport answers every outbound frame with the raw replies its
// handler returns, feeding them back through the inbound path before Send
// returns. A reply that early proves waiters are registered before
// transmission.
type scriptedTransport struct {
	z       *ZWC
	handler func(nodeID uint8, endpoint uint8, f frame.Frame) []frame.Frame
	sent    []frame.Frame
}

func (s *scriptedTransport) Send(_ context.Context, nodeID uint8, endpoint uint8, data []byte) error {
	f, err := frame.Parse(data)
	if err != nil {
		return err
	}

	s.sent = append(s.sent, f)

	if s.handler != nil {
		for _, reply := range s.handler(nodeID, endpoint, f) {
			s.z.handleInbound(context.Background(), nodeID, endpoint, reply.Marshal())
		}
	}

	return nil
}

func (s *scriptedTransport) ReadEvent(ctx context.Context) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockImplementation struct {
	mock.Mock
}

func (m *mockImplementation) CommandClass() frame.CommandClass {
	args := m.Called()
	return args.Get(0).(frame.CommandClass)
}

func (m *mockImplementation) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *mockImplementation) Attach(c capability.Controller) {
	m.Called(c)
}

func (m *mockImplementation) CommandSupported(commandID uint8) (bool, bool) {
	args := m.Called(commandID)
	return args.Bool(0), args.Bool(1)
}

func (m *mockImplementation) InterviewSteps() []capability.InterviewStep {
	args := m.Called()
	return args.Get(0).([]capability.InterviewStep)
}

func (m *mockImplementation) HandleUnsolicited(ctx context.Context, f frame.Frame) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *mockImplementation) Detach(ctx context.Context, detachType capability.DetachType) error {
	args := m.Called(ctx, detachType)
	return args.Error(0)
}

func newTestZWC() (*ZWC, *mockTransport) {
	mt := &mockTransport{}
	return New(memory.New(), mt), mt
}

func newScriptedZWC(handler func(nodeID uint8, endpoint uint8, f frame.Frame) []frame.Frame) (*ZWC, *scriptedTransport) {
	st := &scriptedTransport{handler: handler}
	z := New(memory.New(), st)
	st.z = z
	return z, st
}
