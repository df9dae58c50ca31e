package zwc

import (
	"context"
	"errors"
	"testing"

	"github.com/shimmeringbee/zwc/capability/switch_binary"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestZWC_Exchange(t *testing.T) {
	addr := communicator.Address{NodeID: 5, Endpoint: 0, CommandClass: frame.CommandClassSwitchBinary}

	t.Run("captures a reply that arrives before the transmit returns", func(t *testing.T) {
		z, st := newScriptedZWC(func(nodeID uint8, endpoint uint8, f frame.Frame) []frame.Frame {
			return []frame.Frame{frame.New(frame.CommandClassSwitchBinary, 0x03, []byte{0xff})}
		})
		z.createNode(5)

		reply, err := z.exchange(context.Background(), addr, frame.New(frame.CommandClassSwitchBinary, 0x02, nil), 0x03, nil)
		assert.NoError(t, err)
		assert.Equal(t, []byte{0xff}, reply.Payload)

		assert.Len(t, st.sent, 1)
		assert.Equal(t, uint8(0x02), st.sent[0].CommandID)
	})

	t.Run("withdraws the waiter when the transmit fails", func(t *testing.T) {
		z, mt := newTestZWC()
		defer mt.AssertExpectations(t)

		mt.On("Send", mock.Anything, uint8(5), uint8(0), mock.Anything).Return(errors.New("link down"))

		_, err := z.exchange(context.Background(), addr, frame.New(frame.CommandClassSwitchBinary, 0x02, nil), 0x03, nil)
		assert.Error(t, err)
		assert.Equal(t, 0, z.comm.Pending(addr))
	})
}

func TestZWC_HandleInbound(t *testing.T) {
	t.Run("drops malformed frames", func(t *testing.T) {
		z, _ := newTestZWC()
		z.createNode(5)

		z.handleInbound(context.Background(), 5, 0, []byte{0x25})
	})

	t.Run("drops frames from unknown nodes", func(t *testing.T) {
		z, _ := newTestZWC()

		z.handleInbound(context.Background(), 5, 0, []byte{0x25, 0x03, 0xff})
	})

	t.Run("routes unsolicited frames to the attached capability", func(t *testing.T) {
		z, _ := newTestZWC()
		n, _ := z.createNode(5)

		mi := &mockImplementation{}
		defer mi.AssertExpectations(t)
		mi.On("CommandClass").Return(frame.CommandClassSwitchBinary)
		mi.On("Name").Return("SwitchBinary")
		mi.On("Attach", mock.Anything)
		mi.On("HandleUnsolicited", mock.Anything, frame.New(frame.CommandClassSwitchBinary, 0x03, []byte{0xff})).Return(nil)

		z.attachInstance(n, 0, mi)

		z.handleInbound(context.Background(), 5, 0, []byte{0x25, 0x03, 0xff})
	})

	t.Run("solicited frames refresh the capability before resolving their waiter", func(t *testing.T) {
		z, _ := newTestZWC()
		n, _ := z.createNode(5)

		mi := &mockImplementation{}
		defer mi.AssertExpectations(t)
		mi.On("CommandClass").Return(frame.CommandClassSwitchBinary)
		mi.On("Name").Return("SwitchBinary")
		mi.On("Attach", mock.Anything)
		mi.On("HandleUnsolicited", mock.Anything, frame.New(frame.CommandClassSwitchBinary, 0x03, []byte{0xff})).Return(nil).Once()

		z.attachInstance(n, 0, mi)

		addr := communicator.Address{NodeID: 5, Endpoint: 0, CommandClass: frame.CommandClassSwitchBinary}
		w := z.comm.Expect(addr, 0x03, nil)

		z.handleInbound(context.Background(), 5, 0, []byte{0x25, 0x03, 0xff})

		reply, err := z.comm.Await(context.Background(), w)
		assert.NoError(t, err)
		assert.Equal(t, []byte{0xff}, reply.Payload)
	})

	t.Run("a newer report arriving behind a solicited reply keeps the last word", func(t *testing.T) {
		z, _ := newScriptedZWC(func(nodeID uint8, endpoint uint8, f frame.Frame) []frame.Frame {
			// The device answers the get, then immediately reports a
			// fresher state; both land before the transmit returns.
			return []frame.Frame{
				frame.New(frame.CommandClassSwitchBinary, 0x03, []byte{0xff}),
				frame.New(frame.CommandClassSwitchBinary, 0x03, []byte{0x00}),
			}
		})
		n, _ := z.createNode(5)

		inst := z.attachInstance(n, 0, switch_binary.NewSwitchBinary())
		sb := inst.impl.(*switch_binary.Implementation)

		on, err := sb.Query(context.Background())
		assert.NoError(t, err)
		assert.True(t, on)

		cached, known := sb.State()
		assert.True(t, known)
		assert.False(t, cached)
	})

	t.Run("drops frames with no waiter and no attached capability", func(t *testing.T) {
		z, _ := newTestZWC()
		z.createNode(5)

		z.handleInbound(context.Background(), 5, 0, []byte{0x25, 0x03, 0xff})
	})
}
