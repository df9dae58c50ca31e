package communicator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shimmeringbee/zwc/frame"
	"github.com/stretchr/testify/assert"
)

const reportCommand uint8 = 0x03

var address = Address{NodeID: 3, Endpoint: 0, CommandClass: frame.CommandClassSwitchBinary}

func TestCommunicator_Await(t *testing.T) {
	t.Run("resolves with a frame delivered after registration", func(t *testing.T) {
		c := New()

		w := c.Expect(address, reportCommand, nil)

		go func() {
			c.Deliver(address, frame.New(frame.CommandClassSwitchBinary, reportCommand, []byte{0xff}))
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		f, err := c.Await(ctx, w)
		assert.NoError(t, err)
		assert.Equal(t, []byte{0xff}, f.Payload)
		assert.Equal(t, 0, c.Pending(address))
	})

	t.Run("resolves immediately if the frame arrived before Await was reached", func(t *testing.T) {
		c := New()

		w := c.Expect(address, reportCommand, nil)
		matched := c.Deliver(address, frame.New(frame.CommandClassSwitchBinary, reportCommand, []byte{0x00}))
		assert.True(t, matched)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		f, err := c.Await(ctx, w)
		assert.NoError(t, err)
		assert.Equal(t, []byte{0x00}, f.Payload)
	})

	t.Run("returns ErrTimedOut when the deadline elapses and removes the waiter", func(t *testing.T) {
		c := New()

		w := c.Expect(address, reportCommand, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()

		_, err := c.Await(ctx, w)
		assert.ErrorIs(t, err, ErrTimedOut)
		assert.Equal(t, 0, c.Pending(address))
	})

	t.Run("returns ErrCancelled when the caller cancels first", func(t *testing.T) {
		c := New()

		w := c.Expect(address, reportCommand, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Await(ctx, w)
		assert.ErrorIs(t, err, ErrCancelled)
		assert.Equal(t, 0, c.Pending(address))
	})

	t.Run("a frame arriving after cancellation is left for the unsolicited path", func(t *testing.T) {
		c := New()

		w := c.Expect(address, reportCommand, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Await(ctx, w)
		assert.ErrorIs(t, err, ErrCancelled)

		matched := c.Deliver(address, frame.New(frame.CommandClassSwitchBinary, reportCommand, []byte{0xff}))
		assert.False(t, matched)
	})
}

func TestCommunicator_Deliver(t *testing.T) {
	t.Run("two waiters with distinct predicates each receive only their own report regardless of arrival order", func(t *testing.T) {
		c := New()
		address := Address{NodeID: 9, Endpoint: 0, CommandClass: frame.CommandClassWindowCovering}

		forParameter := func(id uint8) Predicate {
			return func(f frame.Frame) bool {
				return len(f.Payload) > 0 && f.Payload[0] == id
			}
		}

		wA := c.Expect(address, reportCommand, forParameter(0x01))
		wB := c.Expect(address, reportCommand, forParameter(0x02))

		var wg sync.WaitGroup
		wg.Add(2)

		var fA, fB frame.Frame
		var errA, errB error

		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			fA, errA = c.Await(ctx, wA)
		}()

		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			fB, errB = c.Await(ctx, wB)
		}()

		// Replies land in the opposite order to registration.
		c.Deliver(address, frame.New(frame.CommandClassWindowCovering, reportCommand, []byte{0x02, 0x63}))
		c.Deliver(address, frame.New(frame.CommandClassWindowCovering, reportCommand, []byte{0x01, 0x00}))

		wg.Wait()

		assert.NoError(t, errA)
		assert.NoError(t, errB)
		assert.Equal(t, uint8(0x01), fA.Payload[0])
		assert.Equal(t, uint8(0x02), fB.Payload[0])
	})

	t.Run("one frame resolves every waiter it matches", func(t *testing.T) {
		c := New()

		wA := c.Expect(address, reportCommand, nil)
		wB := c.Expect(address, reportCommand, nil)

		matched := c.Deliver(address, frame.New(frame.CommandClassSwitchBinary, reportCommand, []byte{0xff}))
		assert.True(t, matched)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		fA, err := c.Await(ctx, wA)
		assert.NoError(t, err)
		fB, err := c.Await(ctx, wB)
		assert.NoError(t, err)

		assert.Equal(t, fA, fB)
	})

	t.Run("frames for other commands or addresses do not match", func(t *testing.T) {
		c := New()

		c.Expect(address, reportCommand, nil)

		assert.False(t, c.Deliver(address, frame.New(frame.CommandClassSwitchBinary, 0x02, nil)))

		other := Address{NodeID: 4, Endpoint: 0, CommandClass: frame.CommandClassSwitchBinary}
		assert.False(t, c.Deliver(other, frame.New(frame.CommandClassSwitchBinary, reportCommand, []byte{0xff})))

		assert.Equal(t, 1, c.Pending(address))
	})

	t.Run("a matched waiter resolves exactly once", func(t *testing.T) {
		c := New()

		w := c.Expect(address, reportCommand, nil)

		assert.True(t, c.Deliver(address, frame.New(frame.CommandClassSwitchBinary, reportCommand, []byte{0x01})))
		assert.False(t, c.Deliver(address, frame.New(frame.CommandClassSwitchBinary, reportCommand, []byte{0x02})))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		f, err := c.Await(ctx, w)
		assert.NoError(t, err)
		assert.Equal(t, []byte{0x01}, f.Payload)
	})
}

func TestCommunicator_Cancel(t *testing.T) {
	t.Run("withdraws a registered waiter", func(t *testing.T) {
		c := New()

		w := c.Expect(address, reportCommand, nil)
		assert.Equal(t, 1, c.Pending(address))

		c.Cancel(w)
		assert.Equal(t, 0, c.Pending(address))
	})

	t.Run("cancelling twice is harmless", func(t *testing.T) {
		c := New()

		w := c.Expect(address, reportCommand, nil)
		c.Cancel(w)
		c.Cancel(w)

		assert.Equal(t, 0, c.Pending(address))
	})
}
