// Package communicator correlates inbound report frames with the callers
// awaiting them. A caller registers a Waiter for "the next frame of command
// X at this capability instance matching predicate P" before its request is
// handed to the transport, so a fast responding node can never slip a reply
// in between transmission and registration.
package communicator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shimmeringbee/zwc/frame"
)

var (
	// ErrTimedOut is returned by Await when the deadline elapsed before a
	// matching frame arrived.
	ErrTimedOut = errors.New("timed out awaiting response")
	// ErrCancelled is returned by Await when the caller's cancellation
	// signal fired first.
	ErrCancelled = errors.New("await cancelled")
)

// Address identifies a capability instance, the unit waiters are registered
// against and inbound frames are delivered to.
type Address struct {
	NodeID       uint8
	Endpoint     uint8
	CommandClass frame.CommandClass
}

func (a Address) String() string {
	return fmt.Sprintf("%02x-%02x-%s", a.NodeID, a.Endpoint, a.CommandClass)
}

// Predicate narrows a waiter beyond the command identifier, needed where
// many requests of the same command are outstanding and only a payload
// field (parameter number, user identifier) tells the replies apart.
type Predicate func(frame.Frame) bool

// AnyFrame accepts every frame of the expected command.
func AnyFrame(frame.Frame) bool { return true }

// Waiter is the registration of one pending await. It leaves the live set
// exactly once: on match, cancellation or timeout.
type Waiter struct {
	address   Address
	commandID uint8
	predicate Predicate

	// Buffered by one so Deliver never blocks on a slow caller.
	delivery chan frame.Frame
}

type Communicator struct {
	mutex   sync.Mutex
	waiters map[Address][]*Waiter
}

func New() *Communicator {
	return &Communicator{
		waiters: make(map[Address][]*Waiter),
	}
}

// Expect registers a waiter for the next frame of commandID at address that
// satisfies predicate (nil accepts any). It must be called before the
// request frame that solicits the reply is handed to the transport.
func (c *Communicator) Expect(address Address, commandID uint8, predicate Predicate) *Waiter {
	if predicate == nil {
		predicate = AnyFrame
	}

	w := &Waiter{
		address:   address,
		commandID: commandID,
		predicate: predicate,
		delivery:  make(chan frame.Frame, 1),
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.waiters[address] = append(c.waiters[address], w)

	return w
}

// Await blocks until the waiter resolves with a frame, the context deadline
// elapses (ErrTimedOut) or the context is cancelled (ErrCancelled). The
// waiter is removed from the live set on all three paths; a resolution that
// raced a cancellation wins, so a frame is never dropped once matched.
func (c *Communicator) Await(ctx context.Context, w *Waiter) (frame.Frame, error) {
	select {
	case f := <-w.delivery:
		return f, nil
	case <-ctx.Done():
		if !c.remove(w) {
			// Deliver resolved the waiter before we could withdraw it, the
			// frame is already sitting in the buffered channel.
			return <-w.delivery, nil
		}

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return frame.Frame{}, ErrTimedOut
		}

		return frame.Frame{}, ErrCancelled
	}
}

// Cancel withdraws a waiter that will no longer be awaited, such as when
// the request transmission failed after registration.
func (c *Communicator) Cancel(w *Waiter) {
	c.remove(w)
}

// remove unregisters w, reporting whether it was still live.
func (c *Communicator) remove(w *Waiter) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	live := c.waiters[w.address]

	for i, candidate := range live {
		if candidate == w {
			c.waiters[w.address] = append(live[:i], live[i+1:]...)

			if len(c.waiters[w.address]) == 0 {
				delete(c.waiters, w.address)
			}

			return true
		}
	}

	return false
}

// Deliver offers an inbound frame to every live waiter on address whose
// command and predicate match, resolving each; distinct callers may
// legitimately await the same report. It reports whether any waiter
// matched, the dispatcher hands unmatched frames to the capability's
// unsolicited path.
func (c *Communicator) Deliver(address Address, f frame.Frame) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	live := c.waiters[address]
	matched := false

	remaining := live[:0]
	for _, w := range live {
		if w.commandID == f.CommandID && w.predicate(f) {
			matched = true
			w.delivery <- f
		} else {
			remaining = append(remaining, w)
		}
	}

	if len(remaining) == 0 {
		delete(c.waiters, address)
	} else {
		c.waiters[address] = remaining
	}

	return matched
}

// Pending reports the number of live waiters on address.
func (c *Communicator) Pending(address Address) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.waiters[address])
}
