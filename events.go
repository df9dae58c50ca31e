package zwc

import (
	"context"

	"github.com/shimmeringbee/zwc/communicator"
)

// NodeAdded announces a node newly known to the gateway.
type NodeAdded struct {
	NodeID uint8
}

// NodeRemoved announces a node the gateway has forgotten.
type NodeRemoved struct {
	NodeID uint8
}

// NodeInterviewStart announces the beginning of a node interview.
type NodeInterviewStart struct {
	NodeID uint8
}

// NodeInterviewSuccess announces a completed node interview.
type NodeInterviewSuccess struct {
	NodeID uint8
}

// NodeInterviewFailure announces an abandoned node interview.
type NodeInterviewFailure struct {
	NodeID uint8
	Error  error
}

// CapabilityAdded announces a capability implementation attached to an
// endpoint.
type CapabilityAdded struct {
	Address communicator.Address
	Name    string
}

// CapabilityRemoved announces a capability implementation detached from
// an endpoint.
type CapabilityRemoved struct {
	Address communicator.Address
	Name    string
}

func (z *ZWC) sendEvent(e any) {
	select {
	case z.events <- e:
	default:
		z.logger.LogWarn(z.ctx, "Event channel buffer full, dropping event.")
	}
}

// ReadEvent blocks until an event is available or the context expires.
func (z *ZWC) ReadEvent(ctx context.Context) (any, error) {
	select {
	case e := <-z.events:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
