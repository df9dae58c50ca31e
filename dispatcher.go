package zwc

import (
	"context"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

// exchange registers a waiter for the reply, then transmits the request.
// Registration happens first so the reply cannot race the registration;
// the waiter is torn down if the transmit fails.
func (z *ZWC) exchange(ctx context.Context, addr communicator.Address, req frame.Frame, replyID uint8, predicate communicator.Predicate) (frame.Frame, error) {
	w := z.comm.Expect(addr, replyID, predicate)

	if err := z.transport.Send(ctx, addr.NodeID, addr.Endpoint, req.Marshal()); err != nil {
		z.comm.Cancel(w)
		return frame.Frame{}, err
	}

	return z.comm.Await(ctx, w)
}

// handleInbound routes one application frame. A frame owned by an attached
// capability is folded into its cache first, under the instance lock, so
// cache writes follow wire arrival order even when the frame also resolves
// a waiter; only then are waiters offered the frame. Frames with no owning
// instance (interview negotiation replies) go straight to their waiters.
func (z *ZWC) handleInbound(ctx context.Context, nodeID uint8, endpointID uint8, data []byte) {
	f, err := frame.Parse(data)
	if err != nil {
		z.logger.LogWarn(ctx, "Discarding malformed inbound frame.", logwrap.Datum("NodeID", nodeID), logwrap.Err(err))
		return
	}

	if z.getNode(nodeID) == nil {
		z.logger.LogWarn(ctx, "Discarding frame from unknown node.", logwrap.Datum("NodeID", nodeID), logwrap.Datum("CommandClass", f.CommandClass.String()))
		return
	}

	addr := communicator.Address{NodeID: nodeID, Endpoint: endpointID, CommandClass: f.CommandClass}

	inst := z.getInstance(addr)
	if inst == nil {
		if z.comm.Deliver(addr, f) {
			return
		}

		z.logger.LogDebug(ctx, "Discarding frame with no attached capability.", logwrap.Datum("NodeID", nodeID), logwrap.Datum("Endpoint", endpointID), logwrap.Datum("CommandClass", f.CommandClass.String()))
		return
	}

	inst.m.Lock()
	handleErr := inst.impl.HandleUnsolicited(ctx, f)
	inst.m.Unlock()

	if z.comm.Deliver(addr, f) {
		return
	}

	if handleErr != nil {
		z.logger.LogWarn(ctx, "Capability rejected unsolicited frame.", logwrap.Datum("NodeID", nodeID), logwrap.Datum("CommandClass", f.CommandClass.String()), logwrap.Err(handleErr))
	}
}
