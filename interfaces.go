package zwc

import (
	"context"

	"github.com/shimmeringbee/zwc/frame"
)

// Transport carries application frames to and from the mesh network. It
// owns retransmission, routing and any endpoint encapsulation; the core
// only deals in node, endpoint and frame bytes.
type Transport interface {
	Send(ctx context.Context, nodeID uint8, endpoint uint8, data []byte) error
	ReadEvent(ctx context.Context) (any, error)
}

// NodeAddedEvent announces a node the transport has learnt of, with the
// command classes from its node information frame.
type NodeAddedEvent struct {
	NodeID         uint8
	Listening      bool
	Generic        uint8
	Specific       uint8
	CommandClasses []frame.CommandClass
}

// NodeRemovedEvent announces a node that has left the network.
type NodeRemovedEvent struct {
	NodeID uint8
}

// NodeIncomingFrameEvent is one application frame received from a node,
// already stripped of any endpoint encapsulation.
type NodeIncomingFrameEvent struct {
	NodeID   uint8
	Endpoint uint8
	Data     []byte
}
