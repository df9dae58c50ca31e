package zwc

import (
	"context"
	"sync"

	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

// Instance binds one capability implementation to one endpoint of one
// node, and is the controller handed to the implementation.
type Instance struct {
	gw      *ZWC
	n       *node
	address communicator.Address
	impl    capability.Implementation

	// Serializes unsolicited frame handling for this instance.
	m *sync.Mutex
}

func (i *Instance) Address() communicator.Address {
	return i.address
}

// Version reports the node's negotiated version for this command class.
// Encoders treat an unknown version as 1.
func (i *Instance) Version() uint8 {
	if v, found := i.gw.nodeVersion(i.address.NodeID, i.address.CommandClass); found {
		return v
	}

	return 1
}

func (i *Instance) VersionKnown() bool {
	_, found := i.gw.nodeVersion(i.address.NodeID, i.address.CommandClass)
	return found
}

func (i *Instance) Send(ctx context.Context, f frame.Frame) error {
	return i.gw.transport.Send(ctx, i.address.NodeID, i.address.Endpoint, f.Marshal())
}

// Exchange sends a request and awaits the matching reply. The waiter is
// registered before the request reaches the transport, so a reply
// arriving faster than this goroutine resumes is still captured.
func (i *Instance) Exchange(ctx context.Context, f frame.Frame, replyID uint8, predicate communicator.Predicate) (frame.Frame, error) {
	return i.gw.exchange(ctx, i.address, f, replyID, predicate)
}

func (i *Instance) Section() persistence.Section {
	return i.gw.sectionForInstance(i.address).Section(dataSection)
}

func (i *Instance) SendEvent(event any) {
	i.gw.sendEvent(event)
}

var _ capability.Controller = (*Instance)(nil)
