package zwc

import (
	"context"
	"sync"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
	"golang.org/x/sync/semaphore"
)

func (z *ZWC) createNode(nodeID uint8) (*node, bool) {
	z.nodeLock.Lock()
	defer z.nodeLock.Unlock()

	n, found := z.node[nodeID]
	if !found {
		n = &node{
			nodeID:       nodeID,
			m:            &sync.RWMutex{},
			endpoint:     make(map[uint8]*endpoint),
			interviewSem: semaphore.NewWeighted(1),
		}

		z.node[nodeID] = n

		z.sectionForNode(nodeID)
	}

	return n, !found
}

func (z *ZWC) getNode(nodeID uint8) *node {
	z.nodeLock.RLock()
	defer z.nodeLock.RUnlock()

	return z.node[nodeID]
}

func (z *ZWC) removeNode(ctx context.Context, n *node) {
	n.m.Lock()
	for _, ep := range n.endpoint {
		for _, inst := range ep.instance {
			z.logger.LogInfo(ctx, "Detaching capability from removed node.", logwrap.Datum("Implementation", inst.impl.Name()), logwrap.Datum("NodeID", n.nodeID))
			if err := inst.impl.Detach(ctx, capability.DeviceRemoved); err != nil {
				z.logger.LogWarn(ctx, "Error thrown while detaching capability.", logwrap.Datum("Implementation", inst.impl.Name()), logwrap.Err(err))
			}

			z.sendEvent(CapabilityRemoved{Address: inst.address, Name: inst.impl.Name()})
		}
	}
	n.m.Unlock()

	z.nodeLock.Lock()
	defer z.nodeLock.Unlock()

	if _, found := z.node[n.nodeID]; found {
		delete(z.node, n.nodeID)
		z.sectionRemoveNode(n.nodeID)
		z.sendEvent(NodeRemoved{NodeID: n.nodeID})
	}
}

func (z *ZWC) getInstance(addr communicator.Address) *Instance {
	n := z.getNode(addr.NodeID)
	if n == nil {
		return nil
	}

	n.m.RLock()
	defer n.m.RUnlock()

	ep, found := n.endpoint[addr.Endpoint]
	if !found {
		return nil
	}

	return ep.instance[addr.CommandClass]
}

func (z *ZWC) getInstances(n *node) []*Instance {
	n.m.RLock()
	defer n.m.RUnlock()

	var instances []*Instance

	for _, ep := range n.endpoint {
		for _, inst := range ep.instance {
			instances = append(instances, inst)
		}
	}

	return instances
}

// attachInstance binds an implementation to an endpoint, persisting the
// implementation name so the binding survives a restart.
func (z *ZWC) attachInstance(n *node, endpointID uint8, impl capability.Implementation) *Instance {
	addr := communicator.Address{NodeID: n.nodeID, Endpoint: endpointID, CommandClass: impl.CommandClass()}

	inst := &Instance{
		gw:      z,
		n:       n,
		address: addr,
		impl:    impl,
		m:       &sync.Mutex{},
	}

	impl.Attach(inst)

	n.m.Lock()
	n._endpoint(endpointID).instance[impl.CommandClass()] = inst
	n.m.Unlock()

	s := z.sectionForInstance(addr)
	s.Set(implementationKey, impl.Name())

	z.sendEvent(CapabilityAdded{Address: addr, Name: impl.Name()})

	return inst
}

func (z *ZWC) detachInstance(ctx context.Context, inst *Instance, detachType capability.DetachType) {
	if err := inst.impl.Detach(ctx, detachType); err != nil {
		z.logger.LogWarn(ctx, "Error thrown while detaching capability.", logwrap.Datum("Implementation", inst.impl.Name()), logwrap.Err(err))
	}

	inst.n.m.Lock()
	if ep, found := inst.n.endpoint[inst.address.Endpoint]; found {
		delete(ep.instance, inst.address.CommandClass)
	}
	inst.n.m.Unlock()

	z.sectionRemoveInstance(inst.address)
	z.sendEvent(CapabilityRemoved{Address: inst.address, Name: inst.impl.Name()})
}

func (z *ZWC) nodeVersion(nodeID uint8, cc frame.CommandClass) (uint8, bool) {
	v, found := z.sectionForCommandClass(nodeID, cc).Int(versionKey)
	return uint8(v), found
}

func (z *ZWC) setNodeVersion(nodeID uint8, cc frame.CommandClass, version uint8) {
	z.sectionForCommandClass(nodeID, cc).Set(versionKey, int(version))
}
