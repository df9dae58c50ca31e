package zwc

import (
	"strconv"

	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
)

const (
	implementationKey = "implementation"
	dataSection       = "data"
	versionKey        = "Version"

	listeningKey = "Listening"
	genericKey   = "Generic"
	specificKey  = "Specific"

	manufacturerIDKey = "ManufacturerID"
	productTypeIDKey  = "ProductTypeID"
	productIDKey      = "ProductID"
)

func (z *ZWC) sectionRemoveNode(nodeID uint8) bool {
	return z.section.Section("node").SectionDelete(strconv.Itoa(int(nodeID)))
}

func (z *ZWC) sectionForNode(nodeID uint8) persistence.Section {
	return z.section.Section("node", strconv.Itoa(int(nodeID)))
}

func (z *ZWC) nodeListFromPersistence() []uint8 {
	var nodeList []uint8

	for _, k := range z.section.Section("node").SectionKeys() {
		if id, err := strconv.Atoi(k); err == nil {
			nodeList = append(nodeList, uint8(id))
		}
	}

	return nodeList
}

func (z *ZWC) sectionForCommandClass(nodeID uint8, cc frame.CommandClass) persistence.Section {
	return z.sectionForNode(nodeID).Section("class", strconv.Itoa(int(cc)))
}

func (z *ZWC) sectionForEndpoint(nodeID uint8, endpointID uint8) persistence.Section {
	return z.sectionForNode(nodeID).Section("endpoint", strconv.Itoa(int(endpointID)))
}

func (z *ZWC) endpointListFromPersistence(nodeID uint8) []uint8 {
	var endpointList []uint8

	for _, k := range z.sectionForNode(nodeID).Section("endpoint").SectionKeys() {
		if id, err := strconv.Atoi(k); err == nil {
			endpointList = append(endpointList, uint8(id))
		}
	}

	return endpointList
}

func (z *ZWC) sectionRemoveInstance(addr communicator.Address) bool {
	return z.sectionForEndpoint(addr.NodeID, addr.Endpoint).Section("capability").SectionDelete(strconv.Itoa(int(addr.CommandClass)))
}

func (z *ZWC) sectionForInstance(addr communicator.Address) persistence.Section {
	return z.sectionForEndpoint(addr.NodeID, addr.Endpoint).Section("capability", strconv.Itoa(int(addr.CommandClass)))
}

// saveNode mirrors a node's advertised details into persistence.
func (z *ZWC) saveNode(n *node) {
	n.m.RLock()
	defer n.m.RUnlock()

	s := z.sectionForNode(n.nodeID)
	s.Set(listeningKey, n.listening)
	s.Set(genericKey, int(n.generic))
	s.Set(specificKey, int(n.specific))

	for _, cc := range n.commandClasses {
		z.sectionForCommandClass(n.nodeID, cc)
	}
}

func (z *ZWC) saveNodeIdentity(n *node) {
	n.m.RLock()
	defer n.m.RUnlock()

	s := z.sectionForNode(n.nodeID)
	s.Set(manufacturerIDKey, int(n.identity.manufacturerID))
	s.Set(productTypeIDKey, int(n.identity.productTypeID))
	s.Set(productIDKey, int(n.identity.productID))
}

func (z *ZWC) saveEndpoint(n *node, ep *endpoint) {
	s := z.sectionForEndpoint(n.nodeID, ep.id)
	s.Set(genericKey, int(ep.generic))
	s.Set(specificKey, int(ep.specific))

	for _, cc := range ep.commandClasses {
		s.Section("class", strconv.Itoa(int(cc)))
	}
}
