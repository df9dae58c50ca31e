package zwc

import (
	"context"
	"strconv"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/zwc/capability/factory"
	"github.com/shimmeringbee/zwc/frame"
)

func (z *ZWC) providerLoad() {
	ctx, end := z.logger.Segment(z.ctx, "Loading persistence.")
	defer end()

	for _, nodeID := range z.nodeListFromPersistence() {
		z.providerLoadNode(ctx, nodeID)
	}
}

func (z *ZWC) providerLoadNode(pctx context.Context, nodeID uint8) {
	ctx, end := z.logger.Segment(pctx, "Loading node data.", logwrap.Datum("NodeID", nodeID))
	defer end()

	n, _ := z.createNode(nodeID)
	s := z.sectionForNode(nodeID)

	n.m.Lock()
	n.listening, _ = s.Bool(listeningKey)

	if generic, found := s.Int(genericKey); found {
		n.generic = uint8(generic)
	}
	if specific, found := s.Int(specificKey); found {
		n.specific = uint8(specific)
	}

	if mfr, found := s.Int(manufacturerIDKey); found {
		n.identity.manufacturerID = uint16(mfr)
		productType, _ := s.Int(productTypeIDKey)
		productID, _ := s.Int(productIDKey)
		n.identity.productTypeID = uint16(productType)
		n.identity.productID = uint16(productID)
	}

	for _, k := range s.Section("class").SectionKeys() {
		if cc, err := strconv.Atoi(k); err == nil {
			n.commandClasses = append(n.commandClasses, frame.CommandClass(cc))
		}
	}
	n.m.Unlock()

	for _, endpointID := range z.endpointListFromPersistence(nodeID) {
		z.providerLoadEndpoint(ctx, n, endpointID)
	}
}

func (z *ZWC) providerLoadEndpoint(pctx context.Context, n *node, endpointID uint8) {
	ctx, end := z.logger.Segment(pctx, "Loading endpoint data.", logwrap.Datum("Endpoint", endpointID))
	defer end()

	s := z.sectionForEndpoint(n.nodeID, endpointID)

	n.m.Lock()
	ep := n._endpoint(endpointID)

	if generic, found := s.Int(genericKey); found {
		ep.generic = uint8(generic)
	}
	if specific, found := s.Int(specificKey); found {
		ep.specific = uint8(specific)
	}

	for _, k := range s.Section("class").SectionKeys() {
		if cc, err := strconv.Atoi(k); err == nil {
			ep.commandClasses = append(ep.commandClasses, frame.CommandClass(cc))
		}
	}
	n.m.Unlock()

	capSection := s.Section("capability")

	for _, ccKey := range capSection.SectionKeys() {
		cctx, cend := z.logger.Segment(ctx, "Loading capability data.", logwrap.Datum("CommandClass", ccKey))

		cSection := capSection.Section(ccKey)

		if implName, ok := cSection.String(implementationKey); ok {
			if impl := factory.Create(implName); impl == nil {
				z.logger.LogError(cctx, "Could not find capability implementation.", logwrap.Datum("Implementation", implName))
			} else {
				z.attachInstance(n, endpointID, impl)
				z.logger.LogInfo(cctx, "Attached capability from persistence.", logwrap.Datum("Implementation", implName))
			}
		}

		cend()
	}
}
