package zwc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/retry"
	"github.com/shimmeringbee/zwc/capability"
	"github.com/shimmeringbee/zwc/capability/factory"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/frame"
	"github.com/shimmeringbee/zwc/rules"
)

const InterviewQueueSize = 50
const InterviewConcurrency = 4
const MaximumInterviewTime = 1 * time.Minute
const DefaultNetworkTimeout = 3000 * time.Millisecond
const DefaultNetworkRetries = 5

// Version command class, used to negotiate per class versions.
const (
	versionCommandClassGet    uint8 = 0x13
	versionCommandClassReport uint8 = 0x14
)

// Manufacturer Specific command class, used to fetch node identity.
const (
	manufacturerSpecificGet    uint8 = 0x04
	manufacturerSpecificReport uint8 = 0x05
)

// Multi Channel command class, used to discover endpoints.
const (
	multiChannelEndPointGet      uint8 = 0x07
	multiChannelEndPointReport   uint8 = 0x08
	multiChannelCapabilityGet    uint8 = 0x09
	multiChannelCapabilityReport uint8 = 0x0a
)

func (z *ZWC) startInterviewWorkers() {
	z.interviewQueue = make(chan *node, InterviewQueueSize)
	z.interviewStop = make(chan struct{}, InterviewConcurrency)

	for i := 0; i < InterviewConcurrency; i++ {
		go z.interviewLoop()
	}
}

func (z *ZWC) stopInterviewWorkers() {
	// Stop on a never started controller has no workers to drain.
	if z.interviewStop == nil {
		return
	}

	for i := 0; i < InterviewConcurrency; i++ {
		z.interviewStop <- struct{}{}
	}
}

// Interview queues a fresh interview of a known node, as if it had just
// announced itself.
func (z *ZWC) Interview(ctx context.Context, nodeID uint8) error {
	n := z.getNode(nodeID)
	if n == nil {
		return fmt.Errorf("unknown node: %d", nodeID)
	}

	return z.queueInterview(ctx, n)
}

func (z *ZWC) queueInterview(ctx context.Context, n *node) error {
	select {
	case z.interviewQueue <- n:
		z.logger.LogInfo(ctx, "Queued interview request.", logwrap.Datum("NodeID", n.nodeID))

		n.m.Lock()
		n.interviewing = true
		n.m.Unlock()

		z.sendEvent(NodeInterviewStart{NodeID: n.nodeID})

		return nil
	default:
		z.logger.LogError(ctx, "Failed to queue interview request.", logwrap.Datum("NodeID", n.nodeID))
		return fmt.Errorf("unable to queue interview request, likely channel full")
	}
}

func (z *ZWC) interviewLoop() {
	for {
		select {
		case <-z.interviewStop:
			return
		case n := <-z.interviewQueue:
			err := z.interviewNode(n)

			n.m.Lock()
			n.interviewing = false
			n.m.Unlock()

			if err != nil {
				z.sendEvent(NodeInterviewFailure{NodeID: n.nodeID, Error: err})
			} else {
				z.sendEvent(NodeInterviewSuccess{NodeID: n.nodeID})
			}
		}
	}
}

func (z *ZWC) interviewNode(n *node) error {
	if !n.interviewSem.TryAcquire(1) {
		z.logger.LogWarn(z.ctx, "Interview already in progress for node.", logwrap.Datum("NodeID", n.nodeID))
		return nil
	}
	defer n.interviewSem.Release(1)

	pctx, cancel := context.WithTimeout(z.ctx, MaximumInterviewTime)
	defer cancel()

	ctx, segmentEnd := z.logger.Segment(pctx, "Node interview.", logwrap.Datum("NodeID", n.nodeID))
	defer segmentEnd()

	z.logger.LogTrace(ctx, "Negotiating command class versions.")
	if err := z.interviewVersions(ctx, n); err != nil {
		z.logger.LogError(ctx, "Failed to negotiate command class versions.", logwrap.Err(err))
		return err
	}

	z.logger.LogTrace(ctx, "Fetching node identity.")
	if err := z.interviewIdentity(ctx, n); err != nil {
		z.logger.LogError(ctx, "Failed to fetch node identity.", logwrap.Err(err))
		return err
	}

	z.logger.LogTrace(ctx, "Discovering endpoints.")
	if err := z.interviewEndpoints(ctx, n); err != nil {
		z.logger.LogError(ctx, "Failed to discover endpoints.", logwrap.Err(err))
		return err
	}

	z.logger.LogTrace(ctx, "Applying capability rules.")
	if err := z.applyRules(ctx, n); err != nil {
		z.logger.LogError(ctx, "Failed to apply capability rules.", logwrap.Err(err))
		return err
	}

	return nil
}

// interviewVersions asks the node which version of each advertised
// command class it implements. Nodes without the Version command class
// are recorded at version 1 throughout.
func (z *ZWC) interviewVersions(pctx context.Context, n *node) error {
	n.m.RLock()
	commandClasses := n.commandClasses
	supportsVersion := n._supportsCommandClass(frame.CommandClassVersion)
	n.m.RUnlock()

	if !supportsVersion {
		for _, cc := range commandClasses {
			z.setNodeVersion(n.nodeID, cc, 1)
		}

		return nil
	}

	addr := communicator.Address{NodeID: n.nodeID, Endpoint: 0, CommandClass: frame.CommandClassVersion}

	for _, cc := range commandClasses {
		cc := cc

		err := retry.Retry(pctx, DefaultNetworkTimeout, DefaultNetworkRetries, func(ctx context.Context) error {
			req := frame.New(frame.CommandClassVersion, versionCommandClassGet, []byte{uint8(cc)})

			reply, err := z.exchange(ctx, addr, req, versionCommandClassReport, func(f frame.Frame) bool {
				return len(f.Payload) > 0 && frame.CommandClass(f.Payload[0]) == cc
			})
			if err != nil {
				return err
			}

			if err := reply.Require(2); err != nil {
				return err
			}

			version := reply.Payload[1]
			if version == 0 {
				version = 1
			}

			z.setNodeVersion(n.nodeID, cc, version)
			z.logger.LogDebug(ctx, "Negotiated command class version.", logwrap.Datum("CommandClass", cc.String()), logwrap.Datum("Version", version))

			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (z *ZWC) interviewIdentity(pctx context.Context, n *node) error {
	n.m.RLock()
	supported := n._supportsCommandClass(frame.CommandClassManufacturerSpecific)
	n.m.RUnlock()

	if !supported {
		return nil
	}

	addr := communicator.Address{NodeID: n.nodeID, Endpoint: 0, CommandClass: frame.CommandClassManufacturerSpecific}

	return retry.Retry(pctx, DefaultNetworkTimeout, DefaultNetworkRetries, func(ctx context.Context) error {
		req := frame.New(frame.CommandClassManufacturerSpecific, manufacturerSpecificGet, nil)

		reply, err := z.exchange(ctx, addr, req, manufacturerSpecificReport, nil)
		if err != nil {
			return err
		}

		if err := reply.Require(6); err != nil {
			return err
		}

		n.m.Lock()
		n.identity = identity{
			manufacturerID: uint16(reply.Payload[0])<<8 | uint16(reply.Payload[1]),
			productTypeID:  uint16(reply.Payload[2])<<8 | uint16(reply.Payload[3]),
			productID:      uint16(reply.Payload[4])<<8 | uint16(reply.Payload[5]),
		}
		z.logger.LogDebug(ctx, "Fetched node identity.", logwrap.Datum("ManufacturerID", n.identity.manufacturerID), logwrap.Datum("ProductTypeID", n.identity.productTypeID), logwrap.Datum("ProductID", n.identity.productID))
		n.m.Unlock()

		z.saveNodeIdentity(n)

		return nil
	})
}

// interviewEndpoints establishes the root endpoint from the node
// information frame, and walks Multi Channel endpoints when the node
// advertises them.
func (z *ZWC) interviewEndpoints(pctx context.Context, n *node) error {
	n.m.Lock()
	root := n._endpoint(0)
	root.generic = n.generic
	root.specific = n.specific
	root.commandClasses = n.commandClasses
	supportsMultiChannel := n._supportsCommandClass(frame.CommandClassMultiChannel)
	n.m.Unlock()

	z.saveEndpoint(n, root)

	if !supportsMultiChannel {
		return nil
	}

	addr := communicator.Address{NodeID: n.nodeID, Endpoint: 0, CommandClass: frame.CommandClassMultiChannel}

	var endpointCount uint8

	err := retry.Retry(pctx, DefaultNetworkTimeout, DefaultNetworkRetries, func(ctx context.Context) error {
		req := frame.New(frame.CommandClassMultiChannel, multiChannelEndPointGet, nil)

		reply, err := z.exchange(ctx, addr, req, multiChannelEndPointReport, nil)
		if err != nil {
			return err
		}

		if err := reply.Require(2); err != nil {
			return err
		}

		endpointCount = reply.Payload[1] & 0x7f
		z.logger.LogDebug(ctx, "Discovered endpoint count.", logwrap.Datum("Endpoints", endpointCount))

		return nil
	})
	if err != nil {
		return err
	}

	for endpointID := uint8(1); endpointID <= endpointCount; endpointID++ {
		endpointID := endpointID

		err := retry.Retry(pctx, DefaultNetworkTimeout, DefaultNetworkRetries, func(ctx context.Context) error {
			req := frame.New(frame.CommandClassMultiChannel, multiChannelCapabilityGet, []byte{endpointID})

			reply, err := z.exchange(ctx, addr, req, multiChannelCapabilityReport, func(f frame.Frame) bool {
				return len(f.Payload) > 0 && f.Payload[0]&0x7f == endpointID
			})
			if err != nil {
				return err
			}

			if err := reply.Require(3); err != nil {
				return err
			}

			var commandClasses []frame.CommandClass
			for _, b := range reply.Payload[3:] {
				cc := frame.CommandClass(b)
				if cc == frame.CommandClassMark {
					break
				}
				commandClasses = append(commandClasses, cc)
			}

			n.m.Lock()
			ep := n._endpoint(endpointID)
			ep.generic = reply.Payload[1]
			ep.specific = reply.Payload[2]
			ep.commandClasses = commandClasses
			n.m.Unlock()

			z.saveEndpoint(n, ep)
			z.logger.LogDebug(ctx, "Discovered endpoint capability.", logwrap.Datum("Endpoint", endpointID), logwrap.Datum("CommandClasses", len(commandClasses)))

			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// EndpointSetting names the endpoint a matched capability binds to. The
// embedded rulesets set it to Self, binding to the endpoint whose
// advertisement matched; a custom ruleset may pin it elsewhere, for nodes
// that advertise on a channel but answer on the root.
const EndpointSetting = "Endpoint"

// applyRules evaluates the rule engine for every endpoint, then reconciles
// attached capability implementations with the combined result: newly
// matched capabilities attach, ones whose rules no longer match detach.
func (z *ZWC) applyRules(ctx context.Context, n *node) error {
	input := z.ruleInput(n)

	var endpointIDs []int
	for id := range input.Endpoint {
		endpointIDs = append(endpointIDs, id)
	}
	sort.Ints(endpointIDs)

	desired := map[communicator.Address]string{}

	for _, endpointID := range endpointIDs {
		input.Self = endpointID

		output, err := z.ruleEngine.Execute(input)
		if err != nil {
			return fmt.Errorf("rule execution: endpoint %d: %w", endpointID, err)
		}

		for implName, settings := range output.Capabilities {
			cc, known := factory.Mapping[implName]
			if !known {
				z.logger.LogWarn(ctx, "Rules requested unknown capability implementation.", logwrap.Datum("Implementation", implName))
				continue
			}

			target := endpointID
			if v, found := settings.Int(EndpointSetting); found {
				target = v
			}

			desired[communicator.Address{NodeID: n.nodeID, Endpoint: uint8(target), CommandClass: cc}] = implName
		}
	}

	for _, inst := range z.getInstances(n) {
		if _, wanted := desired[inst.address]; !wanted {
			z.logger.LogInfo(ctx, "Detaching capability no longer matched by rules.", logwrap.Datum("Implementation", inst.impl.Name()), logwrap.Datum("Endpoint", inst.address.Endpoint))
			z.detachInstance(ctx, inst, capability.NoLongerSupported)
		}
	}

	for addr, implName := range desired {
		z.interviewCapability(ctx, n, addr, implName)
	}

	return nil
}

func (z *ZWC) interviewCapability(ctx context.Context, n *node, addr communicator.Address, implName string) {
	inst := z.getInstance(addr)
	if inst == nil {
		impl := factory.Create(implName)
		if impl == nil {
			z.logger.LogError(ctx, "Could not construct capability implementation.", logwrap.Datum("Implementation", implName))
			return
		}

		inst = z.attachInstance(n, addr.Endpoint, impl)
		z.logger.LogInfo(ctx, "Attached capability implementation.", logwrap.Datum("Implementation", implName), logwrap.Datum("Endpoint", addr.Endpoint))
	}

	// A failed step abandons this capability's bring up only; the
	// other capabilities on the node still interview.
	for _, step := range inst.impl.InterviewSteps() {
		sctx, send := z.logger.Segment(ctx, "Capability interview step.", logwrap.Datum("Implementation", implName), logwrap.Datum("Step", step.Name))

		if err := retry.Retry(sctx, DefaultNetworkTimeout, DefaultNetworkRetries, step.Run); err != nil {
			z.logger.LogError(sctx, "Capability interview step failed.", logwrap.Datum("Step", step.Name), logwrap.Err(err))
			send()
			break
		}

		send()
	}
}

func (z *ZWC) ruleInput(n *node) rules.Input {
	n.m.RLock()
	defer n.m.RUnlock()

	input := rules.Input{
		Node: rules.InputNode{
			ManufacturerID: n.identity.manufacturerID,
			ProductTypeID:  n.identity.productTypeID,
			ProductID:      n.identity.productID,
			Listening:      n.listening,
		},
		Endpoint: map[int]rules.InputEndpoint{},
	}

	for id, ep := range n.endpoint {
		var classes []int
		for _, cc := range ep.commandClasses {
			classes = append(classes, int(cc))
		}

		input.Endpoint[int(id)] = rules.InputEndpoint{
			ID:             int(id),
			Generic:        int(ep.generic),
			Specific:       int(ep.specific),
			CommandClasses: classes,
		}
	}

	return input
}
