package zwc

import (
	"context"
	"errors"
	"sync"

	"github.com/shimmeringbee/callbacks"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/zwc/communicator"
	"github.com/shimmeringbee/zwc/rules"
)

const EventQueueSize = 100

type ZWC struct {
	transport Transport
	logger    logwrap.Logger
	section   persistence.Section

	ctx       context.Context
	ctxCancel context.CancelFunc

	comm       *communicator.Communicator
	ruleEngine *rules.Engine
	callbacks  callbacks.AdderCaller

	events chan any

	nodeLock *sync.RWMutex
	node     map[uint8]*node

	interviewQueue chan *node
	interviewStop  chan struct{}
}

func New(s persistence.Section, t Transport) *ZWC {
	ctx, cancel := context.WithCancel(context.Background())

	z := &ZWC{
		transport: t,
		logger:    logwrap.New(discard.Discard()),
		section:   s,

		ctx:       ctx,
		ctxCancel: cancel,

		comm:       communicator.New(),
		ruleEngine: rules.New(),
		callbacks:  callbacks.Create(),

		events: make(chan any, EventQueueSize),

		nodeLock: &sync.RWMutex{},
		node:     make(map[uint8]*node),
	}

	z.callbacks.Add(z.nodeAddedCallback)

	return z
}

// Start loads rules and persisted state, then begins consuming transport
// events and servicing the interview queue.
func (z *ZWC) Start() error {
	if len(z.ruleEngine.RuleSets) == 0 {
		if err := z.ruleEngine.LoadFS(rules.Embedded); err != nil {
			return err
		}
	}

	if err := z.ruleEngine.CompileRules(); err != nil {
		return err
	}

	z.providerLoad()

	z.startInterviewWorkers()
	go z.transportLoop()

	return nil
}

func (z *ZWC) Stop() error {
	z.stopInterviewWorkers()
	z.ctxCancel()
	return nil
}

// RuleEngine exposes the engine so callers can layer their own rulesets
// over the embedded defaults before Start.
func (z *ZWC) RuleEngine() *rules.Engine {
	return z.ruleEngine
}

func (z *ZWC) transportLoop() {
	for {
		event, err := z.transport.ReadEvent(z.ctx)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				z.logger.LogInfo(z.ctx, "Transport loop terminating due to cancelled context.")
			} else {
				z.logger.LogError(z.ctx, "Failed to read event from transport.", logwrap.Err(err))
			}
			return
		}

		switch e := event.(type) {
		case NodeAddedEvent:
			z.receiveNodeAddedEvent(e)
		case NodeRemovedEvent:
			z.receiveNodeRemovedEvent(e)
		case NodeIncomingFrameEvent:
			z.receiveNodeIncomingFrameEvent(e)
		}
	}
}

func (z *ZWC) receiveNodeAddedEvent(e NodeAddedEvent) {
	z.logger.LogInfo(z.ctx, "Node has joined network.", logwrap.Datum("NodeID", e.NodeID))

	n, created := z.createNode(e.NodeID)

	n.m.Lock()
	n.listening = e.Listening
	n.generic = e.Generic
	n.specific = e.Specific
	n.commandClasses = e.CommandClasses
	n.m.Unlock()

	z.saveNode(n)

	if created {
		z.sendEvent(NodeAdded{NodeID: e.NodeID})
	}

	if err := z.callbacks.Call(z.ctx, nodeJoin{node: n}); err != nil {
		z.logger.LogError(z.ctx, "Failed calling node join callbacks.", logwrap.Datum("NodeID", e.NodeID), logwrap.Err(err))
	}
}

func (z *ZWC) receiveNodeRemovedEvent(e NodeRemovedEvent) {
	z.logger.LogInfo(z.ctx, "Node has left network.", logwrap.Datum("NodeID", e.NodeID))

	if n := z.getNode(e.NodeID); n != nil {
		z.removeNode(z.ctx, n)
	} else {
		z.logger.LogWarn(z.ctx, "Received leave for unknown node.", logwrap.Datum("NodeID", e.NodeID))
	}
}

func (z *ZWC) receiveNodeIncomingFrameEvent(e NodeIncomingFrameEvent) {
	z.handleInbound(z.ctx, e.NodeID, e.Endpoint, e.Data)
}

func (z *ZWC) nodeAddedCallback(ctx context.Context, join nodeJoin) error {
	return z.queueInterview(ctx, join.node)
}

type nodeJoin struct {
	node *node
}
