// Package serial implements the Transport interface over a Z-Wave serial
// API adapter, handling link framing, acknowledgements and multi channel
// encapsulation so the core only sees application frames.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/zwc"
	"github.com/shimmeringbee/zwc/frame"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 115200

	EventQueueSize = 50

	// SendAttempts bounds the ACK retry loop on the serial link.
	SendAttempts      = 5
	AckTimeout        = 1600 * time.Millisecond
	ResponseTimeout   = 5 * time.Second
	TransmitTimeout   = 10 * time.Second
	RetransmitBackoff = 100 * time.Millisecond
)

var _ zwc.Transport = (*Transport)(nil)

const (
	messageZWGetNodeProtocolInfo uint8 = 0x41

	transmitOptionACK       uint8 = 0x01
	transmitOptionAutoRoute uint8 = 0x04
	transmitOptionExplore   uint8 = 0x20

	transmitCompleteOK uint8 = 0x00

	applicationUpdateNodeInfoReceived uint8 = 0x84
	applicationUpdateNodeAdded        uint8 = 0x40
	applicationUpdateNodeRemoved      uint8 = 0x20

	protocolInfoListening uint8 = 0x80

	multiChannelCmdEncap uint8 = 0x0d
)

var (
	ErrSendQueueFull = errors.New("adapter send queue full")
	ErrNoAck         = errors.New("adapter did not acknowledge")
	ErrTransmitFail  = errors.New("transmit to node failed")
)

// Transport drives a serial API adapter. Construct with Open or, for an
// already opened device, New; Start before use.
type Transport struct {
	device io.ReadWriteCloser
	logger logwrap.Logger

	ctx       context.Context
	ctxCancel func()

	events chan any

	writeMutex   *sync.Mutex
	requestMutex *sync.Mutex
	acks         chan uint8
	responses    chan *Packet

	callbackSeq     chan uint8
	transmitMutex   *sync.Mutex
	transmitWaiters map[uint8]chan uint8
}

// Open opens the named serial device and wraps it in a Transport.
func Open(device string) (*Transport, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: DefaultBaudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial device: %w", err)
	}

	return New(port), nil
}

// New wraps an opened serial device. Exposed separately so tests can
// substitute an in memory pipe for real hardware.
func New(device io.ReadWriteCloser) *Transport {
	return &Transport{
		device:          device,
		logger:          logwrap.New(discard.Discard()),
		events:          make(chan any, EventQueueSize),
		writeMutex:      &sync.Mutex{},
		requestMutex:    &sync.Mutex{},
		acks:            make(chan uint8, 1),
		responses:       make(chan *Packet, 1),
		callbackSeq:     makeCallbackSequence(),
		transmitMutex:   &sync.Mutex{},
		transmitWaiters: map[uint8]chan uint8{},
	}
}

func (t *Transport) WithLogWrapLogger(logger logwrap.Logger) {
	t.logger = logger
}

func makeCallbackSequence() chan uint8 {
	seq := make(chan uint8, 255)

	for i := 1; i <= 255; i++ {
		seq <- uint8(i)
	}

	return seq
}

// Start begins reading the serial link and announces the nodes the
// adapter already knows about.
func (t *Transport) Start(pctx context.Context) error {
	t.ctx, t.ctxCancel = context.WithCancel(pctx)

	go t.readLoop()

	nodes, err := t.initialNodeList(t.ctx)
	if err != nil {
		t.ctxCancel()
		return fmt.Errorf("initial node list: %w", err)
	}

	for _, nodeID := range nodes {
		go t.announceNode(t.ctx, nodeID)
	}

	return nil
}

// Stop tears down the read loop and closes the serial device.
func (t *Transport) Stop() {
	if t.ctxCancel != nil {
		t.ctxCancel()
	}

	_ = t.device.Close()
}

func (t *Transport) ReadEvent(ctx context.Context) (any, error) {
	select {
	case e := <-t.events:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) sendEvent(e any) {
	select {
	case t.events <- e:
	case <-t.ctx.Done():
	}
}

// Send transmits one application frame to a node, encapsulating for the
// endpoint if it is not the root. It returns once the adapter reports
// the transmit outcome.
func (t *Transport) Send(ctx context.Context, nodeID uint8, endpoint uint8, data []byte) error {
	if endpoint != 0 {
		data = encapsulate(endpoint, data)
	}

	callbackID := <-t.callbackSeq
	defer func() { t.callbackSeq <- callbackID }()

	status := make(chan uint8, 1)
	t.transmitMutex.Lock()
	t.transmitWaiters[callbackID] = status
	t.transmitMutex.Unlock()

	defer func() {
		t.transmitMutex.Lock()
		delete(t.transmitWaiters, callbackID)
		t.transmitMutex.Unlock()
	}()

	body := make([]byte, 0, 4+len(data))
	body = append(body, nodeID, uint8(len(data)))
	body = append(body, data...)
	body = append(body, transmitOptionACK|transmitOptionAutoRoute|transmitOptionExplore, callbackID)

	resp, err := t.request(ctx, &Packet{
		Preamble:    PreambleSOF,
		PacketType:  PacketTypeRequest,
		MessageType: MessageZWSendData,
		Body:        body,
	})
	if err != nil {
		return err
	}

	if len(resp.Body) < 1 || resp.Body[0] == 0 {
		return ErrSendQueueFull
	}

	select {
	case s := <-status:
		if s != transmitCompleteOK {
			return fmt.Errorf("%w: status 0x%02x", ErrTransmitFail, s)
		}
		return nil
	case <-time.After(TransmitTimeout):
		return fmt.Errorf("%w: no transmit callback", ErrTransmitFail)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// encapsulate wraps an application frame in multi channel encapsulation
// addressed to the destination endpoint, sourced from the root.
func encapsulate(endpoint uint8, data []byte) []byte {
	out := make([]byte, 0, 4+len(data))
	out = append(out, uint8(frame.CommandClassMultiChannel), multiChannelCmdEncap, 0x00, endpoint)
	return append(out, data...)
}

// request performs one blocking serial API exchange, retransmitting
// until the adapter acknowledges and then awaiting the matching
// response. Exchanges are serialized; the adapter handles one at a time.
func (t *Transport) request(ctx context.Context, p *Packet) (*Packet, error) {
	t.requestMutex.Lock()
	defer t.requestMutex.Unlock()

	data, err := p.Marshal()
	if err != nil {
		return nil, err
	}

	// Stale link traffic from an abandoned exchange must not satisfy
	// this one.
	t.drain()

	acked := false

	for attempt := 0; attempt < SendAttempts && !acked; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(RetransmitBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := t.write(data); err != nil {
			return nil, err
		}

		select {
		case preamble := <-t.acks:
			if preamble == PreambleACK {
				acked = true
			}
		case <-time.After(AckTimeout):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !acked {
		return nil, ErrNoAck
	}

	for {
		select {
		case resp := <-t.responses:
			if resp.MessageType != p.MessageType {
				t.logger.LogWarn(ctx, "Discarding mismatched response.", logwrap.Datum("MessageType", resp.MessageType))
				continue
			}
			return resp, nil
		case <-time.After(ResponseTimeout):
			return nil, fmt.Errorf("timeout awaiting response: message type 0x%02x", p.MessageType)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *Transport) drain() {
	for {
		select {
		case <-t.acks:
		case <-t.responses:
		default:
			return
		}
	}
}

func (t *Transport) write(data []byte) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	for len(data) > 0 {
		n, err := t.device.Write(data)
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		data = data[n:]
	}

	return nil
}

func (t *Transport) readLoop() {
	parser := &Parser{}
	buf := make([]byte, 256)

	for {
		n, err := t.device.Read(buf)
		if err != nil {
			if t.ctx.Err() == nil {
				t.logger.LogError(t.ctx, "Serial read failed, stopping.", logwrap.Err(err))
			}
			return
		}

		for _, b := range buf[:n] {
			packet, err := parser.Parse(b)
			if err != nil {
				t.logger.LogTrace(t.ctx, "Discarding serial noise.", logwrap.Err(err))
				continue
			}

			if packet == nil {
				continue
			}

			t.handlePacket(packet)
		}
	}
}

func (t *Transport) handlePacket(p *Packet) {
	switch p.Preamble {
	case PreambleACK, PreambleNAK, PreambleCAN:
		select {
		case t.acks <- p.Preamble:
		default:
		}
		return
	}

	// SOF packets are acknowledged immediately, before processing.
	if err := t.write([]byte{PreambleACK}); err != nil {
		t.logger.LogError(t.ctx, "Failed to acknowledge packet.", logwrap.Err(err))
	}

	if p.PacketType == PacketTypeResponse {
		select {
		case t.responses <- p:
		default:
			t.logger.LogWarn(t.ctx, "Discarding unexpected response.", logwrap.Datum("MessageType", p.MessageType))
		}
		return
	}

	switch p.MessageType {
	case MessageZWSendData:
		t.handleTransmitCallback(p)
	case MessageApplicationCommandHandler:
		t.handleApplicationCommand(p)
	case MessageZWApplicationUpdate:
		t.handleApplicationUpdate(p)
	default:
		t.logger.LogDebug(t.ctx, "Ignoring unhandled callback.", logwrap.Datum("MessageType", p.MessageType))
	}
}

func (t *Transport) handleTransmitCallback(p *Packet) {
	if len(p.Body) < 2 {
		return
	}

	callbackID := p.Body[0]
	txStatus := p.Body[1]

	t.transmitMutex.Lock()
	waiter, found := t.transmitWaiters[callbackID]
	t.transmitMutex.Unlock()

	if !found {
		t.logger.LogDebug(t.ctx, "Transmit callback with no waiter.", logwrap.Datum("CallbackID", callbackID))
		return
	}

	select {
	case waiter <- txStatus:
	default:
	}
}

// handleApplicationCommand turns an inbound application command into a
// frame event, stripping multi channel encapsulation so the event
// carries the node's source endpoint.
func (t *Transport) handleApplicationCommand(p *Packet) {
	if len(p.Body) < 3 {
		t.logger.LogWarn(t.ctx, "Discarding truncated application command.")
		return
	}

	nodeID := p.Body[1]
	length := int(p.Body[2])

	if len(p.Body) < 3+length || length < 2 {
		t.logger.LogWarn(t.ctx, "Discarding malformed application command.", logwrap.Datum("NodeID", nodeID))
		return
	}

	data := p.Body[3 : 3+length]
	endpoint := uint8(0)

	if frame.CommandClass(data[0]) == frame.CommandClassMultiChannel && data[1] == multiChannelCmdEncap {
		if len(data) < 6 {
			t.logger.LogWarn(t.ctx, "Discarding truncated encapsulation.", logwrap.Datum("NodeID", nodeID))
			return
		}

		endpoint = data[2] & 0x7f
		data = data[4:]
	}

	t.sendEvent(zwc.NodeIncomingFrameEvent{
		NodeID:   nodeID,
		Endpoint: endpoint,
		Data:     append([]byte(nil), data...),
	})
}

func (t *Transport) handleApplicationUpdate(p *Packet) {
	if len(p.Body) < 2 {
		return
	}

	status := p.Body[0]
	nodeID := p.Body[1]

	switch status {
	case applicationUpdateNodeInfoReceived:
		if len(p.Body) < 6 {
			t.logger.LogWarn(t.ctx, "Discarding truncated node information.", logwrap.Datum("NodeID", nodeID))
			return
		}

		generic := p.Body[3]
		specific := p.Body[4]
		classes := supportedClasses(p.Body[5:])

		go t.announceNodeInformation(t.ctx, nodeID, generic, specific, classes)

	case applicationUpdateNodeAdded:
		go t.announceNode(t.ctx, nodeID)

	case applicationUpdateNodeRemoved:
		t.sendEvent(zwc.NodeRemovedEvent{NodeID: nodeID})
	}
}

// supportedClasses returns the supported command classes from a node
// information frame; classes after the mark are controlled, not
// supported, and are dropped.
func supportedClasses(data []byte) []frame.CommandClass {
	var classes []frame.CommandClass

	for _, b := range data {
		cc := frame.CommandClass(b)
		if cc == frame.CommandClassMark {
			break
		}
		classes = append(classes, cc)
	}

	return classes
}

// announceNode emits a node added event from the adapter's protocol
// information, then asks the node for its information frame so a richer
// announcement can follow.
func (t *Transport) announceNode(ctx context.Context, nodeID uint8) {
	listening, generic, specific, err := t.nodeProtocolInfo(ctx, nodeID)
	if err != nil {
		t.logger.LogWarn(ctx, "Failed to query node protocol information.", logwrap.Datum("NodeID", nodeID), logwrap.Err(err))
		return
	}

	t.sendEvent(zwc.NodeAddedEvent{
		NodeID:    nodeID,
		Listening: listening,
		Generic:   generic,
		Specific:  specific,
	})

	if err := t.requestNodeInformation(ctx, nodeID); err != nil {
		t.logger.LogDebug(ctx, "Failed to request node information.", logwrap.Datum("NodeID", nodeID), logwrap.Err(err))
	}
}

// announceNodeInformation emits a node added event carrying the command
// classes from a received node information frame.
func (t *Transport) announceNodeInformation(ctx context.Context, nodeID uint8, generic uint8, specific uint8, classes []frame.CommandClass) {
	listening, _, _, err := t.nodeProtocolInfo(ctx, nodeID)
	if err != nil {
		t.logger.LogWarn(ctx, "Failed to query node protocol information.", logwrap.Datum("NodeID", nodeID), logwrap.Err(err))
		listening = true
	}

	t.sendEvent(zwc.NodeAddedEvent{
		NodeID:         nodeID,
		Listening:      listening,
		Generic:        generic,
		Specific:       specific,
		CommandClasses: classes,
	})
}

func (t *Transport) nodeProtocolInfo(ctx context.Context, nodeID uint8) (listening bool, generic uint8, specific uint8, err error) {
	resp, err := t.request(ctx, &Packet{
		Preamble:    PreambleSOF,
		PacketType:  PacketTypeRequest,
		MessageType: messageZWGetNodeProtocolInfo,
		Body:        []byte{nodeID},
	})
	if err != nil {
		return false, 0, 0, err
	}

	if len(resp.Body) < 6 {
		return false, 0, 0, fmt.Errorf("truncated protocol information: %d bytes", len(resp.Body))
	}

	return resp.Body[0]&protocolInfoListening != 0, resp.Body[4], resp.Body[5], nil
}

func (t *Transport) requestNodeInformation(ctx context.Context, nodeID uint8) error {
	resp, err := t.request(ctx, &Packet{
		Preamble:    PreambleSOF,
		PacketType:  PacketTypeRequest,
		MessageType: MessageZWRequestNodeInfo,
		Body:        []byte{nodeID},
	})
	if err != nil {
		return err
	}

	if len(resp.Body) < 1 || resp.Body[0] == 0 {
		return ErrSendQueueFull
	}

	return nil
}

// initialNodeList asks the adapter which nodes it already knows; the
// reply carries a bitmask of 232 possible node identifiers.
func (t *Transport) initialNodeList(ctx context.Context) ([]uint8, error) {
	resp, err := t.request(ctx, &Packet{
		Preamble:    PreambleSOF,
		PacketType:  PacketTypeRequest,
		MessageType: MessageSerialAPIGetInitData,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Body) < 3 {
		return nil, fmt.Errorf("truncated initial data: %d bytes", len(resp.Body))
	}

	maskLength := int(resp.Body[2])
	if len(resp.Body) < 3+maskLength {
		return nil, fmt.Errorf("truncated node bitmask: %d bytes", len(resp.Body))
	}

	var nodes []uint8

	for i, b := range resp.Body[3 : 3+maskLength] {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				nodes = append(nodes, uint8(1+i*8+bit))
			}
		}
	}

	return nodes, nil
}
