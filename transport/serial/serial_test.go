package serial

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shimmeringbee/zwc"
	"github.com/shimmeringbee/zwc/frame"
	"github.com/stretchr/testify/assert"
)

type pipeDevice struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d *pipeDevice) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *pipeDevice) Write(p []byte) (int, error) { return d.w.Write(p) }

func (d *pipeDevice) Close() error {
	_ = d.r.Close()
	return d.w.Close()
}

// startAdapter runs a scripted adapter on the far end of an in memory
// serial link: it acknowledges every packet and replies with whatever
// handle returns for it.
func startAdapter(handle func(*Packet) []*Packet) (io.ReadWriteCloser, func()) {
	deviceRead, adapterWrite := io.Pipe()
	adapterRead, deviceWrite := io.Pipe()

	device := &pipeDevice{r: deviceRead, w: deviceWrite}

	go func() {
		parser := &Parser{}
		buf := make([]byte, 256)

		for {
			n, err := adapterRead.Read(buf)
			if err != nil {
				return
			}

			for _, b := range buf[:n] {
				p, _ := parser.Parse(b)
				if p == nil || p.Preamble != PreambleSOF {
					continue
				}

				if _, err := adapterWrite.Write([]byte{PreambleACK}); err != nil {
					return
				}

				for _, reply := range handle(p) {
					data, err := reply.Marshal()
					if err != nil {
						return
					}
					if _, err := adapterWrite.Write(data); err != nil {
						return
					}
				}
			}
		}
	}()

	return device, func() {
		_ = device.Close()
		_ = adapterWrite.Close()
		_ = adapterRead.Close()
	}
}

func startTransport(handle func(*Packet) []*Packet) (*Transport, func()) {
	device, stopAdapter := startAdapter(handle)

	t := New(device)
	t.ctx, t.ctxCancel = context.WithCancel(context.Background())
	go t.readLoop()

	return t, func() {
		t.ctxCancel()
		stopAdapter()
	}
}

func sendDataReplies(p *Packet) []*Packet {
	status := uint8(transmitCompleteOK)
	callbackID := p.Body[len(p.Body)-1]

	return []*Packet{
		{Preamble: PreambleSOF, PacketType: PacketTypeResponse, MessageType: MessageZWSendData, Body: []byte{0x01}},
		{Preamble: PreambleSOF, PacketType: PacketTypeRequest, MessageType: MessageZWSendData, Body: []byte{callbackID, status}},
	}
}

func TestTransport_Send(t *testing.T) {
	t.Run("sends a frame and resolves on the transmit callback", func(t *testing.T) {
		var sent *Packet

		tr, stop := startTransport(func(p *Packet) []*Packet {
			if p.MessageType == MessageZWSendData {
				sent = p
				return sendDataReplies(p)
			}
			return nil
		})
		defer stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := tr.Send(ctx, 5, 0, []byte{0x25, 0x01, 0xff})
		assert.NoError(t, err)

		assert.NotNil(t, sent)
		assert.Equal(t, []byte{0x05, 0x03, 0x25, 0x01, 0xff, 0x25, 0x01}, sent.Body)
	})

	t.Run("encapsulates sends to a non root endpoint", func(t *testing.T) {
		var sent *Packet

		tr, stop := startTransport(func(p *Packet) []*Packet {
			if p.MessageType == MessageZWSendData {
				sent = p
				return sendDataReplies(p)
			}
			return nil
		})
		defer stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := tr.Send(ctx, 5, 2, []byte{0x25, 0x01, 0xff})
		assert.NoError(t, err)

		assert.NotNil(t, sent)
		assert.Equal(t, []byte{0x05, 0x07, 0x60, 0x0d, 0x00, 0x02, 0x25, 0x01, 0xff, 0x25, 0x02}, sent.Body)
	})

	t.Run("surfaces a failed transmit status", func(t *testing.T) {
		tr, stop := startTransport(func(p *Packet) []*Packet {
			if p.MessageType == MessageZWSendData {
				callbackID := p.Body[len(p.Body)-1]
				return []*Packet{
					{Preamble: PreambleSOF, PacketType: PacketTypeResponse, MessageType: MessageZWSendData, Body: []byte{0x01}},
					{Preamble: PreambleSOF, PacketType: PacketTypeRequest, MessageType: MessageZWSendData, Body: []byte{callbackID, 0x01}},
				}
			}
			return nil
		})
		defer stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := tr.Send(ctx, 5, 0, []byte{0x25, 0x02})
		assert.ErrorIs(t, err, ErrTransmitFail)
	})

	t.Run("surfaces a rejected send", func(t *testing.T) {
		tr, stop := startTransport(func(p *Packet) []*Packet {
			if p.MessageType == MessageZWSendData {
				return []*Packet{
					{Preamble: PreambleSOF, PacketType: PacketTypeResponse, MessageType: MessageZWSendData, Body: []byte{0x00}},
				}
			}
			return nil
		})
		defer stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		err := tr.Send(ctx, 5, 0, []byte{0x25, 0x02})
		assert.ErrorIs(t, err, ErrSendQueueFull)
	})
}

func TestTransport_IncomingFrames(t *testing.T) {
	t.Run("application commands become frame events", func(t *testing.T) {
		tr, stop := startTransport(func(p *Packet) []*Packet { return nil })
		defer stop()

		tr.handlePacket(&Packet{
			Preamble:    PreambleSOF,
			PacketType:  PacketTypeRequest,
			MessageType: MessageApplicationCommandHandler,
			Body:        []byte{0x00, 0x09, 0x03, 0x25, 0x03, 0xff},
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		e, err := tr.ReadEvent(ctx)
		assert.NoError(t, err)
		assert.Equal(t, zwc.NodeIncomingFrameEvent{NodeID: 9, Endpoint: 0, Data: []byte{0x25, 0x03, 0xff}}, e)
	})

	t.Run("encapsulated commands are stripped to their source endpoint", func(t *testing.T) {
		tr, stop := startTransport(func(p *Packet) []*Packet { return nil })
		defer stop()

		tr.handlePacket(&Packet{
			Preamble:    PreambleSOF,
			PacketType:  PacketTypeRequest,
			MessageType: MessageApplicationCommandHandler,
			Body:        []byte{0x00, 0x09, 0x07, 0x60, 0x0d, 0x02, 0x00, 0x25, 0x03, 0xff},
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		e, err := tr.ReadEvent(ctx)
		assert.NoError(t, err)
		assert.Equal(t, zwc.NodeIncomingFrameEvent{NodeID: 9, Endpoint: 2, Data: []byte{0x25, 0x03, 0xff}}, e)
	})

	t.Run("truncated application commands are dropped", func(t *testing.T) {
		tr, stop := startTransport(func(p *Packet) []*Packet { return nil })
		defer stop()

		tr.handlePacket(&Packet{
			Preamble:    PreambleSOF,
			PacketType:  PacketTypeRequest,
			MessageType: MessageApplicationCommandHandler,
			Body:        []byte{0x00, 0x09, 0x08, 0x25},
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := tr.ReadEvent(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestTransport_Start(t *testing.T) {
	t.Run("announces nodes the adapter knows, then enriches them from their node information", func(t *testing.T) {
		mask := make([]byte, 29)
		mask[0] = 0x02 // node 2

		handle := func(p *Packet) []*Packet {
			switch p.MessageType {
			case MessageSerialAPIGetInitData:
				body := append([]byte{0x05, 0x00, 29}, mask...)
				body = append(body, 0x00, 0x00)
				return []*Packet{{Preamble: PreambleSOF, PacketType: PacketTypeResponse, MessageType: MessageSerialAPIGetInitData, Body: body}}
			case messageZWGetNodeProtocolInfo:
				return []*Packet{{Preamble: PreambleSOF, PacketType: PacketTypeResponse, MessageType: messageZWGetNodeProtocolInfo, Body: []byte{0x80, 0x00, 0x00, 0x04, 0x10, 0x01}}}
			case MessageZWRequestNodeInfo:
				return []*Packet{
					{Preamble: PreambleSOF, PacketType: PacketTypeResponse, MessageType: MessageZWRequestNodeInfo, Body: []byte{0x01}},
					{Preamble: PreambleSOF, PacketType: PacketTypeRequest, MessageType: MessageZWApplicationUpdate, Body: []byte{0x84, 0x02, 0x06, 0x04, 0x10, 0x01, 0x25, 0x86, 0xef, 0x20}},
				}
			}
			return nil
		}

		device, stopAdapter := startAdapter(handle)
		defer stopAdapter()

		tr := New(device)
		defer tr.Stop()

		err := tr.Start(context.Background())
		assert.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		e, err := tr.ReadEvent(ctx)
		assert.NoError(t, err)
		assert.Equal(t, zwc.NodeAddedEvent{NodeID: 2, Listening: true, Generic: 0x10, Specific: 0x01}, e)

		e, err = tr.ReadEvent(ctx)
		assert.NoError(t, err)
		assert.Equal(t, zwc.NodeAddedEvent{NodeID: 2, Listening: true, Generic: 0x10, Specific: 0x01, CommandClasses: []frame.CommandClass{frame.CommandClassSwitchBinary, frame.CommandClassVersion}}, e)
	})

	t.Run("node removal updates become events", func(t *testing.T) {
		tr, stop := startTransport(func(p *Packet) []*Packet { return nil })
		defer stop()

		tr.handlePacket(&Packet{
			Preamble:    PreambleSOF,
			PacketType:  PacketTypeRequest,
			MessageType: MessageZWApplicationUpdate,
			Body:        []byte{0x20, 0x07},
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		e, err := tr.ReadEvent(ctx)
		assert.NoError(t, err)
		assert.Equal(t, zwc.NodeRemovedEvent{NodeID: 7}, e)
	})
}
