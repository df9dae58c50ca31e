package frame

import (
	"errors"
	"fmt"
)

// MaximumPayloadLength is the most parameter bytes a single command may
// carry once the command class and command identifiers are accounted for.
const MaximumPayloadLength = 255

// ErrMalformedFrame is returned when a frame, or a command payload within a
// frame, is shorter than the minimum the command requires. It is always
// raised before any field has been read.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the application layer unit exchanged with a node: a command class
// identifier, a command identifier within that class and the command's
// parameter bytes. Frames are values; New and Parse copy the payload so a
// constructed frame is never aliased to its source buffer.
type Frame struct {
	CommandClass CommandClass
	CommandID    uint8
	Payload      []byte
}

func New(cc CommandClass, commandID uint8, payload []byte) Frame {
	return Frame{
		CommandClass: cc,
		CommandID:    commandID,
		Payload:      append([]byte(nil), payload...),
	}
}

// Parse decodes the wire form [class][command][parameters...].
func Parse(data []byte) (Frame, error) {
	if len(data) < 2 {
		return Frame{}, fmt.Errorf("%w: %d bytes, need at least 2", ErrMalformedFrame, len(data))
	}

	if len(data)-2 > MaximumPayloadLength {
		return Frame{}, fmt.Errorf("%w: payload of %d bytes exceeds maximum", ErrMalformedFrame, len(data)-2)
	}

	return New(CommandClass(data[0]), data[1], data[2:]), nil
}

// Marshal returns the wire form of the frame.
func (f Frame) Marshal() []byte {
	out := make([]byte, 0, 2+len(f.Payload))
	out = append(out, byte(f.CommandClass), f.CommandID)
	return append(out, f.Payload...)
}

// Require errs if the payload holds fewer than n bytes. Decoders call this
// before touching any field so a short frame never yields a partial read.
func (f Frame) Require(n int) error {
	if len(f.Payload) < n {
		return fmt.Errorf("%w: %s command 0x%02x payload %d bytes, need %d", ErrMalformedFrame, f.CommandClass, f.CommandID, len(f.Payload), n)
	}

	return nil
}

func (f Frame) String() string {
	return fmt.Sprintf("%s[0x%02x]%x", f.CommandClass, f.CommandID, f.Payload)
}
